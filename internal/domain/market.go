package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// MarketRegime 市场状态（粗粒度分类，用于偏置阈值）
type MarketRegime string

const (
	RegimeBull     MarketRegime = "BULL"
	RegimeBear     MarketRegime = "BEAR"
	RegimeVolatile MarketRegime = "VOLATILE"
	RegimeNeutral  MarketRegime = "NEUTRAL"
)

// ParseRegime 解析外部传入的市场状态字符串（大小写不敏感）。
// 无法识别时返回 NEUTRAL，ok=false 由调用方决定是否告警。
func ParseRegime(s string) (MarketRegime, bool) {
	switch MarketRegime(strings.ToUpper(strings.TrimSpace(s))) {
	case RegimeBull:
		return RegimeBull, true
	case RegimeBear:
		return RegimeBear, true
	case RegimeVolatile:
		return RegimeVolatile, true
	case RegimeNeutral:
		return RegimeNeutral, true
	}
	return RegimeNeutral, false
}

// DefaultVolatility 缺省波动率（2%）
const DefaultVolatility = 0.02

// MarketContext 市场上下文
type MarketContext struct {
	Regime     string  `json:"regime" yaml:"regime"`
	Volatility float64 `json:"volatility" yaml:"volatility"`
}

// RiskLevel 风险偏好
type RiskLevel string

const (
	RiskConservative RiskLevel = "CONSERVATIVE"
	RiskModerate     RiskLevel = "MODERATE"
	RiskAggressive   RiskLevel = "AGGRESSIVE"
)

// ParseRiskLevel 未知值一律按 CONSERVATIVE 处理
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case RiskConservative:
		return RiskConservative, true
	case RiskModerate:
		return RiskModerate, true
	case RiskAggressive:
		return RiskAggressive, true
	}
	return RiskConservative, false
}

// BacktestPerformance 历史策略表现（可选输入）
type BacktestPerformance struct {
	SharpeRatio float64 `json:"sharpe_ratio" yaml:"sharpe_ratio"`
	WinRate     float64 `json:"win_rate" yaml:"win_rate"`
	MaxDrawdown float64 `json:"max_drawdown" yaml:"max_drawdown"`
}

// RawPrice 行情收盘价原始值：数字或带千分位的字符串（例如 "1,234.50"）
type RawPrice struct {
	raw string
}

// PriceFromFloat 从数值构造
func PriceFromFloat(v float64) RawPrice {
	return RawPrice{raw: strconv.FormatFloat(v, 'f', -1, 64)}
}

// PriceFromString 从字符串构造（不做校验，解析延迟到 Decimal）
func PriceFromString(s string) RawPrice {
	return RawPrice{raw: s}
}

func (p RawPrice) String() string { return p.raw }

// Decimal 解析价格；去掉千分位逗号和空白
func (p RawPrice) Decimal() (decimal.Decimal, error) {
	s := strings.ReplaceAll(strings.TrimSpace(p.raw), ",", "")
	if s == "" {
		return decimal.Zero, errors.New("empty price")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse price %q", p.raw)
	}
	return d, nil
}

func (p RawPrice) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.raw)
}

func (p *RawPrice) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		p.raw = s
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		p.raw = ""
		return nil
	}
	p.raw = string(b)
	return nil
}

// Quote 单个标的的最新行情
type Quote struct {
	Symbol string   `json:"symbol"`
	Close  RawPrice `json:"close"`
}
