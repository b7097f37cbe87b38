package signals

import (
	"fmt"
	"strings"

	"github.com/betbot/adaptrade/internal/domain"
)

// Config 信号确认引擎配置
type Config struct {
	StrategyName     string  `yaml:"name" json:"name"`
	SequenceLength   int     `yaml:"sequence_length" json:"sequence_length"`       // 最少特征行数
	MinConfirmations int     `yaml:"min_confirmations" json:"min_confirmations"`   // 最少确认数
	MinWeightedScore float64 `yaml:"min_weighted_score" json:"min_weighted_score"` // 最低加权得分
	LotSize          int64   `yaml:"lot_size" json:"lot_size"`                     // 每手股数

	Weights map[domain.SignalType]float64 `yaml:"weights" json:"weights"`

	VolumeRatioMin float64 `yaml:"volume_ratio_min" json:"volume_ratio_min"` // 放量阈值（默认1.2）
	RSILower       float64 `yaml:"rsi_lower" json:"rsi_lower"`               // 超卖线（默认30）
	RSIUpper       float64 `yaml:"rsi_upper" json:"rsi_upper"`               // 超买线（默认70）

	SellMomentum   float64 `yaml:"sell_momentum" json:"sell_momentum"`       // 动量卖出阈值（默认-0.02）
	StopLoss       float64 `yaml:"stop_loss" json:"stop_loss"`               // 止损收益率（默认-0.05）
	MinSellReasons int     `yaml:"min_sell_reasons" json:"min_sell_reasons"` // 卖出最少理由数（默认2）

	FallbackConfidence float64 `yaml:"fallback_confidence" json:"fallback_confidence"` // 模型失败时的降级置信度（默认0.5）
}

// DefaultWeights 各确认来源的默认权重
func DefaultWeights() map[domain.SignalType]float64 {
	return map[domain.SignalType]float64{
		domain.SignalAI:       0.30,
		domain.SignalTrend:    0.25,
		domain.SignalMomentum: 0.20,
		domain.SignalVolume:   0.15,
		domain.SignalRSI:      0.10,
	}
}

// Defaults 填充零值字段
func (c *Config) Defaults() {
	if c.StrategyName == "" {
		c.StrategyName = "adaptive_confirm"
	}
	if c.SequenceLength == 0 {
		c.SequenceLength = 20
	}
	if c.MinConfirmations == 0 {
		c.MinConfirmations = 3
	}
	if c.MinWeightedScore == 0 {
		c.MinWeightedScore = 0.6
	}
	if c.LotSize == 0 {
		c.LotSize = 100
	}
	// 复制一份，避免与调用方共享 map
	weights := DefaultWeights()
	for k, v := range c.Weights {
		weights[domain.SignalType(strings.ToUpper(string(k)))] = v
	}
	c.Weights = weights
	if c.VolumeRatioMin == 0 {
		c.VolumeRatioMin = 1.2
	}
	if c.RSILower == 0 {
		c.RSILower = 30
	}
	if c.RSIUpper == 0 {
		c.RSIUpper = 70
	}
	if c.SellMomentum == 0 {
		c.SellMomentum = -0.02
	}
	if c.StopLoss == 0 {
		c.StopLoss = -0.05
	}
	if c.MinSellReasons == 0 {
		c.MinSellReasons = 2
	}
	if c.FallbackConfidence == 0 {
		c.FallbackConfidence = 0.5
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.SequenceLength <= 0 {
		return fmt.Errorf("sequence_length 必须 > 0")
	}
	if c.MinConfirmations < 1 || c.MinConfirmations > 5 {
		return fmt.Errorf("min_confirmations 必须在 [1, 5] 范围内")
	}
	if c.MinWeightedScore < 0 {
		return fmt.Errorf("min_weighted_score 不能为负数")
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("lot_size 必须 > 0")
	}
	for k, v := range c.Weights {
		if v < 0 {
			return fmt.Errorf("权重 %s 不能为负数", k)
		}
	}
	if c.RSILower >= c.RSIUpper {
		return fmt.Errorf("rsi_lower 必须小于 rsi_upper")
	}
	if c.StopLoss >= 0 {
		return fmt.Errorf("stop_loss 必须 < 0")
	}
	if c.MinSellReasons < 1 {
		return fmt.Errorf("min_sell_reasons 必须 >= 1")
	}
	if c.FallbackConfidence < 0 || c.FallbackConfidence > 1 {
		return fmt.Errorf("fallback_confidence 必须在 [0, 1] 范围内")
	}
	return nil
}
