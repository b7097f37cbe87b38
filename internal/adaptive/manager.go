// Package adaptive 根据市场状态、波动率和历史表现推导信号引擎使用的阈值参数。
package adaptive

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/betbot/adaptrade/internal/domain"
	"github.com/sirupsen/logrus"
)

const (
	highVolatility = 0.04
	lowVolatility  = 0.01

	// 低波动时仓位上限
	lowVolMaxPosition = 0.5
)

// Manager 自适应参数管理器。
// Adjust 是纯计算，唯一副作用是追加历史记录。
type Manager struct {
	log *logrus.Entry
	now func() time.Time

	mu      sync.Mutex
	history []domain.AdaptiveParameters
}

// Option Manager 构造选项
type Option func(*Manager)

// WithLogger 指定日志实例
func WithLogger(l *logrus.Entry) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock 指定时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		log: logrus.WithField("module", "adaptive"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Adjust 计算本周期参数。
// mc 为空时按 NEUTRAL/2% 波动处理；perf 为空时跳过表现反馈。
func (m *Manager) Adjust(mc *domain.MarketContext, perf *domain.BacktestPerformance, level domain.RiskLevel) domain.AdaptiveParameters {
	if _, ok := presets[level]; !ok {
		m.log.Warnf("未知风险偏好 %q，按 CONSERVATIVE 处理", level)
	}
	p := Base(level)

	regime := domain.RegimeNeutral
	volatility := domain.DefaultVolatility
	if mc != nil {
		r, ok := domain.ParseRegime(mc.Regime)
		if !ok && mc.Regime != "" {
			m.log.Warnf("无法识别的市场状态 %q，按 NEUTRAL 处理", mc.Regime)
		}
		regime = r
		if mc.Volatility > 0 && !math.IsInf(mc.Volatility, 0) {
			volatility = mc.Volatility
		}
	}
	p.Regime = regime

	var reasons []string
	reasons = applyRegime(&p, regime, reasons)
	reasons = applyVolatility(&p, volatility, reasons)
	if perf != nil {
		reasons = applyPerformance(&p, *perf, reasons)
	}

	p.ConfidenceThreshold = clamp(p.ConfidenceThreshold, 0, 1)
	p.MaxPosition = clamp(p.MaxPosition, 0.01, 1)

	if len(reasons) == 0 {
		p.Reason = fmt.Sprintf("base parameters for %s", p.RiskLevel)
	} else {
		p.Reason = strings.Join(reasons, "; ")
	}
	p.CreatedAt = m.now()

	m.mu.Lock()
	m.history = append(m.history, p)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"risk_level": p.RiskLevel,
		"regime":     p.Regime,
		"buy":        p.BuyThreshold,
		"sell":       p.SellThreshold,
		"confidence": p.ConfidenceThreshold,
		"max_pos":    p.MaxPosition,
	}).Debugf("参数调整完成: %s", p.Reason)
	return p
}

func applyRegime(p *domain.AdaptiveParameters, regime domain.MarketRegime, reasons []string) []string {
	switch regime {
	case domain.RegimeBull:
		p.BuyThreshold -= 0.01
		p.SellThreshold -= 0.02
		p.ConfidenceThreshold -= 0.10
		p.MaxPosition += 0.10
		reasons = append(reasons, "bull market: loosened entry thresholds and raised position cap")
	case domain.RegimeBear:
		p.BuyThreshold += 0.015
		p.SellThreshold += 0.01
		p.ConfidenceThreshold += 0.15
		p.MaxPosition -= 0.15
		p.MaxDrawdownLimit -= 0.05
		reasons = append(reasons, "bear market: tightened thresholds, cut position cap and drawdown limit")
	case domain.RegimeVolatile:
		p.ConfidenceThreshold += 0.05
		p.MaxPosition -= 0.05
		p.SellThreshold += 0.005
		reasons = append(reasons, "volatile market: raised confidence bar and tightened exits")
	}
	return reasons
}

func applyVolatility(p *domain.AdaptiveParameters, vol float64, reasons []string) []string {
	switch {
	case vol > highVolatility:
		p.MaxPosition *= 0.8
		p.SellThreshold = math.Max(p.SellThreshold, -0.025)
		p.ConfidenceThreshold += 0.05
		reasons = append(reasons, fmt.Sprintf("high volatility %.2f%%: reduced position cap", vol*100))
	case vol < lowVolatility:
		p.MaxPosition = math.Min(p.MaxPosition*1.1, lowVolMaxPosition)
		p.ConfidenceThreshold -= 0.03
		reasons = append(reasons, fmt.Sprintf("low volatility %.2f%%: slightly raised position cap", vol*100))
	}
	return reasons
}

func applyPerformance(p *domain.AdaptiveParameters, perf domain.BacktestPerformance, reasons []string) []string {
	switch {
	case perf.SharpeRatio < 0:
		p.ConfidenceThreshold += 0.15
		p.MaxPosition *= 0.7
		reasons = append(reasons, fmt.Sprintf("negative sharpe %.2f: hard tighten", perf.SharpeRatio))
	case perf.SharpeRatio < 0.5:
		p.ConfidenceThreshold += 0.08
		p.MaxPosition *= 0.85
		reasons = append(reasons, fmt.Sprintf("weak sharpe %.2f: mild tighten", perf.SharpeRatio))
	case perf.SharpeRatio > 1.5:
		p.ConfidenceThreshold = math.Max(0.3, p.ConfidenceThreshold-0.05)
		reasons = append(reasons, fmt.Sprintf("strong sharpe %.2f: relaxed confidence", perf.SharpeRatio))
	}

	switch {
	case perf.WinRate < 0.45:
		p.BuyThreshold += 0.005
		p.ConfidenceThreshold += 0.08
		reasons = append(reasons, fmt.Sprintf("low win rate %.1f%%: raised entry bar", perf.WinRate*100))
	case perf.WinRate > 0.60:
		p.ConfidenceThreshold = math.Max(0.35, p.ConfidenceThreshold-0.03)
		reasons = append(reasons, fmt.Sprintf("high win rate %.1f%%: relaxed confidence", perf.WinRate*100))
	}

	if math.Abs(perf.MaxDrawdown) > 0.15 {
		p.MaxDrawdownLimit = 0.12
		p.DailyLossLimit = 0.025
		p.MaxPosition *= 0.8
		reasons = append(reasons, fmt.Sprintf("historical drawdown %.1f%%: tightened loss limits", math.Abs(perf.MaxDrawdown)*100))
	}
	return reasons
}

// History 参数历史（副本）
func (m *Manager) History() []domain.AdaptiveParameters {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AdaptiveParameters, len(m.history))
	copy(out, m.history)
	return out
}

// Latest 最近一次参数
func (m *Manager) Latest() (domain.AdaptiveParameters, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return domain.AdaptiveParameters{}, false
	}
	return m.history[len(m.history)-1], true
}

// Restore 用持久化的历史替换当前历史
func (m *Manager) Restore(history []domain.AdaptiveParameters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]domain.AdaptiveParameters(nil), history...)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
