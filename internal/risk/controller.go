// Package risk 账户级风控状态机：回撤、日亏、连亏、集中度检查与定时熔断。
package risk

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const haltedReason = "Trading halted due to previous risk breach"

// Controller 风控器。
// 状态：ACTIVE / HALTED(until)。熔断不依赖定时器，每次 Check 用注入的时钟惰性判断是否到期。
type Controller struct {
	cfg  Config
	// base 构造时配置的限额，自适应限额只能收紧不能放宽
	base Config
	log  *logrus.Entry
	now  func() time.Time
	sink EventSink

	mu                      sync.Mutex
	peakEquity              float64
	dailyStartEquity        float64
	consecutiveLossDays     int
	consecutiveLosingTrades int
	breaker                 circuitBreaker
	events                  []Event
}

// Option Controller 构造选项
type Option func(*Controller)

// WithLogger 指定日志实例
func WithLogger(l *logrus.Entry) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock 指定时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithEventSink 风控事件同步写入外部审计
func WithEventSink(s EventSink) Option {
	return func(c *Controller) {
		c.sink = s
	}
}

// NewController 创建风控器。initialEquity 作为首个交易日的日初权益；
// 为 0 时在第一次 Check 时取当时权益。
func NewController(cfg Config, initialEquity float64, opts ...Option) (*Controller, error) {
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "风控配置无效")
	}
	if math.IsNaN(initialEquity) || math.IsInf(initialEquity, 0) || initialEquity < 0 {
		return nil, fmt.Errorf("初始权益无效: %v", initialEquity)
	}
	c := &Controller{
		cfg:              cfg,
		base:             cfg,
		log:              logrus.WithField("module", "risk"),
		now:              time.Now,
		dailyStartEquity: initialEquity,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config 返回生效配置
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Check 根据成交后的账户快照给出风控决策。
// 评估过程中的任何错误或 panic 都返回 STOP_TRADING，绝不放行。
func (c *Controller) Check(snap Snapshot) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	d, err := c.evaluateSafe(now, snap)
	if err != nil {
		return c.failClosed(now, snap, err)
	}
	return d
}

func (c *Controller) evaluateSafe(now time.Time, snap Snapshot) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.evaluate(now, snap)
}

func (c *Controller) evaluate(now time.Time, snap Snapshot) (Decision, error) {
	// 1. 熔断窗口内，其它检查一律不跑
	if c.breaker.open(now) {
		return Decision{
			Action:                   ActionStopTrading,
			Reason:                   haltedReason,
			PositionAdjustmentFactor: 1,
			Metadata: map[string]any{
				"halt_until":  c.breaker.until,
				"halt_reason": c.breaker.reason,
			},
		}, nil
	}

	// 2. 熔断到期，恢复 ACTIVE 后继续评估
	if c.breaker.expire(now) {
		c.log.Infof("✅ [Risk] 熔断到期，恢复交易")
	}

	equity := snap.Equity
	if math.IsNaN(equity) || math.IsInf(equity, 0) {
		return Decision{}, fmt.Errorf("权益无效: %v", equity)
	}

	// 3. 峰值
	if equity > c.peakEquity {
		c.peakEquity = equity
		c.consecutiveLossDays = 0
	}
	if c.peakEquity <= 0 {
		return Decision{}, fmt.Errorf("峰值权益无效: %v", c.peakEquity)
	}
	if c.dailyStartEquity <= 0 {
		c.dailyStartEquity = equity
	}

	// 4. 回撤
	drawdown := (equity - c.peakEquity) / c.peakEquity
	ddMetrics := map[string]float64{
		"current_equity": equity,
		"peak_equity":    c.peakEquity,
		"drawdown":       drawdown,
		"max_drawdown":   c.cfg.MaxDrawdown,
	}
	if math.Abs(drawdown) > c.cfg.MaxDrawdown {
		until := now.Add(c.cfg.DrawdownHalt)
		reason := fmt.Sprintf("Max drawdown exceeded: %.2f%% > %.2f%%", math.Abs(drawdown)*100, c.cfg.MaxDrawdown*100)
		c.breaker.trip(until, reason)
		c.record(now, EventMaxDrawdown, SeverityCritical, reason, ActionCloseAll, ddMetrics)
		return Decision{
			Action:                   ActionCloseAll,
			Reason:                   reason,
			PositionAdjustmentFactor: 1,
			Metadata:                 map[string]any{"drawdown": drawdown, "halt_until": until},
		}, nil
	}
	if math.Abs(drawdown) > c.cfg.DrawdownWarnRatio*c.cfg.MaxDrawdown {
		reason := fmt.Sprintf("Drawdown approaching limit: %.2f%%", math.Abs(drawdown)*100)
		c.record(now, EventDrawdownWarning, SeverityMedium, reason, ActionReducePosition, ddMetrics)
		return Decision{
			Action:                   ActionReducePosition,
			Reason:                   reason,
			PositionAdjustmentFactor: c.cfg.ReduceFactor,
			Metadata:                 map[string]any{"drawdown": drawdown},
		}, nil
	}

	// 5. 日内亏损
	if snap.DailyPnL != nil {
		pnl := *snap.DailyPnL
		if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
			return Decision{}, fmt.Errorf("当日盈亏无效: %v", pnl)
		}
		lossPct := pnl / c.dailyStartEquity
		dlMetrics := map[string]float64{
			"daily_pnl":          pnl,
			"daily_start_equity": c.dailyStartEquity,
			"daily_loss_pct":     lossPct,
			"max_daily_loss":     c.cfg.MaxDailyLoss,
		}
		switch {
		case lossPct < -c.cfg.MaxDailyLoss:
			until := now.Add(c.cfg.DailyLossHalt)
			reason := fmt.Sprintf("Daily loss limit exceeded: %.2f%% > %.2f%%", -lossPct*100, c.cfg.MaxDailyLoss*100)
			c.breaker.trip(until, reason)
			c.consecutiveLossDays++
			dlMetrics["consecutive_loss_days"] = float64(c.consecutiveLossDays)
			c.record(now, EventDailyLoss, SeverityHigh, reason, ActionStopTrading, dlMetrics)
			return Decision{
				Action:                   ActionStopTrading,
				Reason:                   reason,
				PositionAdjustmentFactor: 1,
				Metadata:                 map[string]any{"daily_loss_pct": lossPct, "halt_until": until},
			}, nil
		case lossPct < -c.cfg.DailyLossWarnRatio*c.cfg.MaxDailyLoss:
			reason := fmt.Sprintf("Daily loss approaching limit: %.2f%%", -lossPct*100)
			c.record(now, EventDailyLossWarning, SeverityMedium, reason, ActionWarning, dlMetrics)
			return Decision{
				Action:                   ActionWarning,
				Reason:                   reason,
				PositionAdjustmentFactor: 1,
				Metadata:                 map[string]any{"daily_loss_pct": lossPct},
			}, nil
		case pnl > 0:
			c.dailyStartEquity = equity
			c.consecutiveLossDays = 0
		}
	}

	// 6. 连续亏损
	if len(snap.RecentTrades) > 0 {
		trades := snap.RecentTrades
		if len(trades) > c.cfg.TradeLookback {
			trades = trades[len(trades)-c.cfg.TradeLookback:]
		}
		streak := 0
		for i := len(trades) - 1; i >= 0 && trades[i].IsLoss(); i-- {
			streak++
		}
		c.consecutiveLosingTrades = streak

		if streak >= c.cfg.MaxConsecutiveLosses {
			factor, severity := c.cfg.ReduceFactor, SeverityMedium
			if streak >= c.cfg.MaxConsecutiveLosses+2 {
				factor, severity = c.cfg.SevereReduceFactor, SeverityHigh
			}
			reason := fmt.Sprintf("Consecutive losing trades: %d", streak)
			c.record(now, EventConsecutiveLosses, severity, reason, ActionReducePosition, map[string]float64{
				"consecutive_losses":     float64(streak),
				"max_consecutive_losses": float64(c.cfg.MaxConsecutiveLosses),
				"position_factor":        factor,
			})
			return Decision{
				Action:                   ActionReducePosition,
				Reason:                   reason,
				PositionAdjustmentFactor: factor,
				Metadata:                 map[string]any{"consecutive_losses": streak},
			}, nil
		}
	}

	// 7. 单标的集中度
	if equity > 0 && len(snap.Positions) > 0 {
		symbols := make([]string, 0, len(snap.Positions))
		for s := range snap.Positions {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)

		var offenders []string
		var first float64
		for _, s := range symbols {
			ratio := snap.Positions[s].Value() / equity
			if ratio > c.cfg.MaxSinglePosition {
				if len(offenders) == 0 {
					first = ratio
				}
				offenders = append(offenders, s)
			}
		}
		if len(offenders) > 0 {
			reason := fmt.Sprintf("Position concentration too high: %s %.2f%% > %.2f%%", offenders[0], first*100, c.cfg.MaxSinglePosition*100)
			c.record(now, EventConcentration, SeverityLow, reason, ActionWarning, map[string]float64{
				"position_ratio":      first,
				"max_single_position": c.cfg.MaxSinglePosition,
				"offenders":           float64(len(offenders)),
			})
			return Decision{
				Action:                   ActionWarning,
				Reason:                   reason,
				PositionAdjustmentFactor: 1,
				Metadata:                 map[string]any{"symbol": offenders[0], "offenders": offenders},
			}, nil
		}
	}

	return Decision{
		Action:                   ActionContinue,
		Reason:                   "All risk checks passed",
		PositionAdjustmentFactor: 1,
	}, nil
}

func (c *Controller) failClosed(now time.Time, snap Snapshot, err error) Decision {
	reason := fmt.Sprintf("Risk evaluation failed: %v", err)
	c.log.WithError(err).Errorf("🚨 [Risk] 风控评估失败，停止交易")
	metrics := map[string]float64{"peak_equity": c.peakEquity}
	if !math.IsNaN(snap.Equity) && !math.IsInf(snap.Equity, 0) {
		metrics["current_equity"] = snap.Equity
	}
	c.record(now, EventEvaluationFailure, SeverityCritical, reason, ActionStopTrading, metrics)
	return Decision{
		Action:                   ActionStopTrading,
		Reason:                   reason,
		PositionAdjustmentFactor: 1,
		Metadata:                 map[string]any{"error": err.Error()},
	}
}

// record 追加审计事件并同步给 sink；sink 失败只记日志
func (c *Controller) record(now time.Time, typ string, sev Severity, desc string, action Action, metrics map[string]float64) {
	ev := Event{
		Timestamp:   now,
		EventType:   typ,
		Severity:    sev,
		Description: desc,
		ActionTaken: action,
		Metrics:     metrics,
	}
	c.events = append(c.events, ev)

	entry := c.log.WithFields(logrus.Fields{"event": typ, "severity": sev, "action": action})
	switch sev {
	case SeverityCritical, SeverityHigh:
		entry.Errorf("🛑 [Risk] %s", desc)
	default:
		entry.Warnf("⚠️ [Risk] %s", desc)
	}

	if c.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("风控事件写入审计 panic: %v", r)
		}
	}()
	if err := c.sink.RecordRiskEvent(ev); err != nil {
		c.log.WithError(err).Warn("风控事件写入审计失败")
	}
}

// BeginTradingDay 新交易日：以当前权益作为日初权益
func (c *Controller) BeginTradingDay(equity float64) error {
	if math.IsNaN(equity) || math.IsInf(equity, 0) || equity <= 0 {
		return fmt.Errorf("日初权益无效: %v", equity)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dailyStartEquity = equity
	c.log.Infof("📅 [Risk] 新交易日，日初权益=%.2f", equity)
	return nil
}

// HaltUntil 人工熔断
func (c *Controller) HaltUntil(until time.Time, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if reason == "" {
		reason = "manual halt"
	}
	c.breaker.trip(until, reason)
	c.record(now, EventManualHalt, SeverityHigh, reason, ActionStopTrading, map[string]float64{
		"halt_hours": until.Sub(now).Hours(),
	})
}

// Resume 人工解除熔断
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.breaker.halted {
		c.log.Infof("✅ [Risk] 手动解除熔断（原因: %s）", c.breaker.reason)
	}
	c.breaker.reset()
}

// SetLimits 更新回撤/日亏限额（由自适应参数驱动）。
// 生效值为 min(配置值, 传入值)；越界值忽略，回落到配置值。
func (c *Controller) SetLimits(maxDrawdown, maxDailyLoss float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.MaxDrawdown = tighter(c.base.MaxDrawdown, maxDrawdown)
	c.cfg.MaxDailyLoss = tighter(c.base.MaxDailyLoss, maxDailyLoss)
}

func tighter(configured, adaptive float64) float64 {
	if adaptive > 0 && adaptive < configured {
		return adaptive
	}
	return configured
}

// Halted 在 now 时刻是否处于熔断窗口
func (c *Controller) Halted(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breaker.open(now)
}

// AllowTrading 是否允许新开仓；熔断中返回 ErrCircuitBreakerOpen
func (c *Controller) AllowTrading() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breaker.allow(c.now())
}

// Events 审计事件副本（按发生顺序）
func (c *Controller) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// State 当前状态快照
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		PeakEquity:              c.peakEquity,
		DailyStartEquity:        c.dailyStartEquity,
		ConsecutiveLossDays:     c.consecutiveLossDays,
		ConsecutiveLosingTrades: c.consecutiveLosingTrades,
		TradingHalted:           c.breaker.halted,
		HaltReason:              c.breaker.reason,
	}
	if c.breaker.halted {
		until := c.breaker.until
		st.HaltUntil = &until
	}
	return st
}

// Restore 从持久化状态恢复（进程重启）
func (c *Controller) Restore(st State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peakEquity = st.PeakEquity
	c.dailyStartEquity = st.DailyStartEquity
	c.consecutiveLossDays = st.ConsecutiveLossDays
	c.consecutiveLosingTrades = st.ConsecutiveLosingTrades
	c.breaker.reset()
	if st.TradingHalted && st.HaltUntil != nil {
		c.breaker.trip(*st.HaltUntil, st.HaltReason)
	}
}
