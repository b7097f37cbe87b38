package risk

import (
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/betbot/adaptrade/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time           { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestController(t *testing.T, initial float64, opts ...Option) (*Controller, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}
	opts = append([]Option{WithLogger(quietLogger()), WithClock(clk.now)}, opts...)
	c, err := NewController(Config{}, initial, opts...)
	require.NoError(t, err)
	return c, clk
}

func pnl(v float64) *float64 { return &v }

func losses(pattern ...bool) []domain.Trade {
	out := make([]domain.Trade, len(pattern))
	for i, loss := range pattern {
		out[i] = domain.Trade{Symbol: "600519", PnL: 100}
		if loss {
			out[i].PnL = -100
		}
	}
	return out
}

type recordingSink struct {
	events []Event
	err    error
}

func (s *recordingSink) RecordRiskEvent(ev Event) error {
	s.events = append(s.events, ev)
	return s.err
}

func TestCheck_ContinueWhenHealthy(t *testing.T) {
	c, _ := newTestController(t, 1_000_000)

	d := c.Check(Snapshot{Equity: 1_000_000})
	assert.Equal(t, ActionContinue, d.Action)
	assert.Equal(t, 1.0, d.PositionAdjustmentFactor)
	assert.Empty(t, c.Events())
	assert.Equal(t, 1_000_000.0, c.State().PeakEquity)
}

func TestCheck_DrawdownHaltLifecycle(t *testing.T) {
	c, clk := newTestController(t, 1_000_000)
	require.Equal(t, ActionContinue, c.Check(Snapshot{Equity: 1_000_000}).Action)

	d := c.Check(Snapshot{Equity: 840_000})
	assert.Equal(t, ActionCloseAll, d.Action)
	assert.InDelta(t, -0.16, d.Metadata["drawdown"].(float64), 1e-9)

	st := c.State()
	require.True(t, st.TradingHalted)
	require.NotNil(t, st.HaltUntil)
	assert.Equal(t, clk.t.Add(24*time.Hour), *st.HaltUntil)
	assert.True(t, c.Halted(clk.t))
	assert.ErrorIs(t, c.AllowTrading(), ErrCircuitBreakerOpen)

	// 熔断窗口内任何权益都返回 STOP_TRADING
	clk.advance(time.Hour)
	d = c.Check(Snapshot{Equity: 2_000_000})
	assert.Equal(t, ActionStopTrading, d.Action)
	assert.Equal(t, haltedReason, d.Reason)
	assert.Equal(t, 1_000_000.0, c.State().PeakEquity, "halted check must not touch peak")

	clk.advance(24 * time.Hour)
	d = c.Check(Snapshot{Equity: 990_000})
	assert.Equal(t, ActionContinue, d.Action)
	assert.False(t, c.State().TradingHalted)
	assert.NoError(t, c.AllowTrading())

	events := c.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventMaxDrawdown, events[0].EventType)
	assert.Equal(t, SeverityCritical, events[0].Severity)
	assert.Equal(t, ActionCloseAll, events[0].ActionTaken)
	assert.InDelta(t, 840_000, events[0].Metrics["current_equity"], 1e-9)
}

func TestCheck_HaltBoundaryIsInclusive(t *testing.T) {
	c, clk := newTestController(t, 1_000_000)
	c.Check(Snapshot{Equity: 1_000_000})
	c.Check(Snapshot{Equity: 800_000})

	clk.advance(24 * time.Hour)
	assert.Equal(t, ActionStopTrading, c.Check(Snapshot{Equity: 1_000_000}).Action)

	clk.advance(time.Nanosecond)
	assert.Equal(t, ActionContinue, c.Check(Snapshot{Equity: 1_000_000}).Action)
}

func TestCheck_DrawdownReduce(t *testing.T) {
	c, _ := newTestController(t, 1_000_000)
	c.Check(Snapshot{Equity: 1_000_000})

	// 0.8 * 0.15 = 0.12 < 0.13 <= 0.15
	d := c.Check(Snapshot{Equity: 870_000})
	assert.Equal(t, ActionReducePosition, d.Action)
	assert.Equal(t, 0.5, d.PositionAdjustmentFactor)
	assert.False(t, c.State().TradingHalted)

	// 恰好等于限额不触发熔断
	d = c.Check(Snapshot{Equity: 850_000})
	assert.Equal(t, ActionReducePosition, d.Action)
}

func TestCheck_DailyLossHalt(t *testing.T) {
	c, clk := newTestController(t, 1_000_000)

	d := c.Check(Snapshot{Equity: 968_000, DailyPnL: pnl(-32_000)})
	assert.Equal(t, ActionStopTrading, d.Action)
	assert.InDelta(t, -0.032, d.Metadata["daily_loss_pct"].(float64), 1e-9)

	st := c.State()
	assert.Equal(t, 1, st.ConsecutiveLossDays)
	require.NotNil(t, st.HaltUntil)
	assert.Equal(t, clk.t.Add(6*time.Hour), *st.HaltUntil)

	events := c.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventDailyLoss, events[0].EventType)
	assert.Equal(t, SeverityHigh, events[0].Severity)

	clk.advance(6*time.Hour + time.Minute)
	assert.Equal(t, ActionWarning, c.Check(Snapshot{Equity: 975_000, DailyPnL: pnl(-25_000)}).Action)
}

func TestCheck_DailyLossWarningAndPositiveReset(t *testing.T) {
	c, _ := newTestController(t, 1_000_000)

	// -2.5% < -0.7 * 3% = -2.1%
	d := c.Check(Snapshot{Equity: 1_000_000, DailyPnL: pnl(-25_000)})
	assert.Equal(t, ActionWarning, d.Action)

	d = c.Check(Snapshot{Equity: 1_010_000, DailyPnL: pnl(10_000)})
	assert.Equal(t, ActionContinue, d.Action)
	st := c.State()
	assert.Equal(t, 1_010_000.0, st.DailyStartEquity)
	assert.Equal(t, 0, st.ConsecutiveLossDays)

	// 小额亏损不动作
	assert.Equal(t, ActionContinue, c.Check(Snapshot{Equity: 1_005_000, DailyPnL: pnl(-5_000)}).Action)
}

func TestCheck_ConsecutiveLosses(t *testing.T) {
	tests := []struct {
		name   string
		trades []domain.Trade
		action Action
		factor float64
		streak int
	}{
		{"no streak", losses(true, true, false), ActionContinue, 1, 0},
		{"two losses", losses(false, true, true), ActionContinue, 1, 2},
		{"three losses", losses(false, true, true, true), ActionReducePosition, 0.5, 3},
		{"four losses", losses(true, true, true, true), ActionReducePosition, 0.5, 4},
		{"five losses", losses(false, true, true, true, true, true), ActionReducePosition, 0.3, 5},
		{"lookback caps streak", losses(true, true, true, true, true, true, true, true, true, true, true, true), ActionReducePosition, 0.3, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestController(t, 1_000_000)
			d := c.Check(Snapshot{Equity: 1_000_000, RecentTrades: tt.trades})
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.factor, d.PositionAdjustmentFactor)
			assert.Equal(t, tt.streak, c.State().ConsecutiveLosingTrades)
		})
	}
}

func TestCheck_Concentration(t *testing.T) {
	c, _ := newTestController(t, 1_000_000)

	d := c.Check(Snapshot{
		Equity: 1_000_000,
		Positions: map[string]domain.Position{
			"000001": {AvgCost: 10, Quantity: 1000},
			"600519": {AvgCost: 1500, Quantity: 300, MarketValue: 450_000},
			"300750": {AvgCost: 200, Quantity: 2000},
			"000858": {AvgCost: 100, Quantity: 3500},
		},
	})
	assert.Equal(t, ActionWarning, d.Action)
	assert.Equal(t, "000858", d.Metadata["symbol"])
	assert.Equal(t, []string{"000858", "300750", "600519"}, d.Metadata["offenders"])
	assert.Contains(t, d.Reason, "000858")

	events := c.Events()
	require.Len(t, events, 1)
	assert.Equal(t, SeverityLow, events[0].Severity)
}

func TestCheck_RuleOrder(t *testing.T) {
	c, _ := newTestController(t, 1_000_000)
	c.Check(Snapshot{Equity: 1_000_000})

	// 回撤减仓优先于日亏和连亏
	d := c.Check(Snapshot{
		Equity:       870_000,
		DailyPnL:     pnl(-40_000),
		RecentTrades: losses(true, true, true, true, true),
	})
	assert.Equal(t, ActionReducePosition, d.Action)
	assert.Equal(t, 0.5, d.PositionAdjustmentFactor)
	assert.Equal(t, 0, c.State().ConsecutiveLossDays)
}

func TestCheck_FailClosed(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
	}{
		{"nan equity", Snapshot{Equity: math.NaN()}},
		{"inf equity", Snapshot{Equity: math.Inf(1)}},
		{"zero equity without peak", Snapshot{Equity: 0}},
		{"negative equity without peak", Snapshot{Equity: -5}},
		{"nan daily pnl", Snapshot{Equity: 1_000_000, DailyPnL: pnl(math.NaN())}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			c, _ := newTestController(t, 1_000_000, WithEventSink(sink))

			d := c.Check(tt.snap)
			assert.Equal(t, ActionStopTrading, d.Action)
			assert.Contains(t, d.Reason, "Risk evaluation failed")

			require.Len(t, sink.events, 1)
			assert.Equal(t, EventEvaluationFailure, sink.events[0].EventType)
			assert.Equal(t, SeverityCritical, sink.events[0].Severity)
			for k, v := range sink.events[0].Metrics {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), k)
			}
		})
	}
}

func TestCheck_SinkErrorsDoNotChangeDecision(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	c, _ := newTestController(t, 1_000_000, WithEventSink(sink))
	c.Check(Snapshot{Equity: 1_000_000})

	d := c.Check(Snapshot{Equity: 800_000})
	assert.Equal(t, ActionCloseAll, d.Action)
	assert.Len(t, sink.events, 1)
	assert.Len(t, c.Events(), 1)
}

func TestCheck_ZeroInitialEquityUsesFirstSnapshot(t *testing.T) {
	c, _ := newTestController(t, 0)
	d := c.Check(Snapshot{Equity: 500_000, DailyPnL: pnl(-20_000)})
	assert.Equal(t, ActionStopTrading, d.Action)
	assert.Equal(t, 500_000.0, c.State().DailyStartEquity)
}

func TestOperatorControls(t *testing.T) {
	c, clk := newTestController(t, 1_000_000)

	c.HaltUntil(clk.t.Add(2*time.Hour), "exchange maintenance")
	assert.Equal(t, ActionStopTrading, c.Check(Snapshot{Equity: 1_000_000}).Action)
	assert.Equal(t, EventManualHalt, c.Events()[0].EventType)

	c.Resume()
	assert.Equal(t, ActionContinue, c.Check(Snapshot{Equity: 1_000_000}).Action)

	require.Error(t, c.BeginTradingDay(0))
	require.NoError(t, c.BeginTradingDay(1_200_000))
	assert.Equal(t, 1_200_000.0, c.State().DailyStartEquity)

	c.SetLimits(0.05, -1)
	cfg := c.Config()
	assert.Equal(t, 0.05, cfg.MaxDrawdown)
	assert.Equal(t, 0.03, cfg.MaxDailyLoss)
	assert.Equal(t, ActionCloseAll, c.Check(Snapshot{Equity: 940_000}).Action)
}

func TestStateRestore(t *testing.T) {
	c, clk := newTestController(t, 1_000_000)
	c.Check(Snapshot{Equity: 1_000_000})
	c.Check(Snapshot{Equity: 840_000})
	st := c.State()

	restored, clk2 := newTestController(t, 0)
	clk2.t = clk.t.Add(time.Hour)
	restored.Restore(st)

	assert.Equal(t, st, restored.State())
	assert.Equal(t, ActionStopTrading, restored.Check(Snapshot{Equity: 1_000_000}).Action)
}

func TestConfigValidate(t *testing.T) {
	_, err := NewController(Config{MaxDrawdown: 1.5}, 0)
	assert.Error(t, err)
	_, err = NewController(Config{MaxConsecutiveLosses: 20}, 0)
	assert.Error(t, err, "lookback shorter than streak limit")
	_, err = NewController(Config{}, math.NaN())
	assert.Error(t, err)
}

func TestSetLimits_OnlyTightensConfigured(t *testing.T) {
	c, _ := newTestController(t, 1_000_000)

	// 宽于配置值：保持 0.15 / 0.03
	c.SetLimits(0.20, 0.05)
	cfg := c.Config()
	assert.Equal(t, 0.15, cfg.MaxDrawdown)
	assert.Equal(t, 0.03, cfg.MaxDailyLoss)

	c.SetLimits(0.10, 0.02)
	cfg = c.Config()
	assert.Equal(t, 0.10, cfg.MaxDrawdown)
	assert.Equal(t, 0.02, cfg.MaxDailyLoss)

	// 自适应限额放宽时回到配置值
	c.SetLimits(0.20, 0)
	cfg = c.Config()
	assert.Equal(t, 0.15, cfg.MaxDrawdown)
	assert.Equal(t, 0.03, cfg.MaxDailyLoss)

	c.Check(Snapshot{Equity: 1_000_000})
	assert.Equal(t, ActionCloseAll, c.Check(Snapshot{Equity: 840_000}).Action)
}
