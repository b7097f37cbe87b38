// Package pipeline 单账户决策流水线：自适应参数 → 信号确认 → 风控闸门，成交后由 Settle 回灌风控状态。
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/betbot/adaptrade/internal/adaptive"
	"github.com/betbot/adaptrade/internal/domain"
	"github.com/betbot/adaptrade/internal/features"
	"github.com/betbot/adaptrade/internal/metrics"
	"github.com/betbot/adaptrade/internal/predict"
	"github.com/betbot/adaptrade/internal/risk"
	"github.com/betbot/adaptrade/internal/signals"
	"github.com/betbot/adaptrade/pkg/persistence"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// maxHistory 持久化的参数历史上限
const maxHistory = 500

// Journal 审计落库（SQLite 实现见 internal/journal）
type Journal interface {
	RecordParameters(ctx context.Context, tickID string, p domain.AdaptiveParameters) error
	RecordSignals(ctx context.Context, tickID string, sigs []domain.Signal) error
	RecordSkips(ctx context.Context, tickID string, at time.Time, skips []signals.Skip) error
	RecordDecision(ctx context.Context, at time.Time, d risk.Decision) error
}

// Config 流水线配置
type Config struct {
	AccountID      string
	RiskLevel      domain.RiskLevel
	InitialCapital float64
	Strategy       signals.Config
	Risk           risk.Config
}

// TickInput 一个决策周期的输入
type TickInput struct {
	Market      *domain.MarketContext       `json:"market,omitempty"`
	Performance *domain.BacktestPerformance `json:"performance,omitempty"`
	Quotes      map[string]domain.Quote     `json:"quotes"`
	Positions   map[string]domain.Position  `json:"positions"`
	Capital     float64                     `json:"capital"`
	Windows     map[string]*features.Window `json:"-"`
	Symbols     []string                    `json:"symbols,omitempty"`
	// FeatureErrors 特征表解析失败的标的，按 invalid_features 跳过
	FeatureErrors map[string]string `json:"-"`
}

// Blocked 被风控闸门拦截的信号
type Blocked struct {
	Signal domain.Signal `json:"signal"`
	Reason string        `json:"reason"`
}

// TickOutput 一个决策周期的输出
type TickOutput struct {
	TickID     string                    `json:"tick_id"`
	Parameters domain.AdaptiveParameters `json:"parameters"`
	Signals    []domain.Signal           `json:"signals"`
	Skips      []signals.Skip            `json:"skips"`
	Blocked    []Blocked                 `json:"blocked,omitempty"`
	Gate       risk.Action               `json:"gate"`
}

// persistedState 通过 persistence tag 落盘的账户状态
type persistedState struct {
	Risk               *risk.State                 `persistence:"risk_state"`
	History            []domain.AdaptiveParameters `persistence:"parameter_history"`
	LastDecision       *risk.Decision              `persistence:"last_decision"`
	PendingLiquidation bool                        `persistence:"pending_liquidation"`
}

// Pipeline 单账户流水线。同一实例不支持并发 Tick/Settle。
type Pipeline struct {
	cfg     Config
	manager *adaptive.Manager
	engine  *signals.Engine
	ctrl    *risk.Controller

	journal Journal
	store   persistence.Service
	log     *logrus.Entry
	now     func() time.Time

	lastDecision       *risk.Decision
	pendingLiquidation bool
}

// Option 流水线构造选项
type Option func(*Pipeline)

// WithLogger 指定日志实例
func WithLogger(l *logrus.Entry) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithClock 指定时钟（同时注入到各组件）
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithJournal 审计落库；若同时实现 risk.EventSink，风控事件也会写入
func WithJournal(j Journal) Option {
	return func(p *Pipeline) {
		p.journal = j
	}
}

// WithStore 账户状态持久化
func WithStore(s persistence.Service) Option {
	return func(p *Pipeline) {
		p.store = s
	}
}

// New 创建流水线并从持久化存储恢复状态
func New(cfg Config, pred predict.Predictor, opts ...Option) (*Pipeline, error) {
	if cfg.AccountID == "" {
		cfg.AccountID = "default"
	}
	p := &Pipeline{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{"module": "pipeline", "account": cfg.AccountID}),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.manager = adaptive.NewManager(
		adaptive.WithLogger(p.log.WithField("component", "adaptive")),
		adaptive.WithClock(p.now),
	)

	engine, err := signals.NewEngine(cfg.Strategy, pred,
		signals.WithLogger(p.log.WithField("component", "signals")),
		signals.WithClock(p.now),
	)
	if err != nil {
		return nil, err
	}
	p.engine = engine

	riskOpts := []risk.Option{
		risk.WithLogger(p.log.WithField("component", "risk")),
		risk.WithClock(p.now),
	}
	if sink, ok := p.journal.(risk.EventSink); ok {
		riskOpts = append(riskOpts, risk.WithEventSink(sink))
	}
	ctrl, err := risk.NewController(cfg.Risk, cfg.InitialCapital, riskOpts...)
	if err != nil {
		return nil, err
	}
	p.ctrl = ctrl

	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// Controller 风控器（人工熔断/新交易日等操作）
func (p *Pipeline) Controller() *risk.Controller {
	return p.ctrl
}

// Manager 自适应参数管理器
func (p *Pipeline) Manager() *adaptive.Manager {
	return p.manager
}

// LastDecision 最近一次 Settle 的风控决策
func (p *Pipeline) LastDecision() (risk.Decision, bool) {
	if p.lastDecision == nil {
		return risk.Decision{}, false
	}
	return *p.lastDecision, true
}

// Tick 运行一个决策周期：计算参数、生成信号、按上一次风控决策过滤。
// 审计写入失败只记日志；返回的 error 仅表示状态持久化失败，输出仍然有效。
func (p *Pipeline) Tick(ctx context.Context, in TickInput) (TickOutput, error) {
	tickID := uuid.NewString()
	at := p.now()
	log := p.log.WithField("tick", tickID)
	metrics.Ticks.Add(1)

	params := p.manager.Adjust(in.Market, in.Performance, p.cfg.RiskLevel)
	// 下一次 Settle 按本周期的自适应限额评估（只收紧、不放宽配置限额）
	p.ctrl.SetLimits(params.MaxDrawdownLimit, params.DailyLossLimit)

	res := p.engine.Generate(signals.Input{
		Quotes:        in.Quotes,
		Positions:     in.Positions,
		Capital:       in.Capital,
		Windows:       in.Windows,
		FeatureErrors: in.FeatureErrors,
		Params:        params,
		Symbols:       in.Symbols,
	})

	out := TickOutput{
		TickID:     tickID,
		Parameters: params,
		Skips:      res.Skips,
		Gate:       risk.ActionContinue,
	}
	if p.lastDecision != nil {
		out.Gate = p.lastDecision.Action
	}
	out.Signals, out.Blocked = p.gate(res.Signals, in, at)
	if p.ctrl.Halted(at) && out.Gate != risk.ActionCloseAll {
		out.Gate = risk.ActionStopTrading
	}

	for _, s := range res.Skips {
		metrics.Skips.Add(string(s.Reason), 1)
	}
	for _, s := range out.Signals {
		if s.Action == domain.ActionBuy {
			metrics.SignalsBuy.Add(1)
		} else {
			metrics.SignalsSell.Add(1)
		}
	}
	metrics.SignalsBlocked.Add(int64(len(out.Blocked)))

	log.Infof("📈 [Pipeline] 参数=%s/%s 信号=%d 跳过=%d 拦截=%d 闸门=%s",
		params.RiskLevel, params.Regime, len(out.Signals), len(out.Skips), len(out.Blocked), out.Gate)

	if p.journal != nil {
		p.journalCall(log, "parameters", p.journal.RecordParameters(ctx, tickID, params))
		p.journalCall(log, "signals", p.journal.RecordSignals(ctx, tickID, out.Signals))
		p.journalCall(log, "skips", p.journal.RecordSkips(ctx, tickID, at, out.Skips))
	}

	return out, p.save()
}

// gate 按上一次风控决策过滤信号：
//   - 熔断中或上次为 STOP_TRADING/CLOSE_ALL：丢弃全部 BUY
//   - 上次为 REDUCE_POSITION：BUY 数量乘以系数后向下取整到整手
//   - CLOSE_ALL 之后的第一个周期：为所有持仓补充清仓 SELL
func (p *Pipeline) gate(sigs []domain.Signal, in TickInput, at time.Time) ([]domain.Signal, []Blocked) {
	halted := p.ctrl.AllowTrading()
	last := p.lastDecision

	var kept []domain.Signal
	var blocked []Blocked
	selling := make(map[string]bool)

	for _, s := range sigs {
		if s.Action == domain.ActionSell {
			selling[s.Symbol] = true
			kept = append(kept, s)
			continue
		}
		switch {
		case halted != nil:
			blocked = append(blocked, Blocked{Signal: s, Reason: halted.Error()})
		case last != nil && last.Action.BlocksEntries():
			blocked = append(blocked, Blocked{Signal: s, Reason: fmt.Sprintf("risk decision %s: %s", last.Action, last.Reason)})
		case last != nil && last.Action == risk.ActionReducePosition:
			qty := scaleQuantity(s.Quantity, last.PositionAdjustmentFactor, p.engine.Config().LotSize)
			if qty <= 0 {
				blocked = append(blocked, Blocked{Signal: s, Reason: fmt.Sprintf("quantity reduced to zero by factor %.2f", last.PositionAdjustmentFactor)})
				continue
			}
			s.Metadata = withMeta(s.Metadata, map[string]any{
				"original_quantity": s.Quantity,
				"position_factor":   last.PositionAdjustmentFactor,
			})
			s.Quantity = qty
			metrics.SignalsScaled.Add(1)
			kept = append(kept, s)
		default:
			kept = append(kept, s)
		}
	}

	if p.pendingLiquidation {
		kept = append(kept, p.liquidation(in, selling, at)...)
		p.pendingLiquidation = false
	}
	return kept, blocked
}

// liquidation 为尚未卖出的持仓生成清仓信号（按代码排序）
func (p *Pipeline) liquidation(in TickInput, selling map[string]bool, at time.Time) []domain.Signal {
	var out []domain.Signal
	for _, symbol := range sortedKeys(in.Positions) {
		pos := in.Positions[symbol]
		if !pos.IsOpen() || selling[symbol] {
			continue
		}
		price := 0.0
		if q, ok := in.Quotes[symbol]; ok {
			if d, err := q.Close.Decimal(); err == nil {
				price = d.InexactFloat64()
			}
		}
		out = append(out, domain.Signal{
			ID:           domain.SignalID(riskStrategy, domain.ActionSell, symbol, at),
			Symbol:       symbol,
			Action:       domain.ActionSell,
			Price:        price,
			Quantity:     pos.Quantity,
			Confidence:   1,
			Timestamp:    at,
			StrategyName: riskStrategy,
			Metadata:     map[string]any{"reason": "risk close all"},
		})
	}
	return out
}

// Settle 成交后用账户快照更新风控状态；返回的 error 仅表示持久化失败。
func (p *Pipeline) Settle(ctx context.Context, snap risk.Snapshot) (risk.Decision, error) {
	before := len(p.ctrl.Events())
	wasHalted := p.ctrl.AllowTrading() != nil

	d := p.ctrl.Check(snap)
	at := p.now()

	metrics.RiskDecisions.Add(string(d.Action), 1)
	if !wasHalted && p.ctrl.AllowTrading() != nil {
		metrics.RiskHalts.Add(1)
	}
	for _, ev := range p.ctrl.Events()[before:] {
		if ev.EventType == risk.EventEvaluationFailure {
			metrics.RiskFailClosed.Add(1)
		}
	}

	p.lastDecision = &d
	if d.Action == risk.ActionCloseAll {
		p.pendingLiquidation = true
	}

	if p.journal != nil {
		p.journalCall(p.log, "decision", p.journal.RecordDecision(ctx, at, d))
	}
	if d.Action != risk.ActionContinue {
		p.log.Warnf("🛡️ [Pipeline] 风控决策 %s: %s", d.Action, d.Reason)
	}
	return d, p.save()
}

// BeginTradingDay 新交易日
func (p *Pipeline) BeginTradingDay(equity float64) error {
	if err := p.ctrl.BeginTradingDay(equity); err != nil {
		return err
	}
	return p.save()
}

func (p *Pipeline) journalCall(log *logrus.Entry, what string, err error) {
	if err == nil {
		return
	}
	metrics.JournalErrors.Add(1)
	log.WithError(err).Warnf("审计写入失败: %s", what)
}

func (p *Pipeline) load() error {
	if p.store == nil {
		return nil
	}
	var st persistedState
	if err := persistence.LoadFields(&st, p.cfg.AccountID, p.store); err != nil {
		metrics.SnapshotErrors.Add(1)
		return errors.Wrapf(err, "加载账户状态失败 account=%s", p.cfg.AccountID)
	}
	metrics.SnapshotLoads.Add(1)

	if st.Risk != nil {
		p.ctrl.Restore(*st.Risk)
	}
	if len(st.History) > 0 {
		p.manager.Restore(st.History)
	}
	// 未结算过时落盘的是 null，加载后为零值
	if st.LastDecision != nil && st.LastDecision.Action != "" {
		p.lastDecision = st.LastDecision
	}
	p.pendingLiquidation = st.PendingLiquidation
	p.log.Infof("♻️ [Pipeline] 已恢复账户状态: history=%d halted=%v", len(st.History), st.Risk != nil && st.Risk.TradingHalted)
	return nil
}

func (p *Pipeline) save() error {
	if p.store == nil {
		return nil
	}
	history := p.manager.History()
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
		p.manager.Restore(history)
	}
	rs := p.ctrl.State()
	st := persistedState{
		Risk:               &rs,
		History:            history,
		LastDecision:       p.lastDecision,
		PendingLiquidation: p.pendingLiquidation,
	}
	if err := persistence.SaveFields(&st, p.cfg.AccountID, p.store); err != nil {
		metrics.SnapshotErrors.Add(1)
		return errors.Wrapf(err, "保存账户状态失败 account=%s", p.cfg.AccountID)
	}
	metrics.SnapshotSaves.Add(1)
	return nil
}
