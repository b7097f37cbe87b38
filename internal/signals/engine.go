// Package signals 多源加权信号确认引擎：融合 AI 预测与技术指标确认，生成买卖信号。
package signals

import (
	"fmt"
	"sort"
	"time"

	"github.com/betbot/adaptrade/internal/domain"
	"github.com/betbot/adaptrade/internal/features"
	"github.com/betbot/adaptrade/internal/metrics"
	"github.com/betbot/adaptrade/internal/predict"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// scoreEpsilon 加权得分比较容差（浮点累加误差）
const scoreEpsilon = 1e-9

// Input 一次评估的全部输入（均已由协作方准备好）
type Input struct {
	Quotes    map[string]domain.Quote
	Positions map[string]domain.Position
	Capital   float64
	Windows   map[string]*features.Window
	// FeatureErrors 特征表在入口解析失败的标的及原因，按 invalid_features 跳过
	FeatureErrors map[string]string
	Params        domain.AdaptiveParameters
	// Symbols 指定遍历顺序（重复项只取第一次）；为空时按代码排序
	Symbols []string
}

// Result 评估结果：成功的信号与跳过记录
type Result struct {
	Signals []domain.Signal
	Skips   []Skip
}

// Engine 信号确认引擎。不持有跨调用的可变状态。
type Engine struct {
	cfg       Config
	predictor predict.Predictor
	log       *logrus.Entry
	now       func() time.Time
}

// Option Engine 构造选项
type Option func(*Engine)

func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(cfg Config, p predict.Predictor, opts ...Option) (*Engine, error) {
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "signal engine config")
	}
	if p == nil {
		return nil, errors.New("signal engine: predictor is required")
	}
	e := &Engine{
		cfg:       cfg,
		predictor: p,
		log:       logrus.WithField("module", "signals"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config 返回生效的配置
func (e *Engine) Config() Config {
	return e.cfg
}

// Generate 逐标的独立评估；单个标的失败只记录跳过，不影响其余标的。
// 信号按遍历顺序返回，不做跨标的排序。
func (e *Engine) Generate(in Input) Result {
	ts := e.now()
	var res Result
	for _, symbol := range e.symbols(in) {
		sig, skip := e.evaluateSafe(symbol, in, ts)
		if sig != nil {
			res.Signals = append(res.Signals, *sig)
		}
		if skip != nil {
			res.Skips = append(res.Skips, *skip)
			e.logSkip(skip)
		}
	}
	return res
}

func (e *Engine) symbols(in Input) []string {
	if len(in.Symbols) > 0 {
		seen := make(map[string]struct{}, len(in.Symbols))
		out := make([]string, 0, len(in.Symbols))
		for _, s := range in.Symbols {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
		return out
	}
	out := make([]string, 0, len(in.Quotes))
	for s := range in.Quotes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) logSkip(s *Skip) {
	entry := e.log.WithFields(logrus.Fields{"symbol": s.Symbol, "reason": s.Reason})
	if s.Reason.IsFailure() {
		entry.Warnf("⚠️ 跳过标的: %s", s.Detail)
		return
	}
	entry.Debugf("无信号: %s", s.Detail)
}

// evaluateSafe 把单标的 panic 收敛为跳过记录
func (e *Engine) evaluateSafe(symbol string, in Input, ts time.Time) (sig *domain.Signal, skip *Skip) {
	defer func() {
		if r := recover(); r != nil {
			sig = nil
			skip = newSkip(symbol, SkipInternalError, fmt.Sprintf("panic: %v", r))
		}
	}()
	return e.evaluate(symbol, in, ts)
}

func (e *Engine) evaluate(symbol string, in Input, ts time.Time) (*domain.Signal, *Skip) {
	quote, ok := in.Quotes[symbol]
	if !ok {
		return nil, newSkip(symbol, SkipMissingQuote, "no latest bar")
	}

	if msg, bad := in.FeatureErrors[symbol]; bad {
		return nil, newSkip(symbol, SkipInvalidFeatures, msg)
	}

	w := in.Windows[symbol]
	if w.Len() < e.cfg.SequenceLength {
		return nil, newSkip(symbol, SkipInsufficientHistory,
			fmt.Sprintf("need %d feature rows, got %d", e.cfg.SequenceLength, w.Len()))
	}

	pred, confidence, source, err := e.predict(symbol, w)
	if err != nil {
		return nil, newSkip(symbol, SkipPredictionUnavailable, err.Error())
	}

	priceDec, err := quote.Close.Decimal()
	if err != nil {
		return nil, newSkip(symbol, SkipInvalidPrice, err.Error())
	}
	if !priceDec.IsPositive() {
		return nil, newSkip(symbol, SkipInvalidPrice, fmt.Sprintf("non-positive price %s", priceDec))
	}
	price, _ := priceDec.Float64()

	ev := evaluation{
		symbol:     symbol,
		window:     w,
		prediction: pred,
		confidence: confidence,
		source:     source,
		price:      priceDec,
		priceF:     price,
		ts:         ts,
		params:     in.Params,
	}
	if pos, held := in.Positions[symbol]; held && pos.IsOpen() {
		return e.sellDecision(ev, pos)
	}
	return e.buyDecision(ev, in.Capital)
}

// evaluation 单标的评估上下文
type evaluation struct {
	symbol     string
	window     *features.Window
	prediction float64
	confidence float64
	source     string
	price      decimal.Decimal
	priceF     float64
	ts         time.Time
	params     domain.AdaptiveParameters
}

const (
	sourceModel    = "model"
	sourceMomentum = "momentum_fallback"
)

// predict 调用模型；失败时退化为动量指标，置信度降为 FallbackConfidence
func (e *Engine) predict(symbol string, w *features.Window) (float64, float64, string, error) {
	p, err := e.predictor.Predict(symbol, w)
	if err == nil {
		return p.Return, p.ConfidenceOr(predict.DefaultConfidence), sourceModel, nil
	}
	metrics.PredictorErrors.Add(1)
	mom, ok := w.Latest(features.Momentum5)
	if !ok {
		return 0, 0, "", errors.Wrap(err, "model failed and no momentum fallback")
	}
	e.log.WithField("symbol", symbol).Warnf("模型预测失败，使用动量替代: %v", err)
	return mom, e.cfg.FallbackConfidence, sourceMomentum, nil
}

// buyConfirmations 收集买入确认；缺列的确认直接省略
func (e *Engine) buyConfirmations(ev evaluation) []domain.SignalConfirmation {
	w := ev.window
	var cs []domain.SignalConfirmation
	add := func(t domain.SignalType, v float64, desc string) {
		cs = append(cs, domain.SignalConfirmation{Type: t, Value: v, Weight: e.cfg.Weights[t], Description: desc})
	}

	if ev.prediction > ev.params.BuyThreshold {
		add(domain.SignalAI, ev.prediction,
			fmt.Sprintf("predicted return %.4f above buy threshold %.4f", ev.prediction, ev.params.BuyThreshold))
	}
	if short, ok := w.Latest(features.MA5); ok {
		if long, ok := w.Latest(features.MA20); ok && short > long {
			add(domain.SignalTrend, short-long, fmt.Sprintf("MA5 %.4f above MA20 %.4f", short, long))
		}
	}
	if mom, ok := w.Latest(features.Momentum5); ok && mom > 0 {
		add(domain.SignalMomentum, mom, fmt.Sprintf("5-period momentum %.4f positive", mom))
	}
	if vr, ok := w.Latest(features.VolumeRatio); ok && vr > e.cfg.VolumeRatioMin {
		add(domain.SignalVolume, vr, fmt.Sprintf("volume ratio %.2f above %.2f", vr, e.cfg.VolumeRatioMin))
	}
	if rsi, ok := w.Latest(features.RSI); ok && rsi > e.cfg.RSILower && rsi < e.cfg.RSIUpper {
		add(domain.SignalRSI, rsi, fmt.Sprintf("RSI %.1f within (%.0f, %.0f)", rsi, e.cfg.RSILower, e.cfg.RSIUpper))
	}
	return cs
}

func (e *Engine) buyDecision(ev evaluation, capital float64) (*domain.Signal, *Skip) {
	cs := e.buyConfirmations(ev)
	score := domain.WeightedScore(cs)
	count := len(cs)

	if count < e.cfg.MinConfirmations || score+scoreEpsilon < e.cfg.MinWeightedScore ||
		ev.confidence < ev.params.ConfidenceThreshold {
		return nil, newSkip(ev.symbol, SkipNotConfirmed, fmt.Sprintf(
			"confirmations=%d/%d score=%.2f/%.2f confidence=%.2f/%.2f",
			count, e.cfg.MinConfirmations, score, e.cfg.MinWeightedScore,
			ev.confidence, ev.params.ConfidenceThreshold))
	}

	qty := Quantity(capital, ev.params.MaxPosition, ev.confidence, ev.price, e.cfg.LotSize)
	if qty <= 0 {
		return nil, newSkip(ev.symbol, SkipZeroQuantity,
			fmt.Sprintf("capital %.2f too small for one lot at %s", capital, ev.price))
	}

	sig := &domain.Signal{
		ID:           domain.SignalID(e.cfg.StrategyName, domain.ActionBuy, ev.symbol, ev.ts),
		Symbol:       ev.symbol,
		Action:       domain.ActionBuy,
		Price:        ev.priceF,
		Quantity:     qty,
		Confidence:   ev.confidence,
		Timestamp:    ev.ts,
		StrategyName: e.cfg.StrategyName,
		Metadata: map[string]any{
			"confirmations":      cs,
			"confirmation_count": count,
			"weighted_score":     score,
			"prediction":         ev.prediction,
			"prediction_source":  ev.source,
			"regime":             ev.params.Regime,
		},
	}
	e.log.WithFields(logrus.Fields{
		"symbol": ev.symbol, "qty": qty, "score": score, "confidence": ev.confidence,
	}).Infof("📈 买入信号: %d 个确认", count)
	return sig, nil
}

// 卖出理由
const (
	SellReasonAI       = "ai_prediction_below_sell_threshold"
	SellReasonTrend    = "ma5_below_ma20"
	SellReasonMomentum = "negative_momentum"
	SellReasonStopLoss = "stop_loss"
)

func (e *Engine) sellReasons(ev evaluation, pos domain.Position) []string {
	w := ev.window
	var reasons []string
	if ev.prediction < ev.params.SellThreshold {
		reasons = append(reasons, SellReasonAI)
	}
	if short, ok := w.Latest(features.MA5); ok {
		if long, ok := w.Latest(features.MA20); ok && short < long {
			reasons = append(reasons, SellReasonTrend)
		}
	}
	if mom, ok := w.Latest(features.Momentum5); ok && mom < e.cfg.SellMomentum {
		reasons = append(reasons, SellReasonMomentum)
	}
	if pos.Return(ev.priceF) < e.cfg.StopLoss {
		reasons = append(reasons, SellReasonStopLoss)
	}
	return reasons
}

func (e *Engine) sellDecision(ev evaluation, pos domain.Position) (*domain.Signal, *Skip) {
	reasons := e.sellReasons(ev, pos)
	if len(reasons) < e.cfg.MinSellReasons {
		return nil, newSkip(ev.symbol, SkipHold,
			fmt.Sprintf("sell reasons %d/%d %v", len(reasons), e.cfg.MinSellReasons, reasons))
	}
	sig := &domain.Signal{
		ID:           domain.SignalID(e.cfg.StrategyName, domain.ActionSell, ev.symbol, ev.ts),
		Symbol:       ev.symbol,
		Action:       domain.ActionSell,
		Price:        ev.priceF,
		Quantity:     pos.Quantity,
		Confidence:   ev.confidence,
		Timestamp:    ev.ts,
		StrategyName: e.cfg.StrategyName,
		Metadata: map[string]any{
			"sell_reasons":      reasons,
			"position_return":   pos.Return(ev.priceF),
			"prediction":        ev.prediction,
			"prediction_source": ev.source,
		},
	}
	e.log.WithFields(logrus.Fields{
		"symbol": ev.symbol, "qty": pos.Quantity, "reasons": reasons,
	}).Infof("📉 卖出信号")
	return sig, nil
}

// Quantity floor(capital·maxPosition·confidence/price/lot)·lot，按十进制精确计算
func Quantity(capital, maxPosition, confidence float64, price decimal.Decimal, lot int64) int64 {
	if capital <= 0 || maxPosition <= 0 || confidence <= 0 || !price.IsPositive() || lot <= 0 {
		return 0
	}
	available := decimal.NewFromFloat(capital).
		Mul(decimal.NewFromFloat(maxPosition)).
		Mul(decimal.NewFromFloat(confidence))
	lotD := decimal.NewFromInt(lot)
	lots := available.Div(price).Div(lotD).Floor()
	return lots.Mul(lotD).IntPart()
}
