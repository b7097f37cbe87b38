package main

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/betbot/adaptrade/internal/domain"
	"github.com/betbot/adaptrade/internal/features"
	"github.com/betbot/adaptrade/internal/perf"
	"github.com/betbot/adaptrade/internal/pipeline"
	"github.com/betbot/adaptrade/internal/predict"
	"github.com/betbot/adaptrade/internal/risk"
)

// tickFile 输入文件里的一个周期。
// market/performance 可以直接给出，也可以由 index_closes/strategy_returns 推导。
type tickFile struct {
	Market          *domain.MarketContext       `json:"market,omitempty"`
	Regime          string                      `json:"regime,omitempty"`
	IndexCloses     []float64                   `json:"index_closes,omitempty"`
	Performance     *domain.BacktestPerformance `json:"performance,omitempty"`
	StrategyReturns []float64                   `json:"strategy_returns,omitempty"`

	Quotes      map[string]domain.Quote       `json:"quotes"`
	Positions   map[string]domain.Position    `json:"positions"`
	Capital     float64                       `json:"capital"`
	Symbols     []string                      `json:"symbols,omitempty"`
	Features    map[string]features.Table     `json:"features,omitempty"`
	Bars        map[string][]features.Bar     `json:"bars,omitempty"`
	Predictions map[string]predict.Prediction `json:"predictions,omitempty"`

	BeginDay *float64       `json:"begin_day_equity,omitempty"`
	Account  *risk.Snapshot `json:"account,omitempty"`
}

// loadInput 读取输入文件：单个周期对象或 {"ticks": [...]}
func loadInput(path string) ([]tickFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read input")
	}
	return parseInput(data)
}

func parseInput(data []byte) ([]tickFile, error) {
	var batch struct {
		Ticks []tickFile `json:"ticks"`
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, errors.Wrap(err, "decode input")
	}
	if len(batch.Ticks) > 0 {
		return batch.Ticks, nil
	}
	var one tickFile
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, errors.Wrap(err, "decode tick")
	}
	return []tickFile{one}, nil
}

// toInput 转换为流水线输入；特征表优先，其次由 K 线计算。
// 单个标的的特征表无效不影响其他标的，记入 FeatureErrors 由引擎跳过。
func (tf tickFile) toInput() pipeline.TickInput {
	in := pipeline.TickInput{
		Market:      tf.Market,
		Performance: tf.Performance,
		Quotes:      tf.Quotes,
		Positions:   tf.Positions,
		Capital:     tf.Capital,
		Symbols:     tf.Symbols,
		Windows:     make(map[string]*features.Window, len(tf.Features)+len(tf.Bars)),
	}
	if in.Market == nil && len(tf.IndexCloses) > 0 {
		in.Market = perf.ContextFromCloses(tf.Regime, tf.IndexCloses)
	}
	if in.Performance == nil && len(tf.StrategyReturns) > 0 {
		in.Performance = perf.FromReturns(tf.StrategyReturns)
	}
	for sym, bars := range tf.Bars {
		in.Windows[sym] = features.Compute(bars)
	}
	for sym, t := range tf.Features {
		w, err := features.Resolve(t)
		if err != nil {
			delete(in.Windows, sym)
			if in.FeatureErrors == nil {
				in.FeatureErrors = make(map[string]string)
			}
			in.FeatureErrors[sym] = err.Error()
			continue
		}
		in.Windows[sym] = w
	}
	return in
}

// replay 回放输入文件中逐周期给出的预测值
type replay struct {
	mu  sync.RWMutex
	cur predict.Static
}

func (r *replay) use(s map[string]predict.Prediction) {
	r.mu.Lock()
	r.cur = s
	r.mu.Unlock()
}

func (r *replay) Predict(symbol string, w *features.Window) (predict.Prediction, error) {
	r.mu.RLock()
	cur := r.cur
	r.mu.RUnlock()
	return cur.Predict(symbol, w)
}
