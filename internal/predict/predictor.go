// Package predict 定义模型预测协作方接口及若干适配实现。
package predict

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/betbot/adaptrade/internal/features"
	"github.com/betbot/adaptrade/pkg/cache"
	"github.com/pkg/errors"
)

// DefaultConfidence 模型未给出置信度时使用的默认值
const DefaultConfidence = 0.7

// ErrNoPrediction 没有该标的的预测
var ErrNoPrediction = errors.New("no prediction for symbol")

// Prediction 模型输出：预期收益率 + 可选置信度（[0,1]）
type Prediction struct {
	Return     float64  `json:"return"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ConfidenceOr 返回置信度，未提供或越界时返回 def
func (p Prediction) ConfidenceOr(def float64) float64 {
	if p.Confidence == nil {
		return def
	}
	c := *p.Confidence
	if math.IsNaN(c) || c < 0 || c > 1 {
		return def
	}
	return c
}

// Predictor 模型预测协作方（同步调用，输入已准备好）
type Predictor interface {
	Predict(symbol string, w *features.Window) (Prediction, error)
}

// Func 函数适配器
type Func func(symbol string, w *features.Window) (Prediction, error)

func (f Func) Predict(symbol string, w *features.Window) (Prediction, error) {
	return f(symbol, w)
}

// Static 预先计算好的预测（回放/回测用）
type Static map[string]Prediction

func (s Static) Predict(symbol string, _ *features.Window) (Prediction, error) {
	p, ok := s[symbol]
	if !ok {
		return Prediction{}, errors.Wrap(ErrNoPrediction, symbol)
	}
	return p, nil
}

// Cached 预测缓存装饰器：同一标的、同一特征窗口在 TTL 内只推理一次
type Cached struct {
	next  Predictor
	cache *cache.InMemoryCache[string, Prediction]
	ttl   time.Duration
}

// NewCached 创建缓存装饰器；调用方负责 Close
func NewCached(next Predictor, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: cache.NewInMemoryCache[string, Prediction](ttl),
		ttl:   ttl,
	}
}

func (c *Cached) Predict(symbol string, w *features.Window) (Prediction, error) {
	key := fingerprint(symbol, w)
	if p, ok := c.cache.Get(key); ok {
		return p, nil
	}
	p, err := c.next.Predict(symbol, w)
	if err != nil {
		return Prediction{}, err
	}
	c.cache.Set(key, p, c.ttl)
	return p, nil
}

// Close 停止缓存清理
func (c *Cached) Close() {
	c.cache.Close()
}

// fingerprint 标的 + 窗口长度 + 最新一行规范列
func fingerprint(symbol string, w *features.Window) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d", symbol, w.Len())
	for _, v := range w.Tail(1, features.CanonicalColumns) {
		fmt.Fprintf(&b, "|%g", v)
	}
	return b.String()
}
