// Package perf 由收盘价/收益率序列计算波动率和策略表现指标，供自适应参数管理器使用。
package perf

import (
	"math"

	"github.com/betbot/adaptrade/internal/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TradingDays 年化交易日
const TradingDays = 252

// Returns 简单收益率序列；非正价格对应的收益跳过
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1], closes[i]
		if prev <= 0 || cur <= 0 || math.IsNaN(prev) || math.IsNaN(cur) {
			continue
		}
		out = append(out, cur/prev-1)
	}
	return out
}

// RealizedVolatility 日收益率标准差（不年化）。样本不足返回 0，调用方按缺失处理。
func RealizedVolatility(closes []float64) float64 {
	rets := Returns(closes)
	if len(rets) < 2 {
		return 0
	}
	return stat.StdDev(rets, nil)
}

// FromReturns 由日收益率计算夏普（√252 年化，无风险利率按 0）、胜率和复利曲线最大回撤。
// 返回 nil 表示没有足够数据，自适应参数管理器将跳过表现反馈。
func FromReturns(returns []float64) *domain.BacktestPerformance {
	if len(returns) == 0 {
		return nil
	}

	mean, std := stat.MeanStdDev(returns, nil)
	sharpe := 0.0
	if std > 1e-12 && !math.IsNaN(std) {
		sharpe = mean / std * math.Sqrt(TradingDays)
	}

	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}

	return &domain.BacktestPerformance{
		SharpeRatio: sharpe,
		WinRate:     float64(wins) / float64(len(returns)),
		MaxDrawdown: MaxDrawdown(EquityCurve(returns)),
	}
}

// EquityCurve 以 1 为起点的复利净值曲线（含起点）
func EquityCurve(returns []float64) []float64 {
	curve := make([]float64, len(returns)+1)
	curve[0] = 1
	for i, r := range returns {
		curve[i+1] = curve[i] * (1 + r)
	}
	return curve
}

// MaxDrawdown 净值曲线的最大回撤，返回非正数（如 -0.2 表示 20% 回撤）
func MaxDrawdown(curve []float64) float64 {
	if len(curve) == 0 {
		return 0
	}
	peaks := make([]float64, len(curve))
	copy(peaks, curve)
	for i := 1; i < len(peaks); i++ {
		peaks[i] = math.Max(peaks[i-1], peaks[i])
	}

	dd := make([]float64, len(curve))
	for i := range curve {
		if peaks[i] > 0 {
			dd[i] = curve[i]/peaks[i] - 1
		}
	}
	return math.Min(0, floats.Min(dd))
}

// ContextFromCloses 由收盘价构造市场上下文；样本不足时波动率为 0（管理器回落到默认 2%）
func ContextFromCloses(regime string, closes []float64) *domain.MarketContext {
	return &domain.MarketContext{
		Regime:     regime,
		Volatility: RealizedVolatility(closes),
	}
}
