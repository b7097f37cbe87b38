package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	shortMA        = 5
	longMA         = 20
	momentumPeriod = 5
	volumePeriod   = 20
	rsiPeriod      = 14
)

// Bar 原始 K 线（只需要收盘价和成交量）
type Bar struct {
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Compute 由原始 K 线计算规范特征列。
// 历史不足的行填 NaN，读取时视为缺失。
func Compute(bars []Bar) *Window {
	n := len(bars)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	w := &Window{
		length: n,
		series: map[Column][]float64{
			Close:       closes,
			MA5:         rollingMean(closes, shortMA),
			MA20:        rollingMean(closes, longMA),
			Momentum5:   momentum(closes, momentumPeriod),
			VolumeRatio: volumeRatio(volumes, volumePeriod),
			RSI:         wilderRSI(closes, rsiPeriod),
		},
		extra: map[string][]float64{},
	}
	return w
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func rollingMean(xs []float64, period int) []float64 {
	out := nanSlice(len(xs))
	for i := period - 1; i < len(xs); i++ {
		out[i] = stat.Mean(xs[i-period+1:i+1], nil)
	}
	return out
}

func momentum(xs []float64, period int) []float64 {
	out := nanSlice(len(xs))
	for i := period; i < len(xs); i++ {
		if xs[i-period] != 0 {
			out[i] = xs[i]/xs[i-period] - 1
		}
	}
	return out
}

func volumeRatio(vs []float64, period int) []float64 {
	out := nanSlice(len(vs))
	for i := period - 1; i < len(vs); i++ {
		avg := stat.Mean(vs[i-period+1:i+1], nil)
		if avg > 0 {
			out[i] = vs[i] / avg
		}
	}
	return out
}

// wilderRSI Wilder 平滑 RSI
func wilderRSI(xs []float64, period int) []float64 {
	out := nanSlice(len(xs))
	if len(xs) <= period {
		return out
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := xs[i] - xs[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(xs); i++ {
		d := xs[i] - xs[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
