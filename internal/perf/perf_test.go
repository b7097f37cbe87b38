package perf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReturns(t *testing.T) {
	assert.Nil(t, Returns([]float64{100}))

	got := Returns([]float64{100, 110, 0, 99, 99})
	require.Len(t, got, 2)
	assert.InDelta(t, 0.10, got[0], 1e-12)
	assert.InDelta(t, 0, got[1], 1e-12)
}

func TestRealizedVolatility(t *testing.T) {
	assert.Zero(t, RealizedVolatility(nil))
	assert.Zero(t, RealizedVolatility([]float64{100, 101}))
	assert.Zero(t, RealizedVolatility([]float64{100, 100, 100, 100}))

	// 收益率 +1%, -1%, +1%, -1% 的样本标准差
	closes := []float64{100, 101, 99.99, 100.9899, 99.980001}
	assert.InDelta(t, 0.011547, RealizedVolatility(closes), 1e-5)
}

func TestFromReturns(t *testing.T) {
	assert.Nil(t, FromReturns(nil))

	p := FromReturns([]float64{0.01, -0.02, 0.03, 0.01})
	require.NotNil(t, p)
	assert.InDelta(t, 0.75, p.WinRate, 1e-12)
	assert.Greater(t, p.SharpeRatio, 0.0)
	assert.InDelta(t, -0.02, p.MaxDrawdown, 1e-12)

	flat := FromReturns([]float64{0.01, 0.01, 0.01})
	assert.Zero(t, flat.SharpeRatio)
	assert.Equal(t, 1.0, flat.WinRate)
	assert.Zero(t, flat.MaxDrawdown)
}

func TestMaxDrawdown(t *testing.T) {
	assert.Zero(t, MaxDrawdown(nil))
	assert.InDelta(t, -0.5, MaxDrawdown([]float64{1, 2, 1, 1.5}), 1e-12)

	curve := EquityCurve([]float64{0.1, -0.5, 1})
	assert.InDelta(t, 1.1, curve[3], 1e-12)
	assert.InDelta(t, -0.5, MaxDrawdown(curve), 1e-12)
}

func TestContextFromCloses(t *testing.T) {
	mc := ContextFromCloses("BULL", []float64{100, 101, 99.99, 100.9899, 99.980001})
	assert.Equal(t, "BULL", mc.Regime)
	assert.False(t, math.IsNaN(mc.Volatility))
	assert.Greater(t, mc.Volatility, 0.01)
}
