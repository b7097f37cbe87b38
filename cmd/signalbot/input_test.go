package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/adaptrade/internal/features"
	"github.com/betbot/adaptrade/internal/predict"
)

func TestParseInput_SingleAndBatch(t *testing.T) {
	one, err := parseInput([]byte(`{"capital": 1000000, "quotes": {"600519": {"symbol": "600519", "close": "1,680.50"}}}`))
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, 1_000_000.0, one[0].Capital)
	px, err := one[0].Quotes["600519"].Close.Decimal()
	require.NoError(t, err)
	assert.Equal(t, "1680.5", px.String())

	batch, err := parseInput([]byte(`{"ticks": [{"capital": 1}, {"capital": 2, "begin_day_equity": 5, "account": {"equity": 10}}]}`))
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.NotNil(t, batch[1].BeginDay)
	assert.Equal(t, 5.0, *batch[1].BeginDay)
	require.NotNil(t, batch[1].Account)
	assert.Equal(t, 10.0, batch[1].Account.Equity)

	_, err = parseInput([]byte(`{oops`))
	assert.Error(t, err)
}

func TestTickFile_ToInput(t *testing.T) {
	bars := make([]features.Bar, 30)
	for i := range bars {
		bars[i] = features.Bar{Close: 10 + float64(i)*0.1, Volume: 1000}
	}
	tf := tickFile{
		Regime:          "bull",
		IndexCloses:     []float64{100, 101, 100.5, 102},
		StrategyReturns: []float64{0.01, -0.005, 0.02},
		Bars:            map[string][]features.Bar{"000001": bars},
		Features: map[string]features.Table{
			"600519": {Columns: []string{"SMA_5", "ma_20"}, Rows: [][]float64{{1, 2}}},
		},
	}
	in := tf.toInput()
	assert.Empty(t, in.FeatureErrors)

	require.NotNil(t, in.Market)
	assert.Equal(t, "bull", in.Market.Regime)
	assert.Greater(t, in.Market.Volatility, 0.0)
	require.NotNil(t, in.Performance)
	assert.InDelta(t, 2.0/3.0, in.Performance.WinRate, 1e-9)

	require.Contains(t, in.Windows, "000001")
	assert.Equal(t, 30, in.Windows["000001"].Len())
	v, ok := in.Windows["600519"].Latest(features.MA5)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestTickFile_BadFeatureTableOnlySkipsThatSymbol(t *testing.T) {
	good := features.Table{Columns: []string{"ma_5", "ma_20"}, Rows: [][]float64{{1, 2}}}
	tf := tickFile{
		Features: map[string]features.Table{
			"GOOD": good,
			"BAD":  {Columns: []string{"ma_5", "ma_20"}, Rows: [][]float64{{1}}},
			"DUP":  {Columns: []string{"rsi", "RSI"}},
		},
		Bars: map[string][]features.Bar{"BAD": {{Close: 10, Volume: 1}}},
	}
	in := tf.toInput()

	require.Contains(t, in.Windows, "GOOD")
	assert.Equal(t, 1, in.Windows["GOOD"].Len())
	assert.NotContains(t, in.Windows, "BAD")
	assert.NotContains(t, in.Windows, "DUP")
	require.Len(t, in.FeatureErrors, 2)
	assert.Contains(t, in.FeatureErrors["BAD"], "row 0")
	assert.Contains(t, in.FeatureErrors, "DUP")
}

func TestReplay_SwapsPredictions(t *testing.T) {
	rp := &replay{}
	_, err := rp.Predict("600519", nil)
	assert.ErrorIs(t, err, predict.ErrNoPrediction)

	rp.use(map[string]predict.Prediction{"600519": {Return: 0.03}})
	p, err := rp.Predict("600519", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.03, p.Return)
}
