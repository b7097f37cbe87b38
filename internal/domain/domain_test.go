package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawPrice_JSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"number", `12.5`, "12.5", false},
		{"string", `"9.80"`, "9.8", false},
		{"thousands separator", `"1,234.50"`, "1234.5", false},
		{"padded", `" 7 "`, "7", false},
		{"null", `null`, "", true},
		{"empty", `""`, "", true},
		{"garbage", `"abc"`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p RawPrice
			require.NoError(t, json.Unmarshal([]byte(tt.in), &p))
			d, err := p.Decimal()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.String())
		})
	}
}

func TestQuote_RoundTripKeepsRawText(t *testing.T) {
	q := Quote{Symbol: "600519", Close: PriceFromString("1,680.00")}
	b, err := json.Marshal(q)
	require.NoError(t, err)
	assert.JSONEq(t, `{"symbol":"600519","close":"1,680.00"}`, string(b))

	assert.Equal(t, "10.25", PriceFromFloat(10.25).String())
}

func TestParseRegime(t *testing.T) {
	r, ok := ParseRegime(" bull ")
	assert.True(t, ok)
	assert.Equal(t, RegimeBull, r)

	r, ok = ParseRegime("Volatile")
	assert.True(t, ok)
	assert.Equal(t, RegimeVolatile, r)

	r, ok = ParseRegime("sideways")
	assert.False(t, ok)
	assert.Equal(t, RegimeNeutral, r)
}

func TestParseRiskLevel(t *testing.T) {
	l, ok := ParseRiskLevel("aggressive")
	assert.True(t, ok)
	assert.Equal(t, RiskAggressive, l)

	l, ok = ParseRiskLevel("YOLO")
	assert.False(t, ok)
	assert.Equal(t, RiskConservative, l)
}

func TestSignalIDAndScore(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 30, 7, 0, time.UTC)
	assert.Equal(t, "adaptive_BUY_000001_20240305143007", SignalID("adaptive", ActionBuy, "000001", ts))

	score := WeightedScore([]SignalConfirmation{{Weight: 0.3}, {Weight: 0.25}, {Weight: 0.15}})
	assert.InDelta(t, 0.7, score, 1e-12)
	assert.Zero(t, WeightedScore(nil))
}

func TestPositionAndTrade(t *testing.T) {
	p := Position{AvgCost: 10, Quantity: 500}
	assert.True(t, p.IsOpen())
	assert.Equal(t, 5000.0, p.Value())
	assert.InDelta(t, 0.05, p.Return(10.5), 1e-12)

	p.MarketValue = 5200
	assert.Equal(t, 5200.0, p.Value())

	assert.Zero(t, Position{Quantity: 100}.Return(12))
	assert.False(t, Position{}.IsOpen())

	assert.True(t, Trade{PnL: -1}.IsLoss())
	assert.False(t, Trade{PnL: 0}.IsLoss())
}
