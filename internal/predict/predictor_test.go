package predict

import (
	"errors"
	"testing"
	"time"

	"github.com/betbot/adaptrade/internal/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrediction_ConfidenceOr(t *testing.T) {
	assert.Equal(t, 0.7, Prediction{}.ConfidenceOr(DefaultConfidence))

	c := 0.9
	assert.Equal(t, 0.9, Prediction{Confidence: &c}.ConfidenceOr(DefaultConfidence))

	bad := 1.5
	assert.Equal(t, 0.7, Prediction{Confidence: &bad}.ConfidenceOr(DefaultConfidence))
}

func TestStatic(t *testing.T) {
	s := Static{"600000": {Return: 0.02}}
	p, err := s.Predict("600000", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.02, p.Return)

	_, err = s.Predict("000001", nil)
	assert.True(t, errors.Is(err, ErrNoPrediction))
}

func TestCached_ReusesPredictionForSameWindow(t *testing.T) {
	calls := 0
	inner := Func(func(symbol string, w *features.Window) (Prediction, error) {
		calls++
		return Prediction{Return: 0.01}, nil
	})
	c := NewCached(inner, time.Minute)
	defer c.Close()

	w1, err := features.FromSeries(map[features.Column][]float64{features.MA5: {1, 2}})
	require.NoError(t, err)
	w2, err := features.FromSeries(map[features.Column][]float64{features.MA5: {1, 3}})
	require.NoError(t, err)

	_, _ = c.Predict("A", w1)
	_, _ = c.Predict("A", w1)
	assert.Equal(t, 1, calls)

	_, _ = c.Predict("A", w2)
	_, _ = c.Predict("B", w1)
	assert.Equal(t, 3, calls)
}

func TestCached_DoesNotCacheErrors(t *testing.T) {
	calls := 0
	inner := Func(func(string, *features.Window) (Prediction, error) {
		calls++
		return Prediction{}, errors.New("boom")
	})
	c := NewCached(inner, time.Minute)
	defer c.Close()

	_, err := c.Predict("A", nil)
	assert.Error(t, err)
	_, err = c.Predict("A", nil)
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestNewONNXModel_ConfigErrors(t *testing.T) {
	_, err := NewONNXModel(ONNXConfig{SequenceLength: 20})
	assert.Error(t, err)

	_, err = NewONNXModel(ONNXConfig{ModelPath: "models/lstm.onnx"})
	assert.Error(t, err)

	_, err = NewONNXModel(ONNXConfig{ModelPath: "models/lstm.onnx", SequenceLength: 20, OutputWidth: 3})
	assert.ErrorContains(t, err, "output width")
}

func TestONNXConfig_Normalize(t *testing.T) {
	cfg := ONNXConfig{ModelPath: "m.onnx", SequenceLength: 20}
	require.NoError(t, cfg.normalize())
	assert.Equal(t, "input", cfg.InputName)
	assert.Equal(t, "output", cfg.OutputName)
	assert.Equal(t, 2, cfg.OutputWidth)

	single := ONNXConfig{ModelPath: "m.onnx", SequenceLength: 20, OutputWidth: 1}
	require.NoError(t, single.normalize())
	assert.Equal(t, 1, single.OutputWidth)
}
