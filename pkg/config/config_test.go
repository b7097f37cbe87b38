package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/betbot/adaptrade/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.AccountID)
	assert.Equal(t, domain.RiskModerate, cfg.RiskLevel)
	assert.Equal(t, BackendJSON, cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.Strategy.MinConfirmations)
	assert.Equal(t, 0.15, cfg.Risk.MaxDrawdown)
	assert.Equal(t, 24*time.Hour, cfg.Risk.DrawdownHalt)
	assert.Equal(t, cfg.Strategy.SequenceLength, cfg.Model.ONNX.SequenceLength)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "bot.yaml", `
account_id: acct-7
risk_level: aggressive
initial_capital: 2000000
log:
  level: debug
strategy:
  min_confirmations: 4
  weights:
    ai: 0.4
risk:
  max_drawdown: 0.1
  drawdown_halt: 12h
storage:
  backend: badger
  state_dir: /tmp/state
  journal_path: /tmp/journal.db
model:
  cache_ttl: 30s
  onnx:
    model_path: models/lstm.onnx
metrics:
  listen: 127.0.0.1:9090
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "acct-7", cfg.AccountID)
	assert.Equal(t, domain.RiskAggressive, cfg.RiskLevel)
	assert.Equal(t, 2_000_000.0, cfg.InitialCapital)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Strategy.MinConfirmations)
	assert.Equal(t, 0.4, cfg.Strategy.Weights[domain.SignalAI])
	assert.Equal(t, 0.25, cfg.Strategy.Weights[domain.SignalTrend])
	assert.Equal(t, 0.1, cfg.Risk.MaxDrawdown)
	assert.Equal(t, 12*time.Hour, cfg.Risk.DrawdownHalt)
	assert.Equal(t, 6*time.Hour, cfg.Risk.DailyLossHalt)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, 30*time.Second, cfg.Model.CacheTTL)
	assert.Equal(t, "models/lstm.onnx", cfg.Model.ONNX.ModelPath)
	assert.Equal(t, "127.0.0.1:9090", cfg.Metrics.Listen)
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "bot.json", `{"account_id":"j","risk_level":"CONSERVATIVE","strategy":{"lot_size":10}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "j", cfg.AccountID)
	assert.Equal(t, int64(10), cfg.Strategy.LotSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "bot.yml", "account_id: from-file\nrisk:\n  max_daily_loss: 0.05\n")
	t.Setenv("ACCOUNT_ID", "from-env")
	t.Setenv("MAX_DAILY_LOSS", "0.02")
	t.Setenv("RISK_LEVEL", "conservative")
	t.Setenv("PREDICTION_CACHE_TTL", "1m")
	t.Setenv("MIN_CONFIRMATIONS", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AccountID)
	assert.Equal(t, 0.02, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, domain.RiskConservative, cfg.RiskLevel)
	assert.Equal(t, time.Minute, cfg.Model.CacheTTL)
	assert.Equal(t, 3, cfg.Strategy.MinConfirmations)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown extension", "bot.toml", "a = 1"},
		{"bad yaml", "bot.yaml", "risk: [oops"},
		{"bad risk level", "bot.yaml", "risk_level: yolo"},
		{"bad backend", "bot.yaml", "storage:\n  backend: redis"},
		{"key without badger", "bot.yaml", "storage:\n  encryption_key: abc"},
		{"bad risk limits", "bot.yaml", "risk:\n  max_drawdown: 2"},
		{"bad strategy", "bot.yaml", "strategy:\n  min_confirmations: 9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
