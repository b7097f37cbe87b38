package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/adaptrade/internal/domain"
	"github.com/betbot/adaptrade/internal/predict"
	"github.com/betbot/adaptrade/internal/risk"
	"github.com/betbot/adaptrade/internal/signals"
	"github.com/betbot/adaptrade/pkg/logger"
	"gopkg.in/yaml.v3"
)

// 状态存储后端
const (
	BackendJSON   = "json"
	BackendBadger = "badger"
)

// StorageConfig 状态与审计存储
type StorageConfig struct {
	Backend       string `yaml:"backend" json:"backend"`               // json | badger
	StateDir      string `yaml:"state_dir" json:"state_dir"`           // 状态目录（json 文件或 badger 数据目录）
	JournalPath   string `yaml:"journal_path" json:"journal_path"`     // SQLite 审计库路径，为空则不记录
	EncryptionKey string `yaml:"encryption_key" json:"encryption_key"` // badger 加密密钥（hex/base64，32 字节）
}

// ModelConfig 预测模型
type ModelConfig struct {
	ONNX     predict.ONNXConfig `yaml:"onnx" json:"onnx"`
	CacheTTL time.Duration      `yaml:"cache_ttl" json:"cache_ttl"` // 预测缓存时长，0 为不缓存
}

// MetricsConfig 调试/指标服务
type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen"` // 为空则不启动
}

// Config 信号机器人配置
type Config struct {
	AccountID      string           `yaml:"account_id" json:"account_id"`
	RiskLevel      domain.RiskLevel `yaml:"risk_level" json:"risk_level"`
	InitialCapital float64          `yaml:"initial_capital" json:"initial_capital"`

	Log      logger.Config  `yaml:"log" json:"log"`
	Strategy signals.Config `yaml:"strategy" json:"strategy"`
	Risk     risk.Config    `yaml:"risk" json:"risk"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Model    ModelConfig    `yaml:"model" json:"model"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// Load 加载配置（优先级：环境变量 > 配置文件 > 默认值）。filePath 为空时只用环境变量和默认值。
func Load(filePath string) (*Config, error) {
	cfg := &Config{}
	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}
	cfg.applyEnv()
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return nil
}

// applyEnv 环境变量覆盖
func (c *Config) applyEnv() {
	c.AccountID = getEnv("ACCOUNT_ID", c.AccountID)
	c.RiskLevel = domain.RiskLevel(strings.ToUpper(getEnv("RISK_LEVEL", string(c.RiskLevel))))
	c.InitialCapital = parseFloatEnv("INITIAL_CAPITAL", c.InitialCapital)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.OutputFile = getEnv("LOG_FILE", c.Log.OutputFile)
	c.Log.JSON = parseBoolEnv("LOG_JSON", c.Log.JSON)

	c.Strategy.MinConfirmations = parseIntEnv("MIN_CONFIRMATIONS", c.Strategy.MinConfirmations)
	c.Strategy.MinWeightedScore = parseFloatEnv("MIN_WEIGHTED_SCORE", c.Strategy.MinWeightedScore)
	c.Strategy.SequenceLength = parseIntEnv("SEQUENCE_LENGTH", c.Strategy.SequenceLength)

	c.Risk.MaxDrawdown = parseFloatEnv("MAX_DRAWDOWN", c.Risk.MaxDrawdown)
	c.Risk.MaxDailyLoss = parseFloatEnv("MAX_DAILY_LOSS", c.Risk.MaxDailyLoss)
	c.Risk.MaxConsecutiveLosses = parseIntEnv("MAX_CONSECUTIVE_LOSSES", c.Risk.MaxConsecutiveLosses)
	c.Risk.MaxSinglePosition = parseFloatEnv("MAX_SINGLE_POSITION", c.Risk.MaxSinglePosition)

	c.Storage.Backend = getEnv("STATE_BACKEND", c.Storage.Backend)
	c.Storage.StateDir = getEnv("STATE_DIR", c.Storage.StateDir)
	c.Storage.JournalPath = getEnv("JOURNAL_PATH", c.Storage.JournalPath)
	c.Storage.EncryptionKey = getEnv("STATE_ENCRYPTION_KEY", c.Storage.EncryptionKey)

	c.Model.ONNX.ModelPath = getEnv("MODEL_PATH", c.Model.ONNX.ModelPath)
	c.Model.ONNX.LibraryPath = getEnv("ONNXRUNTIME_LIB", c.Model.ONNX.LibraryPath)
	c.Model.CacheTTL = parseDurationEnv("PREDICTION_CACHE_TTL", c.Model.CacheTTL)

	c.Metrics.Listen = getEnv("METRICS_LISTEN", c.Metrics.Listen)
}

// Defaults 填充零值字段
func (c *Config) Defaults() {
	if c.AccountID == "" {
		c.AccountID = "default"
	}
	if c.RiskLevel == "" {
		c.RiskLevel = domain.RiskModerate
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendJSON
	}
	if c.Storage.StateDir == "" {
		c.Storage.StateDir = "data/state"
	}
	c.Strategy.Defaults()
	c.Risk.Defaults()
	if c.Model.ONNX.SequenceLength == 0 {
		c.Model.ONNX.SequenceLength = c.Strategy.SequenceLength
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if _, ok := domain.ParseRiskLevel(string(c.RiskLevel)); !ok {
		return fmt.Errorf("RISK_LEVEL 无效: %s（支持 CONSERVATIVE, MODERATE, AGGRESSIVE）", c.RiskLevel)
	}
	if c.InitialCapital < 0 {
		return fmt.Errorf("INITIAL_CAPITAL 不能为负数")
	}
	switch c.Storage.Backend {
	case BackendJSON, BackendBadger:
	default:
		return fmt.Errorf("未知的状态存储后端: %s", c.Storage.Backend)
	}
	if c.Storage.EncryptionKey != "" && c.Storage.Backend != BackendBadger {
		return fmt.Errorf("STATE_ENCRYPTION_KEY 仅支持 badger 后端")
	}
	if c.Model.CacheTTL < 0 {
		return fmt.Errorf("PREDICTION_CACHE_TTL 不能为负数")
	}
	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("strategy 配置无效: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk 配置无效: %w", err)
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseDurationEnv 解析时长环境变量（如 "30s"）
func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
