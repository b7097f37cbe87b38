package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	// currentLogFile 当前日志文件路径
	currentLogFile string
	// logMu 初始化锁
	logMu sync.Mutex
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`             // 日志级别: debug, info, warn, error
	OutputFile string `yaml:"output_file" json:"output_file"` // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    `yaml:"max_size" json:"max_size"`       // 日志文件最大大小（MB）
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // 保留的旧日志文件数量
	MaxAge     int    `yaml:"max_age" json:"max_age"`         // 保留旧日志文件的天数
	Compress   bool   `yaml:"compress" json:"compress"`       // 是否压缩旧日志文件
	JSON       bool   `yaml:"json" json:"json"`               // JSON 格式输出（便于采集）
	Quiet      bool   `yaml:"quiet" json:"quiet"`             // 不输出到控制台
}

func formatter(cfg Config) logrus.Formatter {
	if cfg.JSON {
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05", // 格式: yy-mm-dd HH:MM:ss
		ForceColors:     cfg.OutputFile == "",
	}
}

func output(cfg Config) (io.Writer, error) {
	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, os.Stdout)
	}

	if cfg.OutputFile != "" {
		// 确保日志目录存在
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return nil, err
		}
		// 配置日志轮转
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}

	if len(writers) == 0 {
		return io.Discard, nil
	}
	return io.MultiWriter(writers...), nil
}

// New 按配置创建独立的 logger（每个账户一个实例，不影响全局）
func New(cfg Config) (*logrus.Logger, error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetFormatter(formatter(cfg))

	w, err := output(cfg)
	if err != nil {
		return nil, err
	}
	l.SetOutput(w)
	return l, nil
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	l, err := New(config)
	if err != nil {
		return err
	}

	// 同时设置全局 logrus 的输出，确保所有使用 logrus 的地方都能写入文件
	// 这样各组件使用 logrus.WithField() 创建的 logger 也能写入文件
	logrus.SetOutput(l.Out)
	logrus.SetLevel(l.GetLevel())
	logrus.SetFormatter(l.Formatter)

	Logger = l
	currentLogFile = config.OutputFile
	return nil
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:      "info",
		OutputFile: "logs/signalbot.log",
		MaxSize:    100, // 100MB
		MaxBackups: 3,
		MaxAge:     7, // 7天
		Compress:   true,
	})
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.WithField(key, value)
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.WithFields(fields)
}

// GetCurrentLogFile 获取当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
