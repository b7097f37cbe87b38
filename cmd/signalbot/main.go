package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/adaptrade/internal/journal"
	"github.com/betbot/adaptrade/internal/metrics"
	"github.com/betbot/adaptrade/internal/pipeline"
	"github.com/betbot/adaptrade/internal/predict"
	"github.com/betbot/adaptrade/internal/risk"
	"github.com/betbot/adaptrade/pkg/config"
	"github.com/betbot/adaptrade/pkg/logger"
	"github.com/betbot/adaptrade/pkg/persistence"
	"github.com/betbot/adaptrade/pkg/shutdown"
)

func firstExistingFile(paths ...string) (string, bool) {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// tickResult 单个周期的输出
type tickResult struct {
	Tick     pipeline.TickOutput `json:"tick"`
	Decision *risk.Decision      `json:"decision,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	inputPath := flag.String("input", "", "周期输入文件（JSON，单个对象或 {\"ticks\": [...]}）")
	envPath := flag.String("env", ".env", ".env 文件路径（不存在则忽略）")
	hold := flag.Bool("hold", false, "处理完输入后保持运行（配合 metrics 服务），直到收到退出信号")
	flag.Parse()

	if p, ok := firstExistingFile(*envPath); ok {
		if err := godotenv.Load(p); err != nil {
			fmt.Fprintf(os.Stderr, "加载 .env 失败: %v\n", err)
			os.Exit(1)
		}
	}

	if strings.TrimSpace(*configPath) == "" {
		if p, ok := firstExistingFile("yml/signalbot.yaml", "yml/signalbot.yml", "signalbot.json"); ok {
			*configPath = p
		}
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}
	if *configPath != "" {
		logrus.Infof("使用配置文件: %s", *configPath)
	} else {
		logrus.Warnf("未指定配置文件，将使用环境变量和默认值")
	}

	if strings.TrimSpace(*inputPath) == "" {
		logrus.Errorf("必须通过 -input 指定周期输入文件")
		os.Exit(2)
	}
	ticks, err := loadInput(*inputPath)
	if err != nil {
		logrus.Errorf("加载输入失败: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closer := shutdown.NewManager(logger.WithField("module", "shutdown"))
	code := run(ctx, cfg, ticks, closer, *hold)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := closer.Shutdown(shutdownCtx); err != nil {
		logrus.Warnf("关闭资源失败: %v", err)
	}
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, ticks []tickFile, closer *shutdown.Manager, hold bool) int {
	log := logger.WithFields(logrus.Fields{"module": "signalbot", "account": cfg.AccountID})

	if cfg.Metrics.Listen != "" {
		if _, err := metrics.StartAsync(ctx, cfg.Metrics.Listen, logger.WithField("module", "metrics")); err != nil {
			log.Errorf("启动 metrics 服务失败: %v", err)
			return 1
		}
	}

	store, err := openStore(cfg.Storage, closer)
	if err != nil {
		log.Errorf("打开状态存储失败: %v", err)
		return 1
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger.WithField("module", "pipeline")),
		pipeline.WithStore(store),
	}
	if cfg.Storage.JournalPath != "" {
		j, err := journal.Open(cfg.Storage.JournalPath, cfg.AccountID)
		if err != nil {
			log.Errorf("打开审计库失败: %v", err)
			return 1
		}
		closer.OnShutdown("journal", shutdown.Closer(j))
		opts = append(opts, pipeline.WithJournal(j))
		log.Infof("审计库: %s", cfg.Storage.JournalPath)
	}

	rp := &replay{}
	pred, err := buildPredictor(cfg.Model, rp, closer)
	if err != nil {
		log.Errorf("初始化预测模型失败: %v", err)
		return 1
	}

	p, err := pipeline.New(pipeline.Config{
		AccountID:      cfg.AccountID,
		RiskLevel:      cfg.RiskLevel,
		InitialCapital: cfg.InitialCapital,
		Strategy:       cfg.Strategy,
		Risk:           cfg.Risk,
	}, pred, opts...)
	if err != nil {
		log.Errorf("创建流水线失败: %v", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for i, tf := range ticks {
		if ctx.Err() != nil {
			log.Warnf("收到退出信号，停止处理（已处理 %d/%d）", i, len(ticks))
			return 1
		}
		rp.use(tf.Predictions)
		res, err := runTick(ctx, p, tf)
		if err != nil {
			log.Errorf("第 %d 个周期处理失败: %v", i+1, err)
			return 1
		}
		if err := enc.Encode(res); err != nil {
			log.Errorf("输出结果失败: %v", err)
			return 1
		}
	}

	if hold {
		log.Infof("输入已处理完毕，等待退出信号（Ctrl+C）")
		<-ctx.Done()
	}
	return 0
}

func runTick(ctx context.Context, p *pipeline.Pipeline, tf tickFile) (tickResult, error) {
	if tf.BeginDay != nil {
		if err := p.BeginTradingDay(*tf.BeginDay); err != nil {
			return tickResult{}, errors.Wrap(err, "begin trading day")
		}
	}
	out, err := p.Tick(ctx, tf.toInput())
	if err != nil {
		return tickResult{}, errors.Wrap(err, "tick")
	}
	res := tickResult{Tick: out}
	if tf.Account != nil {
		d, err := p.Settle(ctx, *tf.Account)
		if err != nil {
			return tickResult{}, errors.Wrap(err, "settle")
		}
		res.Decision = &d
	}
	return res, nil
}

func openStore(sc config.StorageConfig, closer *shutdown.Manager) (persistence.Service, error) {
	switch sc.Backend {
	case config.BackendBadger:
		var key []byte
		if sc.EncryptionKey != "" {
			k, err := persistence.ParseEncryptionKey(sc.EncryptionKey)
			if err != nil {
				return nil, err
			}
			key = k
		}
		svc, err := persistence.OpenBadgerService(persistence.BadgerOptions{
			Path:          sc.StateDir,
			EncryptionKey: key,
		})
		if err != nil {
			return nil, err
		}
		closer.OnShutdown("badger", shutdown.Closer(svc))
		logrus.Infof("状态存储: badger %s (加密=%v)", sc.StateDir, key != nil)
		return svc, nil
	default:
		if err := os.MkdirAll(sc.StateDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create state dir")
		}
		logrus.Infof("状态存储: json %s", filepath.Clean(sc.StateDir))
		return persistence.NewJSONFileService(sc.StateDir), nil
	}
}

// buildPredictor 配置了模型路径时使用 ONNX，否则使用输入文件里的预测值
func buildPredictor(mc config.ModelConfig, rp *replay, closer *shutdown.Manager) (predict.Predictor, error) {
	var pred predict.Predictor
	if mc.ONNX.ModelPath != "" {
		m, err := predict.NewONNXModel(mc.ONNX)
		if err != nil {
			return nil, err
		}
		closer.OnShutdown("onnx", func(context.Context) error { m.Close(); return nil })
		logrus.Infof("预测模型: onnx %s", mc.ONNX.ModelPath)
		pred = m
	} else {
		pred = rp
	}
	if mc.CacheTTL > 0 {
		c := predict.NewCached(pred, mc.CacheTTL)
		closer.OnShutdown("prediction-cache", func(context.Context) error { c.Close(); return nil })
		pred = c
	}
	return pred, nil
}
