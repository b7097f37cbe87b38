// Package journal SQLite 审计日志：信号、跳过记录、参数、风控决策与风控事件。
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// eventTimeout RecordRiskEvent 没有调用方 ctx，单次写入超时
const eventTimeout = 5 * time.Second

// Journal 单账户审计日志
type Journal struct {
	db        *sql.DB
	accountID string
	log       *logrus.Entry
}

// Open 打开（必要时创建）SQLite 文件并建表
func Open(path, accountID string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	if accountID == "" {
		accountID = "default"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{
		db:        db,
		accountID: accountID,
		log:       logrus.WithFields(logrus.Fields{"module": "journal", "account": accountID}),
	}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close 关闭数据库
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS signals (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  account_id TEXT NOT NULL,
  tick_id TEXT NOT NULL,
  signal_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  action TEXT NOT NULL,
  price REAL NOT NULL,
  quantity INTEGER NOT NULL,
  confidence REAL NOT NULL,
  strategy_name TEXT NOT NULL,
  metadata_json TEXT NOT NULL,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_signals_account_ts ON signals(account_id, ts DESC);`,
		`
CREATE TABLE IF NOT EXISTS skips (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  account_id TEXT NOT NULL,
  tick_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  reason TEXT NOT NULL,
  detail TEXT NOT NULL,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_skips_tick ON skips(tick_id);`,
		`
CREATE TABLE IF NOT EXISTS parameters (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  account_id TEXT NOT NULL,
  tick_id TEXT NOT NULL,
  regime TEXT NOT NULL,
  risk_level TEXT NOT NULL,
  buy_threshold REAL NOT NULL,
  sell_threshold REAL NOT NULL,
  confidence_threshold REAL NOT NULL,
  max_position REAL NOT NULL,
  max_drawdown_limit REAL NOT NULL,
  daily_loss_limit REAL NOT NULL,
  reason TEXT NOT NULL,
  ts TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS decisions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  account_id TEXT NOT NULL,
  action TEXT NOT NULL,
  reason TEXT NOT NULL,
  position_factor REAL NOT NULL,
  metadata_json TEXT NOT NULL,
  ts TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS risk_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  account_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  severity TEXT NOT NULL, -- LOW | MEDIUM | HIGH | CRITICAL
  description TEXT NOT NULL,
  action_taken TEXT NOT NULL,
  metrics_json TEXT NOT NULL,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_account_ts ON risk_events(account_id, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 2000 {
		return 200
	}
	return limit
}

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
