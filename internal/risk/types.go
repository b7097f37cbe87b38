package risk

import (
	"time"

	"github.com/betbot/adaptrade/internal/domain"
)

// Action 风控动作
type Action string

const (
	ActionContinue       Action = "CONTINUE"
	ActionReducePosition Action = "REDUCE_POSITION"
	ActionStopTrading    Action = "STOP_TRADING"
	ActionCloseAll       Action = "CLOSE_ALL"
	ActionWarning        Action = "WARNING"
)

// BlocksEntries 该动作下是否禁止新开仓
func (a Action) BlocksEntries() bool {
	return a == ActionStopTrading || a == ActionCloseAll
}

// Severity 风险事件级别
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Decision 风控决策
type Decision struct {
	Action                   Action         `json:"action"`
	Reason                   string         `json:"reason"`
	PositionAdjustmentFactor float64        `json:"position_adjustment_factor"`
	Metadata                 map[string]any `json:"metadata,omitempty"`
}

// Event 风控审计事件（只追加）
type Event struct {
	Timestamp   time.Time          `json:"timestamp"`
	EventType   string             `json:"event_type"`
	Severity    Severity           `json:"severity"`
	Description string             `json:"description"`
	ActionTaken Action             `json:"action_taken"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// 事件类型
const (
	EventMaxDrawdown       = "max_drawdown_breach"
	EventDrawdownWarning   = "drawdown_warning"
	EventDailyLoss         = "daily_loss_breach"
	EventDailyLossWarning  = "daily_loss_warning"
	EventConsecutiveLosses = "consecutive_losses"
	EventConcentration     = "position_concentration"
	EventEvaluationFailure = "evaluation_failure"
	EventManualHalt        = "manual_halt"
)

// Snapshot 执行层在成交后提供的账户快照
type Snapshot struct {
	Equity       float64                    `json:"equity"`
	Positions    map[string]domain.Position `json:"positions"`
	DailyPnL     *float64                   `json:"daily_pnl,omitempty"`
	RecentTrades []domain.Trade             `json:"recent_trades,omitempty"`
}

// State 风控器内部状态的可持久化快照
type State struct {
	PeakEquity              float64    `json:"peak_equity"`
	DailyStartEquity        float64    `json:"daily_start_equity"`
	ConsecutiveLossDays     int        `json:"consecutive_loss_days"`
	ConsecutiveLosingTrades int        `json:"consecutive_losing_trades"`
	TradingHalted           bool       `json:"is_trading_halted"`
	HaltUntil               *time.Time `json:"halt_until,omitempty"`
	HaltReason              string     `json:"halt_reason,omitempty"`
}

// EventSink 风控事件的外部接收方（例如审计日志库）
type EventSink interface {
	RecordRiskEvent(ev Event) error
}
