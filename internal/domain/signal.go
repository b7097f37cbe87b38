package domain

import (
	"fmt"
	"time"
)

// Action 交易方向
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// SignalType 确认信号来源
type SignalType string

const (
	SignalAI       SignalType = "AI"
	SignalTrend    SignalType = "TREND"
	SignalMomentum SignalType = "MOMENTUM"
	SignalVolume   SignalType = "VOLUME"
	SignalRSI      SignalType = "RSI"
)

// SignalConfirmation 单条确认证据（每次评估临时生成，不单独持久化）
type SignalConfirmation struct {
	Type        SignalType `json:"type"`
	Value       float64    `json:"value"`
	Weight      float64    `json:"weight"`
	Description string     `json:"description"`
}

// WeightedScore 确认权重之和
func WeightedScore(cs []SignalConfirmation) float64 {
	var sum float64
	for _, c := range cs {
		sum += c.Weight
	}
	return sum
}

// Signal 交易信号；由执行层一次性消费
type Signal struct {
	ID           string         `json:"signal_id"`
	Symbol       string         `json:"symbol"`
	Action       Action         `json:"action"`
	Price        float64        `json:"price"`
	Quantity     int64          `json:"quantity"`
	Confidence   float64        `json:"confidence"`
	Timestamp    time.Time      `json:"timestamp"`
	StrategyName string         `json:"strategy_name"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// SignalID 生成信号 ID：{strategy}_{action}_{symbol}_{yyyyMMddHHmmss}
func SignalID(strategy string, action Action, symbol string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s", strategy, action, symbol, ts.Format("20060102150405"))
}

// AdaptiveParameters 每个评估周期生成一次的参数集，创建后不可变
type AdaptiveParameters struct {
	BuyThreshold        float64      `json:"buy_threshold"`
	SellThreshold       float64      `json:"sell_threshold"`
	ConfidenceThreshold float64      `json:"confidence_threshold"`
	MaxPosition         float64      `json:"max_position"`
	MaxDrawdownLimit    float64      `json:"max_drawdown_limit"`
	DailyLossLimit      float64      `json:"daily_loss_limit"`
	Regime              MarketRegime `json:"regime"`
	RiskLevel           RiskLevel    `json:"risk_level"`
	Reason              string       `json:"reason"`
	CreatedAt           time.Time    `json:"created_at"`
}
