package domain

import "time"

// Trade 已实现的一笔交易（由执行层回报，用于连续亏损统计）
type Trade struct {
	Symbol   string    `json:"symbol"`
	PnL      float64   `json:"pnl"`
	ClosedAt time.Time `json:"closed_at"`
}

// IsLoss 亏损交易
func (t Trade) IsLoss() bool {
	return t.PnL < 0
}
