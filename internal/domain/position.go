package domain

// Position 持仓（统一的值类型，所有组件共用）
type Position struct {
	AvgCost     float64 `json:"avg_cost" yaml:"avg_cost"`
	Quantity    int64   `json:"quantity" yaml:"quantity"`
	MarketValue float64 `json:"market_value,omitempty" yaml:"market_value"`
}

// IsOpen 是否持有
func (p Position) IsOpen() bool {
	return p.Quantity > 0
}

// Value 持仓市值；未提供市值时按成本估算
func (p Position) Value() float64 {
	if p.MarketValue != 0 {
		return p.MarketValue
	}
	return p.AvgCost * float64(p.Quantity)
}

// Return 按当前价格计算的未实现收益率
func (p Position) Return(price float64) float64 {
	if p.AvgCost <= 0 {
		return 0
	}
	return (price - p.AvgCost) / p.AvgCost
}
