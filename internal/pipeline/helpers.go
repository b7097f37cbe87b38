package pipeline

import (
	"sort"

	"github.com/betbot/adaptrade/internal/domain"
	"github.com/shopspring/decimal"
)

// riskStrategy 风控清仓信号的策略名
const riskStrategy = "risk_control"

// scaleQuantity 数量乘以系数后向下取整到整手
func scaleQuantity(qty int64, factor float64, lot int64) int64 {
	if qty <= 0 || factor <= 0 || lot <= 0 {
		return 0
	}
	if factor >= 1 {
		return qty
	}
	lots := decimal.NewFromInt(qty).
		Mul(decimal.NewFromFloat(factor)).
		Div(decimal.NewFromInt(lot)).
		Floor()
	return lots.Mul(decimal.NewFromInt(lot)).IntPart()
}

// withMeta 复制 metadata 并合并新字段
func withMeta(meta map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+len(extra))
	for k, v := range meta {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]domain.Position) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
