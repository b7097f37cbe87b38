package adaptive

import "github.com/betbot/adaptrade/internal/domain"

// preset 风险偏好对应的基础参数
type preset struct {
	BuyThreshold        float64
	SellThreshold       float64
	ConfidenceThreshold float64
	MaxPosition         float64
	MaxDrawdownLimit    float64
	DailyLossLimit      float64
}

var presets = map[domain.RiskLevel]preset{
	domain.RiskConservative: {
		BuyThreshold:        0.015,
		SellThreshold:       -0.02,
		ConfidenceThreshold: 0.65,
		MaxPosition:         0.20,
		MaxDrawdownLimit:    0.10,
		DailyLossLimit:      0.02,
	},
	domain.RiskModerate: {
		BuyThreshold:        0.01,
		SellThreshold:       -0.03,
		ConfidenceThreshold: 0.55,
		MaxPosition:         0.30,
		MaxDrawdownLimit:    0.15,
		DailyLossLimit:      0.03,
	},
	domain.RiskAggressive: {
		BuyThreshold:        0.005,
		SellThreshold:       -0.04,
		ConfidenceThreshold: 0.45,
		MaxPosition:         0.40,
		MaxDrawdownLimit:    0.20,
		DailyLossLimit:      0.05,
	},
}

// Base 返回风险偏好对应的基础参数（未知偏好按 CONSERVATIVE）
func Base(level domain.RiskLevel) domain.AdaptiveParameters {
	p, ok := presets[level]
	if !ok {
		level = domain.RiskConservative
		p = presets[level]
	}
	return domain.AdaptiveParameters{
		BuyThreshold:        p.BuyThreshold,
		SellThreshold:       p.SellThreshold,
		ConfidenceThreshold: p.ConfidenceThreshold,
		MaxPosition:         p.MaxPosition,
		MaxDrawdownLimit:    p.MaxDrawdownLimit,
		DailyLossLimit:      p.DailyLossLimit,
		Regime:              domain.RegimeNeutral,
		RiskLevel:           level,
	}
}
