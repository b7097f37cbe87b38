package risk

import (
	"fmt"
	"time"
)

// Config 风控限额配置
type Config struct {
	MaxDrawdown          float64 `yaml:"max_drawdown" json:"max_drawdown"`                     // 最大回撤（默认0.15）
	MaxDailyLoss         float64 `yaml:"max_daily_loss" json:"max_daily_loss"`                 // 单日最大亏损（默认0.03）
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses" json:"max_consecutive_losses"` // 连续亏损笔数（默认3）
	MaxSinglePosition    float64 `yaml:"max_single_position" json:"max_single_position"`       // 单标的最大占比（默认0.30）

	DrawdownHalt  time.Duration `yaml:"drawdown_halt" json:"drawdown_halt"`     // 回撤熔断时长（默认24h）
	DailyLossHalt time.Duration `yaml:"daily_loss_halt" json:"daily_loss_halt"` // 日亏熔断时长（默认6h）
	TradeLookback int           `yaml:"trade_lookback" json:"trade_lookback"`   // 连亏扫描的最近成交数（默认10）

	DrawdownWarnRatio  float64 `yaml:"drawdown_warn_ratio" json:"drawdown_warn_ratio"`     // 回撤减仓线（默认0.8）
	DailyLossWarnRatio float64 `yaml:"daily_loss_warn_ratio" json:"daily_loss_warn_ratio"` // 日亏预警线（默认0.7）
	ReduceFactor       float64 `yaml:"reduce_factor" json:"reduce_factor"`                 // 减仓系数（默认0.5）
	SevereReduceFactor float64 `yaml:"severe_reduce_factor" json:"severe_reduce_factor"`   // 严重连亏减仓系数（默认0.3）
}

// Defaults 填充零值字段
func (c *Config) Defaults() {
	if c.MaxDrawdown == 0 {
		c.MaxDrawdown = 0.15
	}
	if c.MaxDailyLoss == 0 {
		c.MaxDailyLoss = 0.03
	}
	if c.MaxConsecutiveLosses == 0 {
		c.MaxConsecutiveLosses = 3
	}
	if c.MaxSinglePosition == 0 {
		c.MaxSinglePosition = 0.30
	}
	if c.DrawdownHalt == 0 {
		c.DrawdownHalt = 24 * time.Hour
	}
	if c.DailyLossHalt == 0 {
		c.DailyLossHalt = 6 * time.Hour
	}
	if c.TradeLookback == 0 {
		c.TradeLookback = 10
	}
	if c.DrawdownWarnRatio == 0 {
		c.DrawdownWarnRatio = 0.8
	}
	if c.DailyLossWarnRatio == 0 {
		c.DailyLossWarnRatio = 0.7
	}
	if c.ReduceFactor == 0 {
		c.ReduceFactor = 0.5
	}
	if c.SevereReduceFactor == 0 {
		c.SevereReduceFactor = 0.3
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.MaxDrawdown <= 0 || c.MaxDrawdown >= 1 {
		return fmt.Errorf("max_drawdown 必须在 (0, 1) 范围内")
	}
	if c.MaxDailyLoss <= 0 || c.MaxDailyLoss >= 1 {
		return fmt.Errorf("max_daily_loss 必须在 (0, 1) 范围内")
	}
	if c.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("max_consecutive_losses 必须 >= 1")
	}
	if c.MaxSinglePosition <= 0 || c.MaxSinglePosition > 1 {
		return fmt.Errorf("max_single_position 必须在 (0, 1] 范围内")
	}
	if c.DrawdownHalt <= 0 || c.DailyLossHalt <= 0 {
		return fmt.Errorf("熔断时长必须 > 0")
	}
	if c.TradeLookback < c.MaxConsecutiveLosses {
		return fmt.Errorf("trade_lookback 不能小于 max_consecutive_losses")
	}
	if c.DrawdownWarnRatio <= 0 || c.DrawdownWarnRatio >= 1 {
		return fmt.Errorf("drawdown_warn_ratio 必须在 (0, 1) 范围内")
	}
	if c.DailyLossWarnRatio <= 0 || c.DailyLossWarnRatio >= 1 {
		return fmt.Errorf("daily_loss_warn_ratio 必须在 (0, 1) 范围内")
	}
	if c.ReduceFactor <= 0 || c.ReduceFactor > 1 || c.SevereReduceFactor <= 0 || c.SevereReduceFactor > 1 {
		return fmt.Errorf("减仓系数必须在 (0, 1] 范围内")
	}
	return nil
}
