package signals

// SkipReason 标的未产生信号的原因
type SkipReason string

const (
	SkipMissingQuote          SkipReason = "missing_quote"
	SkipInsufficientHistory   SkipReason = "insufficient_history"
	SkipInvalidFeatures       SkipReason = "invalid_features"
	SkipPredictionUnavailable SkipReason = "prediction_unavailable"
	SkipInvalidPrice          SkipReason = "invalid_price"
	SkipInternalError         SkipReason = "internal_error"
	SkipZeroQuantity          SkipReason = "zero_quantity"
	SkipNotConfirmed          SkipReason = "not_confirmed"
	SkipHold                  SkipReason = "hold"
)

// IsFailure 是否属于可恢复的输入/计算失败（而非正常的“条件未满足”）
func (r SkipReason) IsFailure() bool {
	switch r {
	case SkipNotConfirmed, SkipHold, SkipZeroQuantity:
		return false
	}
	return true
}

// Skip 单个标的的跳过记录
type Skip struct {
	Symbol string     `json:"symbol"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail"`
}

func newSkip(symbol string, reason SkipReason, detail string) *Skip {
	return &Skip{Symbol: symbol, Reason: reason, Detail: detail}
}
