package metrics

import "expvar"

var (
	Ticks          = expvar.NewInt("ticks")
	SignalsBuy     = expvar.NewInt("signals_buy")
	SignalsSell    = expvar.NewInt("signals_sell")
	SignalsBlocked = expvar.NewInt("signals_blocked") // 风控拦截的 BUY
	SignalsScaled  = expvar.NewInt("signals_scaled")  // 按减仓系数缩量的 BUY

	// 按原因统计的跳过数
	Skips = expvar.NewMap("skips")
	// 按动作统计的风控决策数
	RiskDecisions = expvar.NewMap("risk_decisions")

	RiskHalts       = expvar.NewInt("risk_halts")
	RiskFailClosed  = expvar.NewInt("risk_fail_closed")
	JournalErrors   = expvar.NewInt("journal_errors")
	SnapshotSaves   = expvar.NewInt("snapshot_saves")
	SnapshotLoads   = expvar.NewInt("snapshot_loads")
	SnapshotErrors  = expvar.NewInt("snapshot_errors")
	PredictorErrors = expvar.NewInt("predictor_errors")
)
