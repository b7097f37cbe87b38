package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/betbot/adaptrade/internal/domain"
	"github.com/betbot/adaptrade/internal/risk"
	"github.com/betbot/adaptrade/internal/signals"
)

// SignalRecord 已落库的信号
type SignalRecord struct {
	TickID string        `json:"tick_id"`
	Signal domain.Signal `json:"signal"`
}

// SkipRecord 已落库的跳过记录
type SkipRecord struct {
	TickID string       `json:"tick_id"`
	Skip   signals.Skip `json:"skip"`
	TS     time.Time    `json:"ts"`
}

// DecisionRecord 已落库的风控决策
type DecisionRecord struct {
	Decision risk.Decision `json:"decision"`
	TS       time.Time     `json:"ts"`
}

// RecordSignals 写入一批信号（单事务）
func (j *Journal) RecordSignals(ctx context.Context, tickID string, sigs []domain.Signal) error {
	if len(sigs) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range sigs {
		meta, err := json.Marshal(s.Metadata)
		if err != nil {
			return fmt.Errorf("marshal signal metadata %s: %w", s.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO signals (account_id, tick_id, signal_id, symbol, action, price, quantity, confidence, strategy_name, metadata_json, ts)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, j.accountID, tickID, s.ID, s.Symbol, string(s.Action), s.Price, s.Quantity, s.Confidence, s.StrategyName, string(meta), formatTS(s.Timestamp)); err != nil {
			return fmt.Errorf("insert signal: %w", err)
		}
	}
	return tx.Commit()
}

// ListSignals 最近的信号（新到旧）
func (j *Journal) ListSignals(ctx context.Context, limit int) ([]SignalRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT tick_id, signal_id, symbol, action, price, quantity, confidence, strategy_name, metadata_json, ts
FROM signals
WHERE account_id=?
ORDER BY id DESC
LIMIT ?
`, j.accountID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var (
			rec    SignalRecord
			action string
			meta   string
			ts     string
		)
		if err := rows.Scan(&rec.TickID, &rec.Signal.ID, &rec.Signal.Symbol, &action, &rec.Signal.Price,
			&rec.Signal.Quantity, &rec.Signal.Confidence, &rec.Signal.StrategyName, &meta, &ts); err != nil {
			return nil, err
		}
		rec.Signal.Action = domain.Action(action)
		rec.Signal.Timestamp = parseTS(ts)
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &rec.Signal.Metadata); err != nil {
				return nil, fmt.Errorf("decode signal metadata %s: %w", rec.Signal.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordSkips 写入跳过记录
func (j *Journal) RecordSkips(ctx context.Context, tickID string, at time.Time, skips []signals.Skip) error {
	if len(skips) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range skips {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO skips (account_id, tick_id, symbol, reason, detail, ts)
VALUES (?,?,?,?,?,?)
`, j.accountID, tickID, s.Symbol, string(s.Reason), s.Detail, formatTS(at)); err != nil {
			return fmt.Errorf("insert skip: %w", err)
		}
	}
	return tx.Commit()
}

// ListSkips 某个 tick 的跳过记录（按写入顺序）
func (j *Journal) ListSkips(ctx context.Context, tickID string) ([]SkipRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT tick_id, symbol, reason, detail, ts
FROM skips
WHERE account_id=? AND tick_id=?
ORDER BY id ASC
`, j.accountID, tickID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SkipRecord
	for rows.Next() {
		var (
			rec    SkipRecord
			reason string
			ts     string
		)
		if err := rows.Scan(&rec.TickID, &rec.Skip.Symbol, &reason, &rec.Skip.Detail, &ts); err != nil {
			return nil, err
		}
		rec.Skip.Reason = signals.SkipReason(reason)
		rec.TS = parseTS(ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordParameters 写入本周期的自适应参数
func (j *Journal) RecordParameters(ctx context.Context, tickID string, p domain.AdaptiveParameters) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO parameters (account_id, tick_id, regime, risk_level, buy_threshold, sell_threshold, confidence_threshold, max_position, max_drawdown_limit, daily_loss_limit, reason, ts)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
`, j.accountID, tickID, string(p.Regime), string(p.RiskLevel), p.BuyThreshold, p.SellThreshold, p.ConfidenceThreshold,
		p.MaxPosition, p.MaxDrawdownLimit, p.DailyLossLimit, p.Reason, formatTS(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert parameters: %w", err)
	}
	return nil
}

// ListParameters 最近的参数记录（新到旧）
func (j *Journal) ListParameters(ctx context.Context, limit int) ([]domain.AdaptiveParameters, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT regime, risk_level, buy_threshold, sell_threshold, confidence_threshold, max_position, max_drawdown_limit, daily_loss_limit, reason, ts
FROM parameters
WHERE account_id=?
ORDER BY id DESC
LIMIT ?
`, j.accountID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AdaptiveParameters
	for rows.Next() {
		var (
			p             domain.AdaptiveParameters
			regime, level string
			ts            string
		)
		if err := rows.Scan(&regime, &level, &p.BuyThreshold, &p.SellThreshold, &p.ConfidenceThreshold,
			&p.MaxPosition, &p.MaxDrawdownLimit, &p.DailyLossLimit, &p.Reason, &ts); err != nil {
			return nil, err
		}
		p.Regime = domain.MarketRegime(regime)
		p.RiskLevel = domain.RiskLevel(level)
		p.CreatedAt = parseTS(ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordDecision 写入风控决策
func (j *Journal) RecordDecision(ctx context.Context, at time.Time, d risk.Decision) error {
	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshal decision metadata: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
INSERT INTO decisions (account_id, action, reason, position_factor, metadata_json, ts)
VALUES (?,?,?,?,?,?)
`, j.accountID, string(d.Action), d.Reason, d.PositionAdjustmentFactor, string(meta), formatTS(at))
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// ListDecisions 最近的风控决策（新到旧）
func (j *Journal) ListDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT action, reason, position_factor, metadata_json, ts
FROM decisions
WHERE account_id=?
ORDER BY id DESC
LIMIT ?
`, j.accountID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var (
			rec    DecisionRecord
			action string
			meta   string
			ts     string
		)
		if err := rows.Scan(&action, &rec.Decision.Reason, &rec.Decision.PositionAdjustmentFactor, &meta, &ts); err != nil {
			return nil, err
		}
		rec.Decision.Action = risk.Action(action)
		rec.TS = parseTS(ts)
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &rec.Decision.Metadata); err != nil {
				return nil, fmt.Errorf("decode decision metadata: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordRiskEvent 实现 risk.EventSink
func (j *Journal) RecordRiskEvent(ev risk.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	metrics, err := json.Marshal(ev.Metrics)
	if err != nil {
		return fmt.Errorf("marshal risk metrics: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
INSERT INTO risk_events (account_id, event_type, severity, description, action_taken, metrics_json, ts)
VALUES (?,?,?,?,?,?,?)
`, j.accountID, ev.EventType, string(ev.Severity), ev.Description, string(ev.ActionTaken), string(metrics), formatTS(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("insert risk event: %w", err)
	}
	j.log.Debugf("[journal] risk event %s (%s)", ev.EventType, ev.Severity)
	return nil
}

// ListRiskEvents 风控事件（按发生顺序，旧到新）
func (j *Journal) ListRiskEvents(ctx context.Context, limit int) ([]risk.Event, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT event_type, severity, description, action_taken, metrics_json, ts
FROM (
  SELECT id, event_type, severity, description, action_taken, metrics_json, ts
  FROM risk_events
  WHERE account_id=?
  ORDER BY id DESC
  LIMIT ?
)
ORDER BY id ASC
`, j.accountID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []risk.Event
	for rows.Next() {
		var (
			ev               risk.Event
			severity, action string
			metrics          string
			ts               string
		)
		if err := rows.Scan(&ev.EventType, &severity, &ev.Description, &action, &metrics, &ts); err != nil {
			return nil, err
		}
		ev.Severity = risk.Severity(severity)
		ev.ActionTaken = risk.Action(action)
		ev.Timestamp = parseTS(ts)
		if metrics != "" && metrics != "null" {
			if err := json.Unmarshal([]byte(metrics), &ev.Metrics); err != nil {
				return nil, fmt.Errorf("decode risk metrics: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
