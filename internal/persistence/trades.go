package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/arena-engine/internal/domain"
)

// SaveModelState upserts the current cash/total assets/profit snapshot for
// one agent. Called once per agent per trade date after the pipeline's
// record_daily node runs.
func (s *Store) SaveModelState(sessionID, modelName string, cash, totalAssets, profitPct float64) error {
	_, err := s.db.Exec(`
		INSERT INTO arena_model_state (session_id, model_name, cash, total_assets, profit_pct, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, model_name) DO UPDATE SET
			cash = excluded.cash, total_assets = excluded.total_assets,
			profit_pct = excluded.profit_pct, updated_at = excluded.updated_at`,
		sessionID, modelName, cash, totalAssets, profitPct, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("save model state %s/%s: %w", sessionID, modelName, err)
	}
	return nil
}

// SaveDailyAsset records one day's asset-curve point. Idempotent: replaying
// the same (session, model, date) triple is a no-op, which lets recovery
// re-run a partially-applied day without duplicating rows.
func (s *Store) SaveDailyAsset(sessionID, modelName string, point domain.DailyAssetPoint) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO arena_daily_assets
			(session_id, model_name, trade_date, assets, cash, holdings_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, modelName, point.Date, point.TotalAssets, point.Cash, point.HoldingsValue,
		time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("save daily asset %s/%s/%s: %w", sessionID, modelName, point.Date, err)
	}
	return nil
}

// SaveTrade appends one executed fill. Trades are immutable; there is no
// update or delete path.
func (s *Store) SaveTrade(sessionID, modelName string, t domain.Trade) error {
	_, err := s.db.Exec(`
		INSERT INTO arena_trades
			(session_id, model_name, trade_date, stock_code, name, action, price, volume, amount,
			 reason, time, profit, profit_pct, commission, stamp_tax, cash_before, assets_before, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, modelName, t.Date, t.Code, t.Name, string(t.Action), t.Price, t.Amount, t.Total,
		t.Reason, t.Time, nullIfZero(t.Profit), nullIfZero(t.ProfitPct), t.Commission, t.StampTax,
		nullIfZero(t.CashBefore), nullIfZero(t.AssetsBefore), time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("save trade %s/%s/%s: %w", sessionID, modelName, t.Code, err)
	}
	return nil
}

// ReplaceHoldings overwrites the stored holdings snapshot for one agent.
// The prior snapshot is discarded; holdings are a point-in-time view, not
// an append-only log, because the current position is all a resume needs.
func (s *Store) ReplaceHoldings(sessionID, modelName string, holdings []domain.Holding) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace holdings %s/%s: %w", sessionID, modelName, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM arena_holdings WHERE session_id = ? AND model_name = ?`, sessionID, modelName); err != nil {
		return fmt.Errorf("clear holdings %s/%s: %w", sessionID, modelName, err)
	}

	now := time.Now().UTC().Format(timeFormat)
	for _, h := range holdings {
		_, err := tx.Exec(`
			INSERT INTO arena_holdings
				(session_id, model_name, stock_code, stock_name, amount, avg_price, current_price,
				 market_value, profit_loss, profit_pct, hold_days, buy_date, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, modelName, h.Code, h.Name, h.Amount, h.Cost, h.CurrentPrice,
			h.MarketValue(), h.MarketValue()-h.Cost*float64(h.Amount), h.ProfitPct(), h.HoldDays, h.BuyDate, now)
		if err != nil {
			return fmt.Errorf("insert holding %s/%s/%s: %w", sessionID, modelName, h.Code, err)
		}
	}

	return tx.Commit()
}

// SaveAILog appends one narrated decision-log line for an agent.
func (s *Store) SaveAILog(sessionID, modelName, timestamp, message, logType string) error {
	_, err := s.db.Exec(`
		INSERT INTO arena_ai_logs (session_id, model_name, timestamp, message, log_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, modelName, timestamp, message, logType, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("save ai log %s/%s: %w", sessionID, modelName, err)
	}
	return nil
}

// SaveReflection stores a periodic self-assessment and supersedes the
// agent's active principle set atomically.
func (s *Store) SaveReflection(sessionID, modelName string, r domain.Reflection, principles []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save reflection %s/%s: %w", sessionID, modelName, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeFormat)
	_, err = tx.Exec(`
		INSERT INTO agent_reflections
			(session_id, model_name, reflection_date, summary, cash_reflection, timing_reflection,
			 decision_reflection, strengths, weaknesses, adjustment_plan, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, modelName, r.Date, r.Summary, r.CashReflection, r.TimingReflection, r.DecisionReflection,
		joinLines(r.Strengths), joinLines(r.Weaknesses), joinLines(r.AdjustmentPlan), now)
	if err != nil {
		return fmt.Errorf("insert reflection %s/%s: %w", sessionID, modelName, err)
	}

	if _, err := tx.Exec(`UPDATE agent_principles SET is_active = 0 WHERE session_id = ? AND model_name = ?`,
		sessionID, modelName); err != nil {
		return fmt.Errorf("deactivate principles %s/%s: %w", sessionID, modelName, err)
	}
	for _, p := range principles {
		if _, err := tx.Exec(`
			INSERT INTO agent_principles (session_id, model_name, principle, created_at, is_active)
			VALUES (?, ?, ?, ?, 1)`, sessionID, modelName, p, now); err != nil {
			return fmt.Errorf("insert principle %s/%s: %w", sessionID, modelName, err)
		}
	}

	return tx.Commit()
}

// GetPrinciples returns the active principle set for one agent, newest first.
func (s *Store) GetPrinciples(sessionID, modelName string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT principle FROM agent_principles
		WHERE session_id = ? AND model_name = ? AND is_active = 1 ORDER BY id DESC`, sessionID, modelName)
	if err != nil {
		return nil, fmt.Errorf("get principles %s/%s: %w", sessionID, modelName, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan principle: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetLatestReflection returns the most recent reflection for one agent, if any.
func (s *Store) GetLatestReflection(sessionID, modelName string) (*domain.Reflection, error) {
	row := s.db.QueryRow(`
		SELECT reflection_date, summary, cash_reflection, timing_reflection, decision_reflection,
		       strengths, weaknesses, adjustment_plan
		FROM agent_reflections
		WHERE session_id = ? AND model_name = ? ORDER BY created_at DESC LIMIT 1`, sessionID, modelName)

	var r domain.Reflection
	var strengths, weaknesses, plan sql.NullString
	err := row.Scan(&r.Date, &r.Summary, &r.CashReflection, &r.TimingReflection, &r.DecisionReflection,
		&strengths, &weaknesses, &plan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest reflection %s/%s: %w", sessionID, modelName, err)
	}
	r.Model = modelName
	r.Strengths = splitLines(strengths.String)
	r.Weaknesses = splitLines(weaknesses.String)
	r.AdjustmentPlan = splitLines(plan.String)
	return &r, nil
}

// DailyAssets returns the asset curve for one agent within a session,
// ordered by date, optionally bounded to dates <= maxDate (empty means
// no bound).
func (s *Store) DailyAssets(sessionID, modelName, maxDate string) ([]domain.DailyAssetPoint, error) {
	query := `SELECT trade_date, assets, cash, holdings_value FROM arena_daily_assets
		WHERE session_id = ? AND model_name = ?`
	args := []interface{}{sessionID, modelName}
	if maxDate != "" {
		query += ` AND trade_date <= ?`
		args = append(args, maxDate)
	}
	query += ` ORDER BY trade_date`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("daily assets %s/%s: %w", sessionID, modelName, err)
	}
	defer rows.Close()

	var out []domain.DailyAssetPoint
	for rows.Next() {
		var p domain.DailyAssetPoint
		if err := rows.Scan(&p.Date, &p.TotalAssets, &p.Cash, &p.HoldingsValue); err != nil {
			return nil, fmt.Errorf("scan daily asset: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Trades returns every trade for one agent within a session, in execution order.
func (s *Store) Trades(sessionID, modelName string) ([]domain.Trade, error) {
	rows, err := s.db.Query(`
		SELECT trade_date, time, action, stock_code, name, volume, price, amount, commission, stamp_tax,
		       COALESCE(profit, 0), COALESCE(profit_pct, 0), reason,
		       COALESCE(cash_before, 0), COALESCE(assets_before, 0)
		FROM arena_trades WHERE session_id = ? AND model_name = ? ORDER BY id`, sessionID, modelName)
	if err != nil {
		return nil, fmt.Errorf("trades %s/%s: %w", sessionID, modelName, err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var action string
		if err := rows.Scan(&t.Date, &t.Time, &action, &t.Code, &t.Name, &t.Amount, &t.Price, &t.Total,
			&t.Commission, &t.StampTax, &t.Profit, &t.ProfitPct, &t.Reason, &t.CashBefore, &t.AssetsBefore); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Action = domain.TradeAction(action)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Holdings returns the current holdings snapshot for one agent.
func (s *Store) Holdings(sessionID, modelName string) ([]domain.Holding, error) {
	rows, err := s.db.Query(`
		SELECT stock_code, stock_name, amount, avg_price, current_price, hold_days, COALESCE(buy_date, '')
		FROM arena_holdings WHERE session_id = ? AND model_name = ?`, sessionID, modelName)
	if err != nil {
		return nil, fmt.Errorf("holdings %s/%s: %w", sessionID, modelName, err)
	}
	defer rows.Close()

	var out []domain.Holding
	for rows.Next() {
		var h domain.Holding
		if err := rows.Scan(&h.Code, &h.Name, &h.Amount, &h.Cost, &h.CurrentPrice, &h.HoldDays, &h.BuyDate); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// AILogs returns every narrated log line for one agent, in recorded order.
func (s *Store) AILogs(sessionID, modelName string) ([]LogEntry, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, message FROM arena_ai_logs
		WHERE session_id = ? AND model_name = ? ORDER BY id`, sessionID, modelName)
	if err != nil {
		return nil, fmt.Errorf("ai logs %s/%s: %w", sessionID, modelName, err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.Timestamp, &e.Message); err != nil {
			return nil, fmt.Errorf("scan ai log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LogEntry is one narrated decision-log line read back from arena_ai_logs.
type LogEntry struct {
	Timestamp string
	Message   string
}

// PurgeSession removes every row associated with a session, across all
// tables. Nothing in the engine calls it; recovery rolls an agent back with
// RollbackToDate instead.
func (s *Store) PurgeSession(sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin purge %s: %w", sessionID, err)
	}
	defer tx.Rollback()

	tables := []string{
		"arena_daily_assets", "arena_trades", "arena_holdings",
		"arena_ai_logs", "agent_reflections", "agent_principles",
		"arena_model_state", "arena_sessions",
	}
	for _, table := range tables {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, table), sessionID); err != nil {
			return fmt.Errorf("purge %s from %s: %w", sessionID, table, err)
		}
	}
	return tx.Commit()
}

// RollbackToDate deletes every trade, daily asset point, and reflection
// dated on or after cutoffDate for one agent, and drops the principle set
// that reflection produced (principles are matched by the created_at they
// share with their originating reflection row, not by comparing against
// cutoffDate directly — created_at is a wall-clock timestamp, trade dates
// are not). Holdings and model state are left alone here; internal/recovery
// rebuilds those from the surviving trade log once this commits.
func (s *Store) RollbackToDate(sessionID, modelName, cutoffDate string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rollback %s/%s: %w", sessionID, modelName, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM arena_trades WHERE session_id = ? AND model_name = ? AND trade_date >= ?`,
		sessionID, modelName, cutoffDate); err != nil {
		return fmt.Errorf("rollback trades %s/%s: %w", sessionID, modelName, err)
	}
	if _, err := tx.Exec(`DELETE FROM arena_daily_assets WHERE session_id = ? AND model_name = ? AND trade_date >= ?`,
		sessionID, modelName, cutoffDate); err != nil {
		return fmt.Errorf("rollback daily assets %s/%s: %w", sessionID, modelName, err)
	}
	if _, err := tx.Exec(`
		DELETE FROM agent_principles WHERE session_id = ? AND model_name = ? AND created_at IN (
			SELECT created_at FROM agent_reflections
			WHERE session_id = ? AND model_name = ? AND reflection_date >= ?
		)`, sessionID, modelName, sessionID, modelName, cutoffDate); err != nil {
		return fmt.Errorf("rollback principles %s/%s: %w", sessionID, modelName, err)
	}
	if _, err := tx.Exec(`DELETE FROM agent_reflections WHERE session_id = ? AND model_name = ? AND reflection_date >= ?`,
		sessionID, modelName, cutoffDate); err != nil {
		return fmt.Errorf("rollback reflections %s/%s: %w", sessionID, modelName, err)
	}
	if _, err := tx.Exec(`UPDATE agent_principles SET is_active = 0 WHERE session_id = ? AND model_name = ?`,
		sessionID, modelName); err != nil {
		return fmt.Errorf("reset principle activation %s/%s: %w", sessionID, modelName, err)
	}
	if _, err := tx.Exec(`
		UPDATE agent_principles SET is_active = 1
		WHERE session_id = ? AND model_name = ? AND created_at = (
			SELECT MAX(created_at) FROM agent_principles WHERE session_id = ? AND model_name = ?
		)`, sessionID, modelName, sessionID, modelName); err != nil {
		return fmt.Errorf("reactivate surviving principles %s/%s: %w", sessionID, modelName, err)
	}

	return tx.Commit()
}

func nullIfZero(f float64) interface{} {
	if f == 0 {
		return nil
	}
	return f
}
