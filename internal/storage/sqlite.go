package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"voltguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:voltguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			hard_ceiling_price REAL NOT NULL,
			soft_ceiling_price REAL NOT NULL,
			floor_price REAL NOT NULL,
			groups_json TEXT NOT NULL,
			active INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			current_price REAL NOT NULL,
			predicted_price_1h REAL NOT NULL,
			predicted_price_6h REAL NOT NULL,
			grid_stress_level TEXT NOT NULL,
			action TEXT NOT NULL,
			groups_json TEXT NOT NULL,
			reason TEXT NOT NULL,
			confidence_score REAL NOT NULL,
			estimated_savings REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			type TEXT NOT NULL,
			current_price REAL NOT NULL,
			threshold_price REAL NOT NULL,
			price_direction TEXT NOT NULL,
			grid_stress_level TEXT NOT NULL,
			rule_id TEXT,
			active INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS automation_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			action_type TEXT NOT NULL,
			trigger_price REAL NOT NULL,
			duration_seconds REAL NOT NULL,
			estimated_savings REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_automation_log_ts ON automation_log(ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) UpsertRule(ctx context.Context, rule model.Rule) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (id, name, hard_ceiling_price, soft_ceiling_price, floor_price, groups_json, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			hard_ceiling_price = excluded.hard_ceiling_price,
			soft_ceiling_price = excluded.soft_ceiling_price,
			floor_price = excluded.floor_price,
			groups_json = excluded.groups_json,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		rule.ID,
		rule.Name,
		rule.HardCeilingPrice,
		rule.SoftCeilingPrice,
		rule.FloorPrice,
		encodeJSON(rule.AffectedGroups),
		rule.Active,
		rule.CreatedAt.UTC().Format(time.RFC3339Nano),
		rule.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteRule(ctx context.Context, id string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListRules(ctx context.Context) ([]model.Rule, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, hard_ceiling_price, soft_ceiling_price, floor_price, groups_json, active, created_at, updated_at
		FROM rules ORDER BY hard_ceiling_price ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Rule, 0)
	for rows.Next() {
		var r model.Rule
		var groupsJSON, createdAt, updatedAt string
		if err := rows.Scan(&r.ID, &r.Name, &r.HardCeilingPrice, &r.SoftCeilingPrice, &r.FloorPrice, &groupsJSON, &r.Active, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		r.AffectedGroups = decodeGroups(groupsJSON)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveDecision(ctx context.Context, d model.Decision) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, ts, current_price, predicted_price_1h, predicted_price_6h, grid_stress_level, action, groups_json, reason, confidence_score, estimated_savings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.Timestamp.UTC().Format(time.RFC3339Nano),
		d.CurrentPrice,
		d.PredictedPrice1H,
		d.PredictedPrice6H,
		string(d.GridStressLevel),
		string(d.Action),
		encodeJSON(d.AffectedGroups),
		d.Reason,
		d.ConfidenceScore,
		d.EstimatedSavings,
	)
	return err
}

func (s *sqliteStore) DecisionsSince(ctx context.Context, ts time.Time) ([]model.Decision, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, current_price, predicted_price_1h, predicted_price_6h, grid_stress_level, action, groups_json, reason, confidence_score, estimated_savings
		FROM decisions WHERE ts >= ? ORDER BY ts ASC`,
		ts.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Decision, 0)
	for rows.Next() {
		var d model.Decision
		var tsRaw, level, action, groupsJSON string
		if err := rows.Scan(&d.ID, &tsRaw, &d.CurrentPrice, &d.PredictedPrice1H, &d.PredictedPrice6H, &level, &action, &groupsJSON, &d.Reason, &d.ConfidenceScore, &d.EstimatedSavings); err != nil {
			return nil, err
		}
		d.Timestamp, _ = time.Parse(time.RFC3339Nano, tsRaw)
		d.GridStressLevel = model.GridStressLevel(level)
		d.Action = model.DecisionType(action)
		d.AffectedGroups = decodeGroups(groupsJSON)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (ts, type, current_price, threshold_price, price_direction, grid_stress_level, rule_id, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.Timestamp.UTC().Format(time.RFC3339Nano),
		string(alert.Type),
		alert.CurrentPrice,
		alert.ThresholdPrice,
		string(alert.PriceDirection),
		string(alert.GridStressLevel),
		alert.RuleID,
		alert.Active,
	)
	return err
}

func (s *sqliteStore) AlertsSince(ctx context.Context, ts time.Time) ([]model.Alert, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, type, current_price, threshold_price, price_direction, grid_stress_level, rule_id, active
		FROM alerts WHERE ts >= ? ORDER BY ts ASC`,
		ts.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Alert, 0)
	for rows.Next() {
		var a model.Alert
		var tsRaw, typ, direction, level string
		var ruleID sql.NullString
		if err := rows.Scan(&tsRaw, &typ, &a.CurrentPrice, &a.ThresholdPrice, &direction, &level, &ruleID, &a.Active); err != nil {
			return nil, err
		}
		a.Timestamp, _ = time.Parse(time.RFC3339Nano, tsRaw)
		a.Type = model.AlertType(typ)
		a.PriceDirection = model.PriceDirection(direction)
		a.GridStressLevel = model.GridStressLevel(level)
		a.RuleID = ruleID.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendLog(ctx context.Context, entry model.AutomationLogEntry) error {
	if s.db == nil {
		return nil
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_log (ts, action_type, trigger_price, duration_seconds, estimated_savings)
		VALUES (?, ?, ?, ?, ?)`,
		ts.UTC().Format(time.RFC3339Nano),
		string(entry.ActionType),
		entry.TriggerPrice,
		entry.DurationSeconds,
		entry.EstimatedSavings,
	)
	return err
}

func (s *sqliteStore) LogsSince(ctx context.Context, ts time.Time) ([]model.AutomationLogEntry, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, action_type, trigger_price, duration_seconds, estimated_savings
		FROM automation_log WHERE ts >= ? ORDER BY ts ASC`,
		ts.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.AutomationLogEntry, 0)
	for rows.Next() {
		var e model.AutomationLogEntry
		var tsRaw, action string
		if err := rows.Scan(&tsRaw, &action, &e.TriggerPrice, &e.DurationSeconds, &e.EstimatedSavings); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, tsRaw)
		e.ActionType = model.ActionType(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
