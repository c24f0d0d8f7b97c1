package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"voltguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/voltguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			hard_ceiling_price DOUBLE PRECISION NOT NULL,
			soft_ceiling_price DOUBLE PRECISION NOT NULL,
			floor_price DOUBLE PRECISION NOT NULL,
			groups_json JSONB NOT NULL,
			active BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			current_price DOUBLE PRECISION NOT NULL,
			predicted_price_1h DOUBLE PRECISION NOT NULL,
			predicted_price_6h DOUBLE PRECISION NOT NULL,
			grid_stress_level TEXT NOT NULL,
			action TEXT NOT NULL,
			groups_json JSONB NOT NULL,
			reason TEXT NOT NULL,
			confidence_score DOUBLE PRECISION NOT NULL,
			estimated_savings DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			current_price DOUBLE PRECISION NOT NULL,
			threshold_price DOUBLE PRECISION NOT NULL,
			price_direction TEXT NOT NULL,
			grid_stress_level TEXT NOT NULL,
			rule_id TEXT,
			active BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS automation_log (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			action_type TEXT NOT NULL,
			trigger_price DOUBLE PRECISION NOT NULL,
			duration_seconds DOUBLE PRECISION NOT NULL,
			estimated_savings DOUBLE PRECISION NOT NULL
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

func (s *postgresStore) UpsertRule(ctx context.Context, rule model.Rule) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (id, name, hard_ceiling_price, soft_ceiling_price, floor_price, groups_json, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			hard_ceiling_price = EXCLUDED.hard_ceiling_price,
			soft_ceiling_price = EXCLUDED.soft_ceiling_price,
			floor_price = EXCLUDED.floor_price,
			groups_json = EXCLUDED.groups_json,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		rule.ID,
		rule.Name,
		rule.HardCeilingPrice,
		rule.SoftCeilingPrice,
		rule.FloorPrice,
		encodeJSON(rule.AffectedGroups),
		rule.Active,
		rule.CreatedAt.UTC(),
		rule.UpdatedAt.UTC(),
	)
	return err
}

func (s *postgresStore) DeleteRule(ctx context.Context, id string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	return err
}

func (s *postgresStore) ListRules(ctx context.Context) ([]model.Rule, error) {
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
		var groupsJSON string
		if err := rows.Scan(&r.ID, &r.Name, &r.HardCeilingPrice, &r.SoftCeilingPrice, &r.FloorPrice, &groupsJSON, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.AffectedGroups = decodeGroups(groupsJSON)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *postgresStore) SaveDecision(ctx context.Context, d model.Decision) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, ts, current_price, predicted_price_1h, predicted_price_6h, grid_stress_level, action, groups_json, reason, confidence_score, estimated_savings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID,
		d.Timestamp.UTC(),
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

func (s *postgresStore) DecisionsSince(ctx context.Context, ts time.Time) ([]model.Decision, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, current_price, predicted_price_1h, predicted_price_6h, grid_stress_level, action, groups_json, reason, confidence_score, estimated_savings
		FROM decisions WHERE ts >= $1 ORDER BY ts ASC`,
		ts.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Decision, 0)
	for rows.Next() {
		var d model.Decision
		var level, action, groupsJSON string
		if err := rows.Scan(&d.ID, &d.Timestamp, &d.CurrentPrice, &d.PredictedPrice1H, &d.PredictedPrice6H, &level, &action, &groupsJSON, &d.Reason, &d.ConfidenceScore, &d.EstimatedSavings); err != nil {
			return nil, err
		}
		d.GridStressLevel = model.GridStressLevel(level)
		d.Action = model.DecisionType(action)
		d.AffectedGroups = decodeGroups(groupsJSON)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (ts, type, current_price, threshold_price, price_direction, grid_stress_level, rule_id, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		alert.Timestamp.UTC(),
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

func (s *postgresStore) AlertsSince(ctx context.Context, ts time.Time) ([]model.Alert, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, type, current_price, threshold_price, price_direction, grid_stress_level, rule_id, active
		FROM alerts WHERE ts >= $1 ORDER BY ts ASC`,
		ts.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Alert, 0)
	for rows.Next() {
		var a model.Alert
		var typ, direction, level string
		var ruleID sql.NullString
		if err := rows.Scan(&a.Timestamp, &typ, &a.CurrentPrice, &a.ThresholdPrice, &direction, &level, &ruleID, &a.Active); err != nil {
			return nil, err
		}
		a.Type = model.AlertType(typ)
		a.PriceDirection = model.PriceDirection(direction)
		a.GridStressLevel = model.GridStressLevel(level)
		a.RuleID = ruleID.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *postgresStore) AppendLog(ctx context.Context, entry model.AutomationLogEntry) error {
	if s.db == nil {
		return nil
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_log (ts, action_type, trigger_price, duration_seconds, estimated_savings)
		VALUES ($1, $2, $3, $4, $5)`,
		ts.UTC(),
		string(entry.ActionType),
		entry.TriggerPrice,
		entry.DurationSeconds,
		entry.EstimatedSavings,
	)
	return err
}

func (s *postgresStore) LogsSince(ctx context.Context, ts time.Time) ([]model.AutomationLogEntry, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, action_type, trigger_price, duration_seconds, estimated_savings
		FROM automation_log WHERE ts >= $1 ORDER BY ts ASC`,
		ts.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.AutomationLogEntry, 0)
	for rows.Next() {
		var e model.AutomationLogEntry
		var action string
		if err := rows.Scan(&e.Timestamp, &action, &e.TriggerPrice, &e.DurationSeconds, &e.EstimatedSavings); err != nil {
			return nil, err
		}
		e.ActionType = model.ActionType(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
