package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"voltguard/internal/config"
	"voltguard/internal/model"
)

// Store persists rules, decisions, alerts and the automation log.
// All writes are best-effort from the control loop's perspective:
// callers log failures and keep going.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	UpsertRule(ctx context.Context, rule model.Rule) error
	DeleteRule(ctx context.Context, id string) error
	ListRules(ctx context.Context) ([]model.Rule, error)

	SaveDecision(ctx context.Context, decision model.Decision) error
	DecisionsSince(ctx context.Context, ts time.Time) ([]model.Decision, error)

	SaveAlert(ctx context.Context, alert model.Alert) error
	AlertsSince(ctx context.Context, ts time.Time) ([]model.Alert, error)

	AppendLog(ctx context.Context, entry model.AutomationLogEntry) error
	LogsSince(ctx context.Context, ts time.Time) ([]model.AutomationLogEntry, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func decodeGroups(raw string) []model.PriorityGroup {
	var out []model.PriorityGroup
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
