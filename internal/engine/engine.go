package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voltguard/internal/alerts"
	"voltguard/internal/config"
	"voltguard/internal/model"
	"voltguard/internal/storage"
	"voltguard/internal/stress"
)

// Engine turns a market snapshot, the active rule set and current
// device status into a single curtailment decision. Evaluate holds no
// state of its own beyond alert cooldown bookkeeping, so concurrent
// evaluations are safe.
type Engine struct {
	logger   *slog.Logger
	alerts   *alerts.Store
	store    storage.Store
	cfg      atomic.Value
	cooldown *Cooldown
}

func NewEngine(cfg *config.Config, logger *slog.Logger, alertsStore *alerts.Store, store storage.Store) *Engine {
	e := &Engine{
		logger:   logger,
		alerts:   alertsStore,
		store:    store,
		cooldown: NewCooldown(),
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Reset() {
	e.cooldown.Reset()
}

// Evaluate scans all active rules in the order given and keeps the
// highest-precedence outcome. A hard-ceiling shutdown short-circuits
// the scan; the critical-stress override is applied last and wins over
// everything except an already-determined shutdown. Callers should
// present rules sorted by ascending hard ceiling so the most
// conservative rule wins ties.
func (e *Engine) Evaluate(snapshot model.MarketSnapshot, rules []model.Rule, devices []model.Device) model.Decision {
	cfg := e.config()
	level := stress.Classify(snapshot.GridStressScore, snapshot.ReserveMarginPercent)
	decision := model.Decision{
		ID:               uuid.NewString(),
		Timestamp:        time.Now().UTC(),
		CurrentPrice:     snapshot.CurrentPrice,
		PredictedPrice1H: snapshot.PredictedPrice1H,
		PredictedPrice6H: snapshot.PredictedPrice6H,
		GridStressLevel:  level,
		Action:           model.DecisionContinue,
		Reason:           "Normal operation",
		ConfidenceScore:  0.9,
	}
	direction := priceDirection(snapshot.CurrentPrice, snapshot.PredictedPrice1H)

	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		switch {
		case snapshot.CurrentPrice >= rule.HardCeilingPrice:
			decision.Action = model.DecisionShutdown
			decision.AffectedGroups = rule.AffectedGroups
			decision.ConfidenceScore = 0.95
			decision.EstimatedSavings = estimatedSavings(snapshot.CurrentPrice, rule, devices)
			decision.Reason = fmt.Sprintf("Price %.2f breached hard ceiling %.2f", snapshot.CurrentPrice, rule.HardCeilingPrice)
			e.emit(cfg, model.Alert{
				Timestamp:       decision.Timestamp,
				Type:            model.AlertCeilingBreach,
				CurrentPrice:    snapshot.CurrentPrice,
				ThresholdPrice:  rule.HardCeilingPrice,
				PriceDirection:  direction,
				GridStressLevel: level,
				RuleID:          rule.ID,
				Active:          true,
			})
		case snapshot.CurrentPrice >= rule.SoftCeilingPrice || snapshot.PredictedPrice1H >= rule.HardCeilingPrice:
			if decision.Action.Precedence() < model.DecisionPrepareShutdown.Precedence() {
				decision.Action = model.DecisionPrepareShutdown
				decision.AffectedGroups = rule.AffectedGroups
				decision.ConfidenceScore = 0.75
				decision.Reason = fmt.Sprintf("Price %.2f approaching hard ceiling %.2f", snapshot.CurrentPrice, rule.HardCeilingPrice)
			}
			e.emit(cfg, model.Alert{
				Timestamp:       decision.Timestamp,
				Type:            model.AlertCeilingWarning,
				CurrentPrice:    snapshot.CurrentPrice,
				ThresholdPrice:  rule.SoftCeilingPrice,
				PriceDirection:  direction,
				GridStressLevel: level,
				RuleID:          rule.ID,
				Active:          true,
			})
		case snapshot.CurrentPrice <= rule.FloorPrice &&
			hasOfflineDevice(rule, devices) &&
			snapshot.PredictedPrice1H <= rule.FloorPrice*1.1:
			if decision.Action.Precedence() < model.DecisionResume.Precedence() {
				decision.Action = model.DecisionResume
				decision.AffectedGroups = rule.AffectedGroups
				decision.ConfidenceScore = 0.85
				decision.Reason = fmt.Sprintf("Price %.2f at or below floor %.2f", snapshot.CurrentPrice, rule.FloorPrice)
			}
			e.emit(cfg, model.Alert{
				Timestamp:       decision.Timestamp,
				Type:            model.AlertFloorBreach,
				CurrentPrice:    snapshot.CurrentPrice,
				ThresholdPrice:  rule.FloorPrice,
				PriceDirection:  direction,
				GridStressLevel: level,
				RuleID:          rule.ID,
				Active:          true,
			})
		}
		if decision.Action == model.DecisionShutdown {
			break
		}
	}

	if level == model.StressCritical && decision.Action != model.DecisionShutdown {
		decision.Action = model.DecisionShutdown
		decision.AffectedGroups = []model.PriorityGroup{model.GroupLow, model.GroupMedium}
		decision.ConfidenceScore = 0.99
		decision.Reason = fmt.Sprintf("Critical grid stress (score %.0f, reserve %.1f%%)", snapshot.GridStressScore, snapshot.ReserveMarginPercent)
		e.emit(cfg, model.Alert{
			Timestamp:       decision.Timestamp,
			Type:            model.AlertGridStress,
			CurrentPrice:    snapshot.CurrentPrice,
			PriceDirection:  direction,
			GridStressLevel: level,
			Active:          true,
		})
	}
	return decision
}

// FailSafe is the decision returned when market or rule data cannot be
// fetched: never curtail on missing data.
func FailSafe(reason string) model.Decision {
	return model.Decision{
		ID:              uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		GridStressLevel: model.StressNormal,
		Action:          model.DecisionContinue,
		Reason:          reason,
		ConfidenceScore: 0.1,
	}
}

// emit records an alert, subject to the suppression cooldown. Write
// failures are logged and never block the decision.
func (e *Engine) emit(cfg *config.Config, alert model.Alert) {
	key := alert.RuleID + "|" + string(alert.Type)
	if !e.cooldown.Allow(key, cfg.Evaluator.AlertCooldown) {
		return
	}
	if e.alerts != nil {
		e.alerts.Add(alert)
	}
	if e.logger != nil {
		e.logger.Warn("alert emitted",
			"type", alert.Type,
			"rule_id", alert.RuleID,
			"current_price", alert.CurrentPrice,
			"threshold_price", alert.ThresholdPrice,
			"grid_stress_level", alert.GridStressLevel,
		)
	}
	if e.store != nil {
		if err := e.store.SaveAlert(context.Background(), alert); err != nil && e.logger != nil {
			e.logger.Warn("alert persist failed", "err", err)
		}
	}
}

func estimatedSavings(currentPrice float64, rule model.Rule, devices []model.Device) float64 {
	var loadKW float64
	for _, d := range devices {
		if d.Status == model.StatusOnline && rule.AppliesTo(d.PriorityGroup) {
			loadKW += d.CurrentLoadKW
		}
	}
	return (currentPrice - rule.FloorPrice) * loadKW / 1000
}

func hasOfflineDevice(rule model.Rule, devices []model.Device) bool {
	for _, d := range devices {
		if d.Status == model.StatusOffline && rule.AppliesTo(d.PriorityGroup) {
			return true
		}
	}
	return false
}

func priceDirection(current, predicted float64) model.PriceDirection {
	switch {
	case predicted > current:
		return model.PriceRising
	case predicted < current:
		return model.PriceFalling
	default:
		return model.PriceStable
	}
}
