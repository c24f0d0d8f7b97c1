package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"voltguard/internal/analytics"
	"voltguard/internal/devices"
	"voltguard/internal/model"
	"voltguard/internal/storage"
)

// Dispatcher applies a previously computed decision to the device
// fleet. It is idempotent at the state layer: devices already in the
// target state are skipped, and a failure on one device never blocks
// commands to the others.
type Dispatcher struct {
	controller     devices.Controller
	logStore       *analytics.LogStore
	store          storage.Store
	logger         *slog.Logger
	defaultCurtail time.Duration
}

func NewDispatcher(controller devices.Controller, logStore *analytics.LogStore, store storage.Store, logger *slog.Logger, defaultCurtail time.Duration) *Dispatcher {
	if defaultCurtail <= 0 {
		defaultCurtail = time.Hour
	}
	return &Dispatcher{
		controller:     controller,
		logStore:       logStore,
		store:          store,
		logger:         logger,
		defaultCurtail: defaultCurtail,
	}
}

func (d *Dispatcher) Execute(ctx context.Context, decision model.Decision) (model.ExecutionResult, error) {
	result := model.ExecutionResult{
		DecisionID: decision.ID,
		Action:     decision.Action,
		Timestamp:  time.Now().UTC(),
		Commands:   []model.DeviceCommandResult{},
	}

	var target model.DeviceStatus
	switch decision.Action {
	case model.DecisionShutdown:
		target = model.StatusOffline
	case model.DecisionResume:
		target = model.StatusOnline
	default:
		// continue and prepare_shutdown are advisory: no commands.
		return result, nil
	}

	fleet, err := d.controller.GetDevices(ctx)
	if err != nil {
		return result, fmt.Errorf("resolve devices: %w", err)
	}

	groups := make(map[model.PriorityGroup]bool, len(decision.AffectedGroups))
	for _, g := range decision.AffectedGroups {
		groups[g] = true
	}

	var candidates []string
	for _, dev := range fleet {
		if !groups[dev.PriorityGroup] {
			continue
		}
		if dev.Status == target {
			result.Commands = append(result.Commands, model.DeviceCommandResult{
				DeviceID:    dev.ID,
				TargetState: target,
				Status:      model.CommandSkipped,
			})
			result.Skipped++
			continue
		}
		candidates = append(candidates, dev.ID)
	}

	if len(candidates) > 0 {
		outcomes, err := d.controller.SetPower(ctx, candidates, target)
		for _, id := range candidates {
			cmd := model.DeviceCommandResult{DeviceID: id, TargetState: target}
			switch {
			case err != nil:
				cmd.Status = model.CommandFailed
				cmd.Error = err.Error()
				result.Failed++
			case outcomes[id] != nil:
				cmd.Status = model.CommandFailed
				cmd.Error = outcomes[id].Error()
				result.Failed++
			default:
				cmd.Status = model.CommandSent
				result.Sent++
			}
			result.Commands = append(result.Commands, cmd)
		}
		if err != nil && d.logger != nil {
			d.logger.Warn("power command dispatch failed", "decision_id", decision.ID, "target", target, "err", err)
		}
	}

	if result.Sent > 0 {
		d.appendLog(ctx, decision, result.Timestamp)
	}
	if d.logger != nil {
		d.logger.Info("decision executed",
			"decision_id", decision.ID,
			"action", decision.Action,
			"sent", result.Sent,
			"skipped", result.Skipped,
			"failed", result.Failed,
		)
	}
	return result, nil
}

// appendLog records the executed action for analytics. A shutdown is
// logged with the configured default curtailment duration; a resume
// closes the books on the most recent shutdown and carries the actual
// elapsed time, or the default duration when no shutdown is on record.
func (d *Dispatcher) appendLog(ctx context.Context, decision model.Decision, executedAt time.Time) {
	entry := model.AutomationLogEntry{
		Timestamp:    executedAt,
		TriggerPrice: decision.CurrentPrice,
	}
	switch decision.Action {
	case model.DecisionShutdown:
		entry.ActionType = model.ActionShutdown
		entry.DurationSeconds = d.defaultCurtail.Seconds()
		entry.EstimatedSavings = decision.EstimatedSavings
	case model.DecisionResume:
		entry.ActionType = model.ActionResume
		entry.DurationSeconds = d.defaultCurtail.Seconds()
		if d.logStore != nil {
			if last, ok := d.logStore.LastShutdown(); ok {
				entry.DurationSeconds = executedAt.Sub(last.Timestamp).Seconds()
			}
		}
	default:
		return
	}
	if d.logStore != nil {
		d.logStore.Add(entry)
	}
	if d.store != nil {
		if err := d.store.AppendLog(ctx, entry); err != nil && d.logger != nil {
			d.logger.Warn("automation log persist failed", "err", err)
		}
	}
}
