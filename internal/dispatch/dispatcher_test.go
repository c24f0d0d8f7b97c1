package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"voltguard/internal/analytics"
	"voltguard/internal/model"
)

// fakeController is an in-memory device-control service whose state
// mutates the way the real one would.
type fakeController struct {
	devices   map[string]*model.Device
	failIDs   map[string]bool
	getErr    error
	setCalls  [][]string
	lastState model.DeviceStatus
}

func newFakeController(devs ...model.Device) *fakeController {
	fc := &fakeController{
		devices: make(map[string]*model.Device),
		failIDs: make(map[string]bool),
	}
	for i := range devs {
		d := devs[i]
		fc.devices[d.ID] = &d
	}
	return fc
}

func (f *fakeController) GetDevices(_ context.Context) ([]model.Device, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := make([]model.Device, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeController) SetPower(_ context.Context, ids []string, target model.DeviceStatus) (map[string]error, error) {
	f.setCalls = append(f.setCalls, ids)
	f.lastState = target
	out := make(map[string]error, len(ids))
	for _, id := range ids {
		if f.failIDs[id] {
			out[id] = errors.New("device unreachable")
			continue
		}
		if d, ok := f.devices[id]; ok {
			d.Status = target
		}
		out[id] = nil
	}
	return out, nil
}

func shutdownDecision() model.Decision {
	return model.Decision{
		ID:               "d1",
		Action:           model.DecisionShutdown,
		AffectedGroups:   []model.PriorityGroup{model.GroupLow},
		CurrentPrice:     105,
		EstimatedSavings: 42.5,
	}
}

func TestExecuteShutdownCommandsOnlineDevices(t *testing.T) {
	fc := newFakeController(
		model.Device{ID: "pdu1", PriorityGroup: model.GroupLow, Status: model.StatusOnline, CurrentLoadKW: 500},
		model.Device{ID: "pdu2", PriorityGroup: model.GroupLow, Status: model.StatusOffline},
		model.Device{ID: "pdu3", PriorityGroup: model.GroupHigh, Status: model.StatusOnline},
	)
	logs := analytics.NewLogStore(10)
	d := NewDispatcher(fc, logs, nil, nil, time.Hour)

	result, err := d.Execute(context.Background(), shutdownDecision())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Sent != 1 || result.Skipped != 1 || result.Failed != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if fc.devices["pdu1"].Status != model.StatusOffline {
		t.Fatalf("pdu1 should be offline")
	}
	if fc.devices["pdu3"].Status != model.StatusOnline {
		t.Fatalf("pdu3 is outside the affected groups and must stay online")
	}
	entries := logs.List(0)
	if len(entries) != 1 || entries[0].ActionType != model.ActionShutdown {
		t.Fatalf("expected one shutdown log entry, got %+v", entries)
	}
	if entries[0].EstimatedSavings != 42.5 || entries[0].TriggerPrice != 105 {
		t.Fatalf("log entry should carry trigger price and savings, got %+v", entries[0])
	}
}

func TestExecuteShutdownIdempotent(t *testing.T) {
	fc := newFakeController(
		model.Device{ID: "pdu1", PriorityGroup: model.GroupLow, Status: model.StatusOnline},
	)
	d := NewDispatcher(fc, nil, nil, nil, time.Hour)
	decision := shutdownDecision()

	first, err := d.Execute(context.Background(), decision)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if first.Sent != 1 {
		t.Fatalf("first execute should command pdu1, got %+v", first)
	}

	second, err := d.Execute(context.Background(), decision)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if second.Sent != 0 || second.Skipped != 1 || second.Failed != 0 {
		t.Fatalf("second execute must skip, not fail: %+v", second)
	}
	if len(fc.setCalls) != 1 {
		t.Fatalf("no redundant power command expected, got %d calls", len(fc.setCalls))
	}
}

func TestExecuteIsolatesPerDeviceFailure(t *testing.T) {
	fc := newFakeController(
		model.Device{ID: "pdu1", PriorityGroup: model.GroupLow, Status: model.StatusOnline},
		model.Device{ID: "pdu2", PriorityGroup: model.GroupLow, Status: model.StatusOnline},
	)
	fc.failIDs["pdu1"] = true
	d := NewDispatcher(fc, nil, nil, nil, time.Hour)

	result, err := d.Execute(context.Background(), shutdownDecision())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Failed != 1 || result.Sent != 1 {
		t.Fatalf("one failure must not block the other command: %+v", result)
	}
	if fc.devices["pdu2"].Status != model.StatusOffline {
		t.Fatalf("pdu2 should have been shut down despite pdu1 failing")
	}
}

func TestExecuteResumeLogsElapsedDuration(t *testing.T) {
	fc := newFakeController(
		model.Device{ID: "pdu1", PriorityGroup: model.GroupLow, Status: model.StatusOffline},
	)
	logs := analytics.NewLogStore(10)
	logs.Add(model.AutomationLogEntry{
		Timestamp:  time.Now().UTC().Add(-30 * time.Minute),
		ActionType: model.ActionShutdown,
	})
	d := NewDispatcher(fc, logs, nil, nil, time.Hour)

	decision := model.Decision{
		ID:             "d2",
		Action:         model.DecisionResume,
		AffectedGroups: []model.PriorityGroup{model.GroupLow},
		CurrentPrice:   15,
	}
	result, err := d.Execute(context.Background(), decision)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Sent != 1 {
		t.Fatalf("expected resume command, got %+v", result)
	}
	entries := logs.List(0)
	last := entries[len(entries)-1]
	if last.ActionType != model.ActionResume {
		t.Fatalf("expected resume entry, got %+v", last)
	}
	if last.DurationSeconds < 29*60 || last.DurationSeconds > 31*60 {
		t.Fatalf("resume should log elapsed curtailment, got %vs", last.DurationSeconds)
	}
}

func TestExecuteResumeWithoutPriorShutdownLogsDefault(t *testing.T) {
	fc := newFakeController(
		model.Device{ID: "pdu1", PriorityGroup: model.GroupLow, Status: model.StatusOffline},
	)
	logs := analytics.NewLogStore(10)
	d := NewDispatcher(fc, logs, nil, nil, 45*time.Minute)

	decision := model.Decision{
		ID:             "d3",
		Action:         model.DecisionResume,
		AffectedGroups: []model.PriorityGroup{model.GroupLow},
		CurrentPrice:   12,
	}
	result, err := d.Execute(context.Background(), decision)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Sent != 1 {
		t.Fatalf("expected resume command, got %+v", result)
	}
	entries := logs.List(0)
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	if entries[0].DurationSeconds != (45 * time.Minute).Seconds() {
		t.Fatalf("resume without a recorded shutdown should log the default duration, got %vs", entries[0].DurationSeconds)
	}
}

func TestExecuteAdvisoryDecisionsSendNothing(t *testing.T) {
	fc := newFakeController(
		model.Device{ID: "pdu1", PriorityGroup: model.GroupLow, Status: model.StatusOnline},
	)
	d := NewDispatcher(fc, nil, nil, nil, time.Hour)
	for _, action := range []model.DecisionType{model.DecisionContinue, model.DecisionPrepareShutdown} {
		result, err := d.Execute(context.Background(), model.Decision{Action: action, AffectedGroups: []model.PriorityGroup{model.GroupLow}})
		if err != nil {
			t.Fatalf("execute %s: %v", action, err)
		}
		if len(result.Commands) != 0 || len(fc.setCalls) != 0 {
			t.Fatalf("%s must not issue device commands", action)
		}
	}
}

func TestExecuteDeviceFetchFailure(t *testing.T) {
	fc := newFakeController()
	fc.getErr = errors.New("device control down")
	d := NewDispatcher(fc, nil, nil, nil, time.Hour)
	if _, err := d.Execute(context.Background(), shutdownDecision()); err == nil {
		t.Fatalf("expected error when device fetch fails")
	}
}
