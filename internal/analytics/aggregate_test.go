package analytics

import (
	"math"
	"testing"
	"time"

	"voltguard/internal/model"
)

func TestSummarizeEmpty(t *testing.T) {
	sum := Summarize(nil)
	if sum.TotalShutdowns != 0 || sum.TotalResumes != 0 {
		t.Fatalf("empty window should produce zero counts, got %+v", sum)
	}
	if sum.AveragePriceAvoided != 0 {
		t.Fatalf("average price avoided must be 0 with no shutdowns, got %v", sum.AveragePriceAvoided)
	}
}

func TestSummarize(t *testing.T) {
	now := time.Now().UTC()
	entries := []model.AutomationLogEntry{
		{Timestamp: now, ActionType: model.ActionShutdown, TriggerPrice: 120, DurationSeconds: 3600, EstimatedSavings: 40},
		{Timestamp: now, ActionType: model.ActionShutdown, TriggerPrice: 80, DurationSeconds: 1800, EstimatedSavings: 10},
		{Timestamp: now, ActionType: model.ActionResume, TriggerPrice: 15, EstimatedSavings: 0},
	}
	sum := Summarize(entries)
	if sum.TotalShutdowns != 2 {
		t.Fatalf("expected 2 shutdowns, got %d", sum.TotalShutdowns)
	}
	if sum.TotalResumes != 1 {
		t.Fatalf("expected 1 resume, got %d", sum.TotalResumes)
	}
	if math.Abs(sum.TotalCurtailmentHours-1.5) > 1e-9 {
		t.Fatalf("expected 1.5 curtailment hours, got %v", sum.TotalCurtailmentHours)
	}
	if math.Abs(sum.AveragePriceAvoided-100) > 1e-9 {
		t.Fatalf("expected average price avoided 100, got %v", sum.AveragePriceAvoided)
	}
	if math.Abs(sum.TotalSavings-50) > 1e-9 {
		t.Fatalf("expected total savings 50, got %v", sum.TotalSavings)
	}
}

func TestBuildReportTrimsRecent(t *testing.T) {
	now := time.Now().UTC()
	entries := make([]model.AutomationLogEntry, 0, 10)
	for i := 0; i < 10; i++ {
		entries = append(entries, model.AutomationLogEntry{
			Timestamp:  now.Add(time.Duration(i) * time.Minute),
			ActionType: model.ActionShutdown,
		})
	}
	report := BuildReport(entries, nil, 7, 3)
	if len(report.RecentLogs) != 3 {
		t.Fatalf("expected 3 recent logs, got %d", len(report.RecentLogs))
	}
	if report.TotalShutdowns != 10 {
		t.Fatalf("summary must cover the full window, got %d shutdowns", report.TotalShutdowns)
	}
	if !report.RecentLogs[2].Timestamp.Equal(entries[9].Timestamp) {
		t.Fatalf("recent logs should keep the newest entries")
	}
}

func TestLogStoreBounded(t *testing.T) {
	store := NewLogStore(3)
	for i := 0; i < 5; i++ {
		store.Add(model.AutomationLogEntry{TriggerPrice: float64(i)})
	}
	list := store.List(0)
	if len(list) != 3 {
		t.Fatalf("expected store bounded to 3, got %d", len(list))
	}
	if list[0].TriggerPrice != 2 || list[2].TriggerPrice != 4 {
		t.Fatalf("store should keep newest entries, got %+v", list)
	}
}
