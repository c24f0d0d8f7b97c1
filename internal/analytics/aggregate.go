package analytics

import "voltguard/internal/model"

// Summarize folds a window of automation log entries into savings and
// curtailment metrics. Pure aggregation, no I/O.
func Summarize(entries []model.AutomationLogEntry) model.AnalyticsSummary {
	var sum model.AnalyticsSummary
	var shutdownPriceTotal float64
	for _, e := range entries {
		sum.TotalSavings += e.EstimatedSavings
		switch e.ActionType {
		case model.ActionShutdown:
			sum.TotalShutdowns++
			sum.TotalCurtailmentHours += e.DurationSeconds / 3600
			shutdownPriceTotal += e.TriggerPrice
		case model.ActionResume:
			sum.TotalResumes++
		}
	}
	if sum.TotalShutdowns > 0 {
		sum.AveragePriceAvoided = shutdownPriceTotal / float64(sum.TotalShutdowns)
	}
	return sum
}

// BuildReport combines the window summary with the most recent log
// entries and currently active alerts.
func BuildReport(entries []model.AutomationLogEntry, active []model.Alert, periodDays, recentLimit int) model.AnalyticsReport {
	if recentLimit <= 0 {
		recentLimit = 50
	}
	recent := entries
	if len(recent) > recentLimit {
		recent = recent[len(recent)-recentLimit:]
	}
	return model.AnalyticsReport{
		AnalyticsSummary: Summarize(entries),
		PeriodDays:       periodDays,
		RecentLogs:       recent,
		ActiveAlerts:     active,
	}
}
