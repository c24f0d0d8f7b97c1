package stress

import "voltguard/internal/model"

// Classify maps a grid stress score (0-100) and reserve margin percent
// to an ordinal stress level. First match wins.
func Classify(stressScore, reserveMargin float64) model.GridStressLevel {
	switch {
	case stressScore > 80 || reserveMargin < 5:
		return model.StressCritical
	case stressScore > 60 || reserveMargin < 10:
		return model.StressHigh
	case stressScore > 40 || reserveMargin < 15:
		return model.StressElevated
	default:
		return model.StressNormal
	}
}
