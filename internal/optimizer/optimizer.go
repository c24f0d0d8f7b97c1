package optimizer

import (
	"errors"
	"fmt"
	"sort"

	"voltguard/internal/model"
)

const (
	// Peak demand-charge window: hours 16:00-20:00 pay the full rate,
	// all other hours pay half.
	peakStartHour = 16
	peakEndHour   = 20

	peakChargeFactor    = 1.0
	offPeakChargeFactor = 0.5

	// Optimal/worst set size is capped regardless of the requested
	// flexibility window.
	maxWindowHours = 8

	costWeight   = 0.7
	carbonWeight = 0.3
)

// Optimize ranks the 24 hours of a day by total operating cost and
// carbon for a flexible load and picks the cheapest operating window.
// Pure: same forecast and params always give the same result.
func Optimize(priceForecast []float64, params model.OptimizeParams) (model.OptimizationResult, error) {
	if len(priceForecast) != 24 {
		return model.OptimizationResult{}, fmt.Errorf("price forecast must cover 24 hours, got %d", len(priceForecast))
	}
	if params.DemandMW <= 0 {
		return model.OptimizationResult{}, errors.New("demand_mw must be > 0")
	}
	if params.OperatingHours <= 0 {
		return model.OptimizationResult{}, errors.New("operating_hours must be > 0")
	}
	if params.FlexibilityWindowHours < 1 {
		return model.OptimizationResult{}, errors.New("flexibility_window_hours must be >= 1")
	}
	if params.Priority == "" {
		params.Priority = model.PriorityBalanced
	}
	switch params.Priority {
	case model.PriorityCost, model.PriorityCarbon, model.PriorityBalanced:
	default:
		return model.OptimizationResult{}, fmt.Errorf("unknown priority %q", params.Priority)
	}

	slots := make([]model.ScheduleSlot, 24)
	for h := 0; h < 24; h++ {
		energyCost := priceForecast[h] * params.DemandMW * params.OperatingHours
		chargeFactor := offPeakChargeFactor
		if h >= peakStartHour && h < peakEndHour {
			chargeFactor = peakChargeFactor
		}
		demandCharge := params.DemandMW * params.DemandChargeRate * chargeFactor
		transmissionCost := params.TransmissionRate * params.DemandMW * params.OperatingHours
		carbonEmissions := params.CarbonIntensity * params.DemandMW * params.OperatingHours / 1000
		carbonCost := carbonEmissions * params.CarbonPrice
		slots[h] = model.ScheduleSlot{
			Hour:             h,
			EnergyPrice:      priceForecast[h],
			EnergyCost:       energyCost,
			DemandCharge:     demandCharge,
			TransmissionCost: transmissionCost,
			CarbonCost:       carbonCost,
			TotalCost:        energyCost + demandCharge + transmissionCost + carbonCost,
			CarbonEmissions:  carbonEmissions,
		}
	}

	costScores := normalizeScores(slots, func(s model.ScheduleSlot) float64 { return s.TotalCost })
	carbonScores := normalizeScores(slots, func(s model.ScheduleSlot) float64 { return s.CarbonEmissions })
	for h := range slots {
		switch params.Priority {
		case model.PriorityCost:
			slots[h].RecommendationScore = costScores[h]
		case model.PriorityCarbon:
			slots[h].RecommendationScore = carbonScores[h]
		default:
			slots[h].RecommendationScore = costWeight*costScores[h] + carbonWeight*carbonScores[h]
		}
	}

	window := params.FlexibilityWindowHours
	if window > maxWindowHours {
		window = maxWindowHours
	}

	ranked := make([]int, 24)
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if slots[ranked[a]].RecommendationScore != slots[ranked[b]].RecommendationScore {
			return slots[ranked[a]].RecommendationScore > slots[ranked[b]].RecommendationScore
		}
		return ranked[a] < ranked[b]
	})

	optimal := append([]int(nil), ranked[:window]...)
	worst := append([]int(nil), ranked[24-window:]...)
	sort.Ints(optimal)
	sort.Ints(worst)
	for _, h := range optimal {
		slots[h].IsOptimal = true
	}

	optimalMean := meanTotalCost(slots, optimal)
	worstMean := meanTotalCost(slots, worst)
	savings := worstMean - optimalMean
	savingsPercent := 0.0
	if worstMean != 0 {
		savingsPercent = savings / worstMean * 100
	}

	return model.OptimizationResult{
		Slots:           slots,
		OptimalHours:    optimal,
		WorstHours:      worst,
		OptimalMeanCost: optimalMean,
		WorstMeanCost:   worstMean,
		Savings:         savings,
		SavingsPercent:  savingsPercent,
		Priority:        params.Priority,
	}, nil
}

// normalizeScores maps a slot value to [0,100] where the cheapest slot
// scores 100. All slots score 50 when the curve is flat.
func normalizeScores(slots []model.ScheduleSlot, value func(model.ScheduleSlot) float64) []float64 {
	min, max := value(slots[0]), value(slots[0])
	for _, s := range slots[1:] {
		v := value(s)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(slots))
	if max == min {
		for i := range out {
			out[i] = 50
		}
		return out
	}
	for i, s := range slots {
		out[i] = 100 * (max - value(s)) / (max - min)
	}
	return out
}

func meanTotalCost(slots []model.ScheduleSlot, hours []int) float64 {
	if len(hours) == 0 {
		return 0
	}
	var total float64
	for _, h := range hours {
		total += slots[h].TotalCost
	}
	return total / float64(len(hours))
}
