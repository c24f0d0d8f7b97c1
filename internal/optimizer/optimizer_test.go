package optimizer

import (
	"math"
	"testing"

	"voltguard/internal/model"
)

func flatForecast(price float64) []float64 {
	out := make([]float64, 24)
	for i := range out {
		out[i] = price
	}
	return out
}

func baseParams() model.OptimizeParams {
	return model.OptimizeParams{
		DemandMW:               10,
		OperatingHours:         1,
		FlexibilityWindowHours: 4,
		DemandChargeRate:       15,
		TransmissionRate:       2,
		CarbonPrice:            30,
		CarbonIntensity:        400,
		Priority:               model.PriorityBalanced,
	}
}

func TestFlatCurveOnlyPeakDiffers(t *testing.T) {
	res, err := Optimize(flatForecast(50), baseParams())
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	offPeakCost := res.Slots[0].TotalCost
	for _, s := range res.Slots {
		inPeak := s.Hour >= 16 && s.Hour < 20
		if inPeak {
			premium := 10 * 15 * 0.5 // demand charge delta between peak and off-peak
			if math.Abs(s.TotalCost-(offPeakCost+premium)) > 1e-9 {
				t.Fatalf("hour %d: expected peak premium %v over %v, got %v", s.Hour, premium, offPeakCost, s.TotalCost)
			}
		} else if math.Abs(s.TotalCost-offPeakCost) > 1e-9 {
			t.Fatalf("hour %d: off-peak cost should be flat, got %v want %v", s.Hour, s.TotalCost, offPeakCost)
		}
	}
	// Scores only distinguish peak from off-peak hours.
	offPeakScore := res.Slots[0].RecommendationScore
	peakScore := res.Slots[16].RecommendationScore
	if peakScore >= offPeakScore {
		t.Fatalf("peak hours must score below off-peak: %v vs %v", peakScore, offPeakScore)
	}
	for _, s := range res.Slots {
		inPeak := s.Hour >= 16 && s.Hour < 20
		want := offPeakScore
		if inPeak {
			want = peakScore
		}
		if math.Abs(s.RecommendationScore-want) > 1e-9 {
			t.Fatalf("hour %d: unexpected score %v", s.Hour, s.RecommendationScore)
		}
	}
}

func TestFlatCurveOptimalHoursAvoidPeak(t *testing.T) {
	res, err := Optimize(flatForecast(50), baseParams())
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if len(res.OptimalHours) != 4 {
		t.Fatalf("expected 4 optimal hours, got %d", len(res.OptimalHours))
	}
	for _, h := range res.OptimalHours {
		if h >= 16 && h < 20 {
			t.Fatalf("optimal hour %d falls inside the peak window", h)
		}
	}
	for _, h := range res.WorstHours {
		if h < 16 || h >= 20 {
			t.Fatalf("worst hour %d should be a peak hour on a flat curve", h)
		}
	}
	if res.Savings <= 0 {
		t.Fatalf("peak vs off-peak savings should be positive, got %v", res.Savings)
	}
}

func TestWindowCappedAtEight(t *testing.T) {
	params := baseParams()
	params.FlexibilityWindowHours = 12
	res, err := Optimize(flatForecast(50), params)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if len(res.OptimalHours) != 8 || len(res.WorstHours) != 8 {
		t.Fatalf("window must cap at 8, got %d/%d", len(res.OptimalHours), len(res.WorstHours))
	}
}

func TestCostPrioritySelectsCheapHours(t *testing.T) {
	forecast := flatForecast(50)
	forecast[3] = 5
	forecast[4] = 5
	forecast[12] = 200
	params := baseParams()
	params.Priority = model.PriorityCost
	params.FlexibilityWindowHours = 2
	res, err := Optimize(forecast, params)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if res.OptimalHours[0] != 3 || res.OptimalHours[1] != 4 {
		t.Fatalf("expected optimal hours [3 4], got %v", res.OptimalHours)
	}
	for _, h := range res.WorstHours {
		if h == 3 || h == 4 {
			t.Fatalf("cheap hour %d cannot be in the worst set", h)
		}
	}
	if !res.Slots[3].IsOptimal || res.Slots[12].IsOptimal {
		t.Fatalf("is_optimal flags not set as expected")
	}
}

func TestCarbonPriorityFlatCarbonScoresFifty(t *testing.T) {
	forecast := flatForecast(50)
	forecast[0] = 500
	params := baseParams()
	params.Priority = model.PriorityCarbon
	res, err := Optimize(forecast, params)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	// Carbon intensity is flat, so every slot normalizes to 50
	// regardless of the price spike.
	for _, s := range res.Slots {
		if math.Abs(s.RecommendationScore-50) > 1e-9 {
			t.Fatalf("hour %d: expected carbon score 50, got %v", s.Hour, s.RecommendationScore)
		}
	}
}

func TestSavingsPercentRelativeToWorst(t *testing.T) {
	forecast := flatForecast(50)
	forecast[2] = 10
	params := baseParams()
	params.FlexibilityWindowHours = 1
	res, err := Optimize(forecast, params)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	want := (res.WorstMeanCost - res.OptimalMeanCost) / res.WorstMeanCost * 100
	if math.Abs(res.SavingsPercent-want) > 1e-9 {
		t.Fatalf("savings percent %v, want %v", res.SavingsPercent, want)
	}
}

func TestOptimizeValidation(t *testing.T) {
	if _, err := Optimize(make([]float64, 23), baseParams()); err == nil {
		t.Fatalf("expected error for short forecast")
	}
	p := baseParams()
	p.DemandMW = 0
	if _, err := Optimize(flatForecast(50), p); err == nil {
		t.Fatalf("expected error for zero demand")
	}
	p = baseParams()
	p.FlexibilityWindowHours = 0
	if _, err := Optimize(flatForecast(50), p); err == nil {
		t.Fatalf("expected error for zero flexibility window")
	}
	p = baseParams()
	p.Priority = "speed"
	if _, err := Optimize(flatForecast(50), p); err == nil {
		t.Fatalf("expected error for unknown priority")
	}
}
