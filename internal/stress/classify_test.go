package stress

import (
	"testing"

	"voltguard/internal/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		score   float64
		reserve float64
		want    model.GridStressLevel
	}{
		{"calm grid", 20, 25, model.StressNormal},
		{"boundary score 40", 40, 25, model.StressNormal},
		{"score just above 40", 40.1, 25, model.StressElevated},
		{"low reserve elevates", 10, 14, model.StressElevated},
		{"score above 60", 61, 25, model.StressHigh},
		{"reserve below 10", 10, 9, model.StressHigh},
		{"score above 80", 81, 25, model.StressCritical},
		{"reserve below 5", 10, 4, model.StressCritical},
		{"critical beats high", 90, 4, model.StressCritical},
		{"zero everything", 0, 0, model.StressCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.score, tc.reserve)
			if got != tc.want {
				t.Fatalf("Classify(%v, %v) = %v, want %v", tc.score, tc.reserve, got, tc.want)
			}
		})
	}
}

func TestLevelOrdering(t *testing.T) {
	levels := []model.GridStressLevel{
		model.StressNormal,
		model.StressElevated,
		model.StressHigh,
		model.StressCritical,
	}
	for i := 1; i < len(levels); i++ {
		if levels[i].Rank() <= levels[i-1].Rank() {
			t.Fatalf("%v should rank above %v", levels[i], levels[i-1])
		}
	}
}
