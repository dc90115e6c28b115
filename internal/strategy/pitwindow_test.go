package strategy

import (
	"testing"
)

func TestPitRecommendWithDegradingPace(t *testing.T) {
	o := NewPitOptimizer(PitConfig{})
	rec, err := o.Recommend(PitInputs{
		Vehicle:          0,
		CurrentLap:       10,
		TotalLaps:        40,
		CurrentPaceS:     80,
		DegradationRateS: 0.25,
	})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(rec.Scenarios) < minPitScenarios {
		t.Fatalf("got %d scenarios, want at least %d", len(rec.Scenarios), minPitScenarios)
	}
	if rec.BestLap <= 10 || rec.BestLap >= 40 {
		t.Errorf("best lap = %d, want inside the race", rec.BestLap)
	}
	if rec.WindowStart > rec.BestLap || rec.WindowEnd < rec.BestLap {
		t.Errorf("window [%d,%d] does not contain best lap %d", rec.WindowStart, rec.WindowEnd, rec.BestLap)
	}
	// Strong degradation: stopping at the last possible lap must be worse
	// than the optimum.
	last := rec.Scenarios[len(rec.Scenarios)-1]
	if last.DeltaToBestS <= 0 {
		t.Errorf("latest stop delta = %.2f, want positive under 0.25s/lap degradation", last.DeltaToBestS)
	}
	if len(rec.Reasoning) == 0 {
		t.Error("recommendation should explain itself")
	}
	if rec.Confidence <= 0 || rec.Confidence > 1 {
		t.Errorf("confidence = %v out of range", rec.Confidence)
	}
}

func TestPitRecommendCarriesPositionChange(t *testing.T) {
	o := NewPitOptimizer(PitConfig{})
	in := PitInputs{
		Vehicle:          2,
		CurrentLap:       10,
		TotalLaps:        40,
		CurrentPaceS:     80,
		DegradationRateS: 0.2,
		CurrentPos:       4,
		ProjectedPos:     2,
	}
	rec, err := o.Recommend(in)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if rec.CurrentPos != 4 || rec.ExpectedPosChange != 2 {
		t.Errorf("position change = P%d %+d, want P4 +2", rec.CurrentPos, rec.ExpectedPosChange)
	}

	// No field context: the recommendation stays neutral on positions.
	in.CurrentPos, in.ProjectedPos = 0, 0
	rec, err = o.Recommend(in)
	if err != nil {
		t.Fatalf("Recommend without positions: %v", err)
	}
	if rec.CurrentPos != 0 || rec.ExpectedPosChange != 0 {
		t.Errorf("got P%d %+d without field context, want zeros", rec.CurrentPos, rec.ExpectedPosChange)
	}
}

func TestPitTimingFollowsDegradation(t *testing.T) {
	o := NewPitOptimizer(PitConfig{})
	// Near-zero degradation: fresh tires are pure gain, stop immediately.
	flat, err := o.Recommend(PitInputs{CurrentLap: 5, TotalLaps: 40, CurrentPaceS: 80, DegradationRateS: 0.01})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if flat.BestLap != 6 {
		t.Errorf("with flat pace the earliest stop wins, got lap %d", flat.BestLap)
	}
	// Strong degradation hits both stints: the optimum moves toward
	// mid-race to balance wear across the two sets.
	worn, err := o.Recommend(PitInputs{CurrentLap: 5, TotalLaps: 40, CurrentPaceS: 80, DegradationRateS: 0.5})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if worn.BestLap < 15 || worn.BestLap > 28 {
		t.Errorf("under heavy degradation best lap = %d, want near mid-race", worn.BestLap)
	}
}

func TestPitTrafficRisk(t *testing.T) {
	o := NewPitOptimizer(PitConfig{})
	clearAir, err := o.Recommend(PitInputs{
		CurrentLap: 10, TotalLaps: 40, CurrentPaceS: 80, DegradationRateS: 0.2,
		Rivals: []RivalGap{{Vehicle: 5, GapS: 60}},
	})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if clearAir.TrafficRisk != "low" {
		t.Errorf("60s gap rival graded traffic %q, want low", clearAir.TrafficRisk)
	}

	traffic, err := o.Recommend(PitInputs{
		CurrentLap: 10, TotalLaps: 40, CurrentPaceS: 80, DegradationRateS: 0.2,
		Rivals: []RivalGap{{Vehicle: 5, GapS: 26}},
	})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if traffic.TrafficRisk != "high" {
		t.Errorf("rival 26s behind with a 25s pit loss graded %q, want high", traffic.TrafficRisk)
	}
	if traffic.Confidence >= clearAir.Confidence {
		t.Error("traffic should reduce confidence")
	}
}

func TestPitRejectsLateRace(t *testing.T) {
	o := NewPitOptimizer(PitConfig{})
	if _, err := o.Recommend(PitInputs{CurrentLap: 38, TotalLaps: 40, CurrentPaceS: 80}); err == nil {
		t.Fatal("two remaining laps should be rejected")
	}
}
