package strategy

import (
	"math"
	"testing"
)

func TestThreatAttackProbabilityMonotoneInClosingRate(t *testing.T) {
	d := NewThreatDetector(ThreatConfig{})
	prev := -1.0
	// The rival closes progressively faster; probability must never drop.
	for _, rate := range []float64{0.0, 0.2, 0.5, 0.8, 1.2} {
		gaps := []float64{5 + 4*rate, 5 + 3*rate, 5 + 2*rate, 5 + rate, 5}
		ta, err := d.Assess(ThreatInputs{
			Vehicle:     0,
			Rival:       1,
			GapS:        5,
			GapHistoryS: gaps,
		})
		if err != nil {
			t.Fatalf("Assess: %v", err)
		}
		if ta.AttackProbability < prev {
			t.Fatalf("probability %.3f dropped below %.3f as closing rate rose to %.1f",
				ta.AttackProbability, prev, rate)
		}
		prev = ta.AttackProbability
	}
}

func TestThreatAttackProbabilityMonotoneInGap(t *testing.T) {
	d := NewThreatDetector(ThreatConfig{})
	prev := 2.0
	for _, gap := range []float64{0.5, 2, 5, 9, 15} {
		ta, err := d.Assess(ThreatInputs{Vehicle: 0, Rival: 1, GapS: gap})
		if err != nil {
			t.Fatalf("Assess: %v", err)
		}
		if ta.AttackProbability > prev {
			t.Fatalf("probability %.3f rose above %.3f as gap widened to %.1f",
				ta.AttackProbability, prev, gap)
		}
		prev = ta.AttackProbability
	}
}

// A fast-closing rival with a pace edge in sector 2 must be critical, and
// the explanation must name sector 2 first.
func TestThreatCriticalNamesKeySector(t *testing.T) {
	d := NewThreatDetector(ThreatConfig{})
	ta, err := d.Assess(ThreatInputs{
		Vehicle:      0,
		Rival:        1,
		GapS:         1.5,
		GapHistoryS:  []float64{5.5, 4.5, 3.5, 2.5, 1.5},
		SectorDeltaS: []float64{0.1, 0.6, -0.2},
	})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if ta.Level != ThreatCritical {
		t.Errorf("level = %s (p=%.2f), want critical", ta.Level, ta.AttackProbability)
	}
	if len(ta.KeySectors) == 0 || ta.KeySectors[0].Sector != 1 {
		t.Fatalf("key sectors = %+v, want sector index 1 first", ta.KeySectors)
	}
	if len(ta.KeySectors) > 2 {
		t.Errorf("key sectors = %+v, want at most two", ta.KeySectors)
	}
	if math.Abs(ta.LapsToContact-1.5) > 1e-9 {
		t.Errorf("laps to contact = %.2f, want 1.5", ta.LapsToContact)
	}
	if len(ta.Recommendations) == 0 {
		t.Error("critical threat should carry recommendations")
	}
}

func TestThreatStableGapIsLow(t *testing.T) {
	d := NewThreatDetector(ThreatConfig{})
	ta, err := d.Assess(ThreatInputs{
		Vehicle:     0,
		Rival:       1,
		GapS:        8,
		GapHistoryS: []float64{8, 8.1, 7.9, 8, 8},
	})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if ta.Level == ThreatCritical {
		t.Errorf("steady 8s gap graded critical (p=%.2f)", ta.AttackProbability)
	}
	if !math.IsInf(ta.LapsToContact, 1) {
		t.Errorf("laps to contact = %v for a non-closing rival, want +Inf", ta.LapsToContact)
	}
}

func TestThreatRejectsRivalAhead(t *testing.T) {
	d := NewThreatDetector(ThreatConfig{})
	if _, err := d.Assess(ThreatInputs{Vehicle: 0, Rival: 1, GapS: -2}); err == nil {
		t.Fatal("rival ahead should be rejected")
	}
}

func TestThreatShortHistoryFlagsLowData(t *testing.T) {
	d := NewThreatDetector(ThreatConfig{})
	ta, err := d.Assess(ThreatInputs{Vehicle: 0, Rival: 1, GapS: 3, GapHistoryS: []float64{3}})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !ta.LowData {
		t.Error("one gap sample should flag low data")
	}
}
