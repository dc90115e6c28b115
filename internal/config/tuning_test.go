package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTuningConfigPartial(t *testing.T) {
	path := writeConfig(t, `{"lateness_seconds": 2.0, "grid_spacing_m": 20}`)
	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}

	n := cfg.Normalizer()
	if n.LatenessSeconds != 2.0 {
		t.Errorf("lateness = %v, want 2.0", n.LatenessSeconds)
	}
	// Unset field keeps its default.
	if n.StalenessSeconds != 5.0 {
		t.Errorf("staleness = %v, want default 5.0", n.StalenessSeconds)
	}

	f := cfg.Features()
	if f.GridSpacingM != 20 {
		t.Errorf("grid spacing = %v, want 20", f.GridSpacingM)
	}
	if f.SmoothWidth != 5 {
		t.Errorf("smooth width = %v, want default 5", f.SmoothWidth)
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	if _, err := LoadTuningConfig("/tmp/tuning.yaml"); err == nil {
		t.Fatal("non-JSON extension should be rejected")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  TuningConfig
		ok   bool
	}{
		{"empty is valid", TuningConfig{}, true},
		{"negative lateness", TuningConfig{LatenessSeconds: ptrFloat64(-1)}, false},
		{"zero confirm samples", TuningConfig{ConfirmSamples: ptrInt(0)}, false},
		{"huge grid spacing", TuningConfig{GridSpacingM: ptrFloat64(500)}, false},
		{"inverted corner hysteresis", TuningConfig{
			CornerOnCurvature:  ptrFloat64(0.005),
			CornerOffCurvature: ptrFloat64(0.010),
		}, false},
		{"tiny heuristic stint", TuningConfig{HeuristicStintLaps: ptrInt(2)}, false},
		{"sane overrides", TuningConfig{
			LatenessSeconds:    ptrFloat64(2),
			PitLossSeconds:     ptrFloat64(28),
			HeuristicStintLaps: ptrInt(30),
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestEngineConfigOverrides(t *testing.T) {
	cfg := &TuningConfig{
		PitLossSeconds:       ptrFloat64(30),
		FreshTireGainSeconds: ptrFloat64(2),
		BaselineLaps:         ptrInt(4),
		ForecastLookbackLaps: ptrInt(6),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := cfg.Pit().PitLossS; got != 30 {
		t.Errorf("pit loss = %v, want 30", got)
	}
	if got := cfg.Pit().FreshTireGainS; got != 2 {
		t.Errorf("fresh tire gain = %v, want 2", got)
	}
	if got := cfg.Degradation().BaselineLaps; got != 4 {
		t.Errorf("baseline laps = %v, want 4", got)
	}
	if got := cfg.Forecaster().LookbackLaps; got != 6 {
		t.Errorf("lookback = %v, want 6", got)
	}
	if got := cfg.GetHeuristicStintLaps(); got != 25 {
		t.Errorf("heuristic stint laps = %v, want default 25", got)
	}
}
