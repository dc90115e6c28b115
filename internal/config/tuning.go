// Package config loads the pipeline tuning file. Every knob is optional:
// fields omitted from the JSON keep their defaults, so partial configs are
// safe to ship to the pit wall.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/racecraft/internal/features"
	"github.com/banshee-data/racecraft/internal/laps"
	"github.com/banshee-data/racecraft/internal/smooth"
	"github.com/banshee-data/racecraft/internal/strategy"
	"github.com/banshee-data/racecraft/internal/telemetry"
	"github.com/banshee-data/racecraft/internal/track"
)

// TuningConfig is the root tuning document. The schema matches the
// /api/config endpoint so the same JSON serves startup configuration and
// runtime inspection.
type TuningConfig struct {
	// Normalizer params
	LatenessSeconds  *float64 `json:"lateness_seconds,omitempty"`
	StalenessSeconds *float64 `json:"staleness_seconds,omitempty"`

	// Lap segmentation params. The wraparound tolerance is per-circuit and
	// lives on the track profile.
	ConfirmSamples *int     `json:"confirm_samples,omitempty"`
	StallFactor    *float64 `json:"stall_factor,omitempty"`

	// Smoothing params
	SmoothWidth    *int     `json:"smooth_width,omitempty"`
	OutlierSigma   *float64 `json:"outlier_sigma,omitempty"`
	GPSProcessPos  *float64 `json:"gps_process_pos,omitempty"`
	GPSProcessVel  *float64 `json:"gps_process_vel,omitempty"`
	GPSMeasurement *float64 `json:"gps_measurement,omitempty"`

	// Feature extraction params
	GridSpacingM  *float64 `json:"grid_spacing_m,omitempty"`
	BrakeOnsetBar *float64 `json:"brake_onset_bar,omitempty"`
	BrakeSearchM  *float64 `json:"brake_search_m,omitempty"`

	// Corner detection params
	CornerOnCurvature  *float64 `json:"corner_on_curvature,omitempty"`
	CornerOffCurvature *float64 `json:"corner_off_curvature,omitempty"`
	CornerMinLengthM   *float64 `json:"corner_min_length_m,omitempty"`
	CornerMergeGapM    *float64 `json:"corner_merge_gap_m,omitempty"`

	// Strategy engine params
	ForecastLookbackLaps *int     `json:"forecast_lookback_laps,omitempty"`
	BaselineLaps         *int     `json:"baseline_laps,omitempty"`
	PitLossSeconds       *float64 `json:"pit_loss_seconds,omitempty"`
	FreshTireGainSeconds *float64 `json:"fresh_tire_gain_seconds,omitempty"`
	// HeuristicStintLaps caps stint length when no pit signal arrives; the
	// session force-resets the stint after this many laps.
	HeuristicStintLaps *int `json:"heuristic_stint_laps,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with every field unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads and validates a tuning file. Fields omitted from
// the JSON keep their defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks set fields for sane ranges.
func (c *TuningConfig) Validate() error {
	if c.LatenessSeconds != nil && *c.LatenessSeconds <= 0 {
		return fmt.Errorf("lateness_seconds must be positive, got %f", *c.LatenessSeconds)
	}
	if c.StalenessSeconds != nil && *c.StalenessSeconds <= 0 {
		return fmt.Errorf("staleness_seconds must be positive, got %f", *c.StalenessSeconds)
	}
	if c.ConfirmSamples != nil && *c.ConfirmSamples < 1 {
		return fmt.Errorf("confirm_samples must be at least 1, got %d", *c.ConfirmSamples)
	}
	if c.SmoothWidth != nil && *c.SmoothWidth < 1 {
		return fmt.Errorf("smooth_width must be at least 1, got %d", *c.SmoothWidth)
	}
	if c.OutlierSigma != nil && *c.OutlierSigma <= 0 {
		return fmt.Errorf("outlier_sigma must be positive, got %f", *c.OutlierSigma)
	}
	if c.GridSpacingM != nil && (*c.GridSpacingM < 1 || *c.GridSpacingM > 100) {
		return fmt.Errorf("grid_spacing_m must be between 1 and 100, got %f", *c.GridSpacingM)
	}
	if c.CornerOnCurvature != nil && c.CornerOffCurvature != nil &&
		*c.CornerOffCurvature >= *c.CornerOnCurvature {
		return fmt.Errorf("corner_off_curvature %f must be below corner_on_curvature %f",
			*c.CornerOffCurvature, *c.CornerOnCurvature)
	}
	if c.PitLossSeconds != nil && *c.PitLossSeconds <= 0 {
		return fmt.Errorf("pit_loss_seconds must be positive, got %f", *c.PitLossSeconds)
	}
	if c.HeuristicStintLaps != nil && *c.HeuristicStintLaps < 5 {
		return fmt.Errorf("heuristic_stint_laps must be at least 5, got %d", *c.HeuristicStintLaps)
	}
	return nil
}

// GetHeuristicStintLaps returns the forced stint reset length.
func (c *TuningConfig) GetHeuristicStintLaps() int {
	if c.HeuristicStintLaps == nil {
		return 25 // default
	}
	return *c.HeuristicStintLaps
}

// Normalizer builds the normalization stage config.
func (c *TuningConfig) Normalizer() telemetry.NormalizerConfig {
	out := telemetry.DefaultNormalizerConfig()
	if c.LatenessSeconds != nil {
		out.LatenessSeconds = *c.LatenessSeconds
	}
	if c.StalenessSeconds != nil {
		out.StalenessSeconds = *c.StalenessSeconds
	}
	return out
}

// Segmenter builds the lap segmentation config.
func (c *TuningConfig) Segmenter() laps.Config {
	out := laps.DefaultConfig()
	if c.ConfirmSamples != nil {
		out.ConfirmSamples = *c.ConfirmSamples
	}
	if c.StallFactor != nil {
		out.StallFactor = *c.StallFactor
	}
	return out
}

// Features builds the extraction config, including GPS filter noise.
func (c *TuningConfig) Features() features.Config {
	out := features.DefaultConfig()
	if c.GridSpacingM != nil {
		out.GridSpacingM = *c.GridSpacingM
	}
	if c.SmoothWidth != nil {
		out.SmoothWidth = *c.SmoothWidth
	}
	if c.OutlierSigma != nil {
		out.OutlierSigma = *c.OutlierSigma
	}
	if c.BrakeOnsetBar != nil {
		out.BrakeOnsetBar = *c.BrakeOnsetBar
	}
	if c.BrakeSearchM != nil {
		out.BrakeSearchM = *c.BrakeSearchM
	}
	out.GPS = c.gps()
	return out
}

func (c *TuningConfig) gps() smooth.GPSFilterConfig {
	out := smooth.DefaultGPSFilterConfig()
	if c.GPSProcessPos != nil {
		out.ProcessNoisePos = *c.GPSProcessPos
	}
	if c.GPSProcessVel != nil {
		out.ProcessNoiseVel = *c.GPSProcessVel
	}
	if c.GPSMeasurement != nil {
		out.MeasurementNoise = *c.GPSMeasurement
	}
	return out
}

// Corners builds the corner detection config.
func (c *TuningConfig) Corners() track.CornerConfig {
	out := track.DefaultCornerConfig()
	if c.CornerOnCurvature != nil {
		out.OnCurvature = *c.CornerOnCurvature
	}
	if c.CornerOffCurvature != nil {
		out.OffCurvature = *c.CornerOffCurvature
	}
	if c.CornerMinLengthM != nil {
		out.MinLengthM = *c.CornerMinLengthM
	}
	if c.CornerMergeGapM != nil {
		out.MergeGapM = *c.CornerMergeGapM
	}
	return out
}

// Forecaster builds the pace forecaster config.
func (c *TuningConfig) Forecaster() strategy.ForecastConfig {
	out := strategy.DefaultForecastConfig()
	if c.ForecastLookbackLaps != nil {
		out.LookbackLaps = *c.ForecastLookbackLaps
	}
	return out
}

// Degradation builds the degradation engine config.
func (c *TuningConfig) Degradation() strategy.DegradationConfig {
	out := strategy.DefaultDegradationConfig()
	if c.BaselineLaps != nil {
		out.BaselineLaps = *c.BaselineLaps
	}
	return out
}

// Pit builds the pit optimizer config.
func (c *TuningConfig) Pit() strategy.PitConfig {
	out := strategy.DefaultPitConfig()
	if c.PitLossSeconds != nil {
		out.PitLossS = *c.PitLossSeconds
	}
	if c.FreshTireGainSeconds != nil {
		out.FreshTireGainS = *c.FreshTireGainSeconds
	}
	return out
}

// Threat builds the threat detector config.
func (c *TuningConfig) Threat() strategy.ThreatConfig {
	return strategy.DefaultThreatConfig()
}
