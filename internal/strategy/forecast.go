package strategy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/racecraft/internal/features"
	"github.com/banshee-data/racecraft/internal/monitoring"
)

// ForecastConfig tunes the pace forecaster.
type ForecastConfig struct {
	// LookbackLaps bounds how much history feeds the trend fit.
	LookbackLaps int
	// BaseConfidence and ConfidenceDecay set per-horizon confidence:
	// base - decay*h, floored at ConfidenceFloor.
	BaseConfidence  float64
	ConfidenceDecay float64
	ConfidenceFloor float64
	// StabilityBandS is the slope magnitude (s/lap) inside which pace is
	// called stable.
	StabilityBandS float64
	// FullHistoryLaps is the clean-lap count below which confidence is
	// scaled down and the result flagged LowData.
	FullHistoryLaps int
}

// DefaultForecastConfig returns the production forecaster parameters.
func DefaultForecastConfig() ForecastConfig {
	return ForecastConfig{
		LookbackLaps:    10,
		BaseConfidence:  0.90,
		ConfidenceDecay: 0.06,
		ConfidenceFloor: 0.60,
		StabilityBandS:  0.05,
		FullHistoryLaps: 5,
	}
}

// LapPrediction is one forecast horizon step.
type LapPrediction struct {
	// Horizon is 1 for the next lap.
	Horizon int `json:"horizon"`
	// PredictedS is the predicted lap time.
	PredictedS float64 `json:"predicted_s"`
	// DeltaS is predicted minus the latest clean lap.
	DeltaS     float64 `json:"delta_s"`
	Confidence float64 `json:"confidence"`
}

// Forecast is the pace forecaster output.
type Forecast struct {
	Result
	Vehicle int `json:"vehicle"`
	// LatestLapS is the most recent clean lap time the trend anchors on.
	LatestLapS float64 `json:"latest_lap_s"`
	// TrendSPerLap is the fitted pace slope.
	TrendSPerLap float64 `json:"trend_s_per_lap"`
	// Trend is "improving", "stable" or "degrading".
	Trend       string          `json:"trend"`
	Predictions []LapPrediction `json:"predictions"`
}

// minForecastLaps is the floor below which no trend can be fit.
const minForecastLaps = 3

// Forecaster predicts lap times a few laps ahead from the recent trend.
type Forecaster struct {
	cfg ForecastConfig
}

// NewForecaster builds a forecaster. Zero config fields take defaults.
func NewForecaster(cfg ForecastConfig) *Forecaster {
	def := DefaultForecastConfig()
	if cfg.LookbackLaps <= 0 {
		cfg.LookbackLaps = def.LookbackLaps
	}
	if cfg.BaseConfidence <= 0 {
		cfg.BaseConfidence = def.BaseConfidence
	}
	if cfg.ConfidenceDecay <= 0 {
		cfg.ConfidenceDecay = def.ConfidenceDecay
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = def.ConfidenceFloor
	}
	if cfg.StabilityBandS <= 0 {
		cfg.StabilityBandS = def.StabilityBandS
	}
	if cfg.FullHistoryLaps <= 0 {
		cfg.FullHistoryLaps = def.FullHistoryLaps
	}
	return &Forecaster{cfg: cfg}
}

// cleanLaps filters history down to complete, unstalled laps with a sane
// lap time, preserving order.
func cleanLaps(history []*features.LapFeatures) []*features.LapFeatures {
	out := make([]*features.LapFeatures, 0, len(history))
	for _, lf := range history {
		if lf == nil || lf.Incomplete || lf.Stalled {
			continue
		}
		if math.IsNaN(lf.LapTime) || lf.LapTime <= 0 {
			continue
		}
		out = append(out, lf)
	}
	return out
}

// Forecast predicts lap times for horizons 1..horizon from the vehicle's lap
// history (oldest first). Below minForecastLaps no trend can be fit, so the
// last clean lap is carried forward flat at low confidence rather than
// refusing the query; only an empty history is an error.
func (f *Forecaster) Forecast(history []*features.LapFeatures, horizon int) (*Forecast, error) {
	if horizon < 1 {
		horizon = 1
	}
	clean := cleanLaps(history)
	if len(clean) == 0 {
		return nil, fmt.Errorf("strategy: pace forecast has no clean laps to anchor on")
	}
	if len(clean) > f.cfg.LookbackLaps {
		clean = clean[len(clean)-f.cfg.LookbackLaps:]
	}

	latest := clean[len(clean)-1]
	base := latest.LapTime
	beta := 0.0
	if len(clean) >= minForecastLaps {
		xs := make([]float64, len(clean))
		ys := make([]float64, len(clean))
		for i, lf := range clean {
			xs[i] = float64(i)
			ys[i] = lf.LapTime
		}
		var alpha float64
		alpha, beta = stat.LinearRegression(xs, ys, nil, false)
		base = alpha + beta*float64(len(clean)-1)
	}

	fc := &Forecast{
		Result:       newResult("pace_forecast", f.cfg.BaseConfidence),
		Vehicle:      latest.Vehicle,
		LatestLapS:   latest.LapTime,
		TrendSPerLap: beta,
	}
	switch {
	case beta > f.cfg.StabilityBandS:
		fc.Trend = "degrading"
	case beta < -f.cfg.StabilityBandS:
		fc.Trend = "improving"
	default:
		fc.Trend = "stable"
	}

	lowDataScale := 1.0
	if len(clean) < f.cfg.FullHistoryLaps {
		fc.LowData = true
		lowDataScale = float64(len(clean)) / float64(f.cfg.FullHistoryLaps)
		fc.Notes = append(fc.Notes,
			fmt.Sprintf("only %d clean laps of history", len(clean)))
	}
	if len(clean) < minForecastLaps {
		fc.Notes = append(fc.Notes, "too few laps for a trend fit, carrying last lap forward")
	}

	for h := 1; h <= horizon; h++ {
		// The fitted trend is damped with distance: pace rarely decays
		// linearly for long.
		damp := 1 - float64(h-1)*0.15
		if damp < 0.3 {
			damp = 0.3
		}
		pred := base + beta*float64(h)*damp
		conf := f.cfg.BaseConfidence - f.cfg.ConfidenceDecay*float64(h)
		if conf < f.cfg.ConfidenceFloor {
			conf = f.cfg.ConfidenceFloor
		}
		fc.Predictions = append(fc.Predictions, LapPrediction{
			Horizon:    h,
			PredictedS: pred,
			DeltaS:     pred - latest.LapTime,
			Confidence: clamp01(conf * lowDataScale),
		})
	}
	fc.Confidence = fc.Predictions[0].Confidence

	monitoring.Diagf("strategy: vehicle %d pace %s (%+.3f s/lap over %d laps)",
		fc.Vehicle, fc.Trend, beta, len(clean))
	return fc, nil
}
