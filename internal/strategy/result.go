// Package strategy holds the inference engines that run on per-lap feature
// vectors: pace forecasting, tire degradation analysis, pit window
// optimization, threat detection and whole-field standings.
package strategy

import "time"

// Result is the envelope every engine output embeds. Confidence is always
// in [0, 1]; engines degrade it rather than refusing to answer when history
// is thin, and set LowData so callers can tell the difference.
type Result struct {
	Engine      string    `json:"engine"`
	GeneratedAt time.Time `json:"generated_at"`
	Confidence  float64   `json:"confidence"`
	LowData     bool      `json:"low_data"`
	Notes       []string  `json:"notes,omitempty"`
}

func newResult(engine string, confidence float64) Result {
	return Result{
		Engine:      engine,
		GeneratedAt: time.Now().UTC(),
		Confidence:  clamp01(confidence),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
