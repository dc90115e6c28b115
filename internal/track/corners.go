package track

import (
	"math"

	"github.com/banshee-data/racecraft/internal/monitoring"
)

// Corner is a distance window on the lap where the reference lap sustained
// cornering load. Corners are numbered from 1 in lap-distance order.
type Corner struct {
	ID            int
	StartM        float64
	EndM          float64
	ApexM         float64
	PeakCurvature float64
}

// LengthM returns the corner window length.
func (c Corner) LengthM() float64 { return c.EndM - c.StartM }

// Contains reports whether lap distance d falls inside the corner window.
func (c Corner) Contains(d float64) bool { return d >= c.StartM && d <= c.EndM }

// CornerConfig tunes corner detection. Curvature is 1/radius in 1/m,
// estimated from lateral acceleration and speed.
type CornerConfig struct {
	// OnCurvature opens a corner window. 0.008 corresponds to a 125 m radius.
	OnCurvature float64
	// OffCurvature closes it; lower than OnCurvature so small dips inside a
	// long corner do not split it.
	OffCurvature float64
	// MinLengthM discards windows shorter than this.
	MinLengthM float64
	// MergeGapM joins adjacent windows separated by less than this.
	MergeGapM float64
	// MinSpeedKPH gates curvature estimation; below it the estimate is noise.
	MinSpeedKPH float64
}

// DefaultCornerConfig returns the production detection thresholds.
func DefaultCornerConfig() CornerConfig {
	return CornerConfig{
		OnCurvature:  0.008,
		OffCurvature: 0.004,
		MinLengthM:   20,
		MergeGapM:    30,
		MinSpeedKPH:  40,
	}
}

// Curvature estimates path curvature from lateral acceleration (g) and speed
// (km/h) as |a|/v^2. Returns 0 below the speed gate or for NaN inputs.
func Curvature(latG, speedKPH, minSpeedKPH float64) float64 {
	if math.IsNaN(latG) || math.IsNaN(speedKPH) || speedKPH < minSpeedKPH {
		return 0
	}
	v := speedKPH / 3.6
	return math.Abs(latG) * 9.81 / (v * v)
}

// DetectCorners carves a reference lap into corner windows using hysteresis
// on estimated curvature. dist, latG and speed are parallel samples ordered
// by lap distance. The result is ordered by StartM and numbered from 1.
func DetectCorners(cfg CornerConfig, dist, latG, speedKPH []float64) []Corner {
	def := DefaultCornerConfig()
	if cfg.OnCurvature <= 0 {
		cfg.OnCurvature = def.OnCurvature
	}
	if cfg.OffCurvature <= 0 || cfg.OffCurvature >= cfg.OnCurvature {
		cfg.OffCurvature = cfg.OnCurvature / 2
	}
	if cfg.MinLengthM <= 0 {
		cfg.MinLengthM = def.MinLengthM
	}
	if cfg.MergeGapM < 0 {
		cfg.MergeGapM = def.MergeGapM
	}
	if cfg.MinSpeedKPH <= 0 {
		cfg.MinSpeedKPH = def.MinSpeedKPH
	}

	var raw []Corner
	open := false
	var cur Corner
	for i := range dist {
		k := Curvature(latG[i], speedKPH[i], cfg.MinSpeedKPH)
		switch {
		case !open && k >= cfg.OnCurvature:
			open = true
			cur = Corner{StartM: dist[i], ApexM: dist[i], PeakCurvature: k}
		case open && k > cur.PeakCurvature:
			cur.PeakCurvature = k
			cur.ApexM = dist[i]
		}
		if open && k < cfg.OffCurvature {
			cur.EndM = dist[i]
			raw = append(raw, cur)
			open = false
		}
	}
	if open && len(dist) > 0 {
		cur.EndM = dist[len(dist)-1]
		raw = append(raw, cur)
	}

	merged := mergeCorners(raw, cfg.MergeGapM)

	out := merged[:0]
	for _, c := range merged {
		if c.LengthM() >= cfg.MinLengthM {
			out = append(out, c)
		}
	}
	for i := range out {
		out[i].ID = i + 1
	}
	monitoring.Diagf("track: detected %d corners from %d samples", len(out), len(dist))
	return out
}

func mergeCorners(cs []Corner, gap float64) []Corner {
	if len(cs) < 2 {
		return cs
	}
	out := []Corner{cs[0]}
	for _, c := range cs[1:] {
		last := &out[len(out)-1]
		if c.StartM-last.EndM < gap {
			last.EndM = c.EndM
			if c.PeakCurvature > last.PeakCurvature {
				last.PeakCurvature = c.PeakCurvature
				last.ApexM = c.ApexM
			}
			continue
		}
		out = append(out, c)
	}
	return out
}
