package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/racecraft/internal/laps"
	"github.com/banshee-data/racecraft/internal/monitoring"
	"github.com/banshee-data/racecraft/internal/smooth"
	"github.com/banshee-data/racecraft/internal/telemetry"
	"github.com/banshee-data/racecraft/internal/track"
)

// Config tunes cleanup and extraction.
type Config struct {
	// GridSpacingM is the uniform resampling step for comparison series.
	GridSpacingM float64
	// SmoothWidth is the rolling-window width for continuous channels.
	SmoothWidth int
	// OutlierSigma is the replacement threshold before smoothing.
	OutlierSigma float64
	// BrakeOnsetBar is the front pressure that marks the start of braking.
	BrakeOnsetBar float64
	// BrakeSearchM is how far before a corner to search for brake onset.
	BrakeSearchM float64
	// GPS holds the path filter noise parameters.
	GPS smooth.GPSFilterConfig
}

// DefaultConfig returns production extraction parameters.
func DefaultConfig() Config {
	return Config{
		GridSpacingM:  10,
		SmoothWidth:   5,
		OutlierSigma:  3,
		BrakeOnsetBar: 5,
		BrakeSearchM:  200,
		GPS:           smooth.DefaultGPSFilterConfig(),
	}
}

// CornerMetrics are per-corner driving metrics for one lap.
type CornerMetrics struct {
	CornerID int
	// PeakLatG and MeanLatG summarize cornering load inside the window.
	PeakLatG float64
	MeanLatG float64
	// MinSpeedKPH is the apex speed.
	MinSpeedKPH float64
	// BrakeOnsetM is the lap distance where front brake pressure first
	// crossed the onset threshold approaching this corner; NaN if the
	// corner was taken without braking.
	BrakeOnsetM float64
	// SteeringAtSpeed is mean |steering angle| times speed inside the
	// window, a proxy that rises when the driver needs more lock for the
	// same line (front grip fading).
	SteeringAtSpeed float64
	// ExitThrottle is mean throttle over the last third of the window.
	ExitThrottle float64
}

// LapFeatures is the per-lap feature vector consumed by the strategy
// engines.
type LapFeatures struct {
	Vehicle  int
	LapIndex int

	LapTime     float64
	SectorTimes []float64

	TopSpeedKPH  float64
	MeanSpeedKPH float64

	PeakBrakeF float64
	PeakBrakeR float64
	// BrakeBias is mean front/(front+rear) pressure while braking.
	BrakeBias float64

	ThrottleVariance float64
	// ThrottleSmoothness is the mean absolute per-sample throttle change;
	// higher means busier pedal work.
	ThrottleSmoothness float64

	MeanLatG float64
	Corners  []CornerMetrics

	Incomplete bool
	Stalled    bool
	// OutliersReplaced counts samples rewritten during cleanup.
	OutliersReplaced int
	SchemaVersion    int
}

// GridLap is a lap resampled onto the uniform distance grid, used for
// opponent alignment and charting.
type GridLap struct {
	Vehicle    int
	LapIndex   int
	SpacingM   float64
	Dist       []float64
	ElapsedS   []float64
	SpeedKPH   []float64
	BrakeF     []float64
	Throttle   []float64
	LatG       []float64
	Steering   []float64
	Lat        []float64
	Lon        []float64
	Incomplete bool
}

// minLapSamples is the floor below which a segment cannot be featurized.
const minLapSamples = 10

// Extractor computes feature vectors for one vehicle's laps on a fixed
// circuit and corner set.
type Extractor struct {
	cfg     Config
	profile *track.Profile
	corners []track.Corner
}

// NewExtractor builds an extractor. Zero config fields take defaults.
func NewExtractor(cfg Config, profile *track.Profile, corners []track.Corner) *Extractor {
	def := DefaultConfig()
	if cfg.GridSpacingM <= 0 {
		cfg.GridSpacingM = def.GridSpacingM
	}
	if cfg.SmoothWidth <= 0 {
		cfg.SmoothWidth = def.SmoothWidth
	}
	if cfg.OutlierSigma <= 0 {
		cfg.OutlierSigma = def.OutlierSigma
	}
	if cfg.BrakeOnsetBar <= 0 {
		cfg.BrakeOnsetBar = def.BrakeOnsetBar
	}
	if cfg.BrakeSearchM <= 0 {
		cfg.BrakeSearchM = def.BrakeSearchM
	}
	return &Extractor{cfg: cfg, profile: profile, corners: corners}
}

// Corners returns the corner set the extractor scores against.
func (e *Extractor) Corners() []track.Corner { return e.corners }

// Extract cleans a segment's channels and computes its feature vector and
// grid series. Incomplete segments are featurized but flagged; segments too
// short to clean return an error.
func (e *Extractor) Extract(seg *laps.Segment) (*LapFeatures, *GridLap, error) {
	if seg.Samples() < minLapSamples {
		return nil, nil, fmt.Errorf("features: lap %d for vehicle %d has %d samples, need %d",
			seg.Index, seg.Vehicle, seg.Samples(), minLapSamples)
	}

	replaced := 0
	clean := func(ch telemetry.Channel) []float64 {
		series := seg.Channels[ch]
		out, n := smooth.ReplaceOutliers(series, e.cfg.SmoothWidth, e.cfg.OutlierSigma)
		replaced += n
		return smooth.RollingMean(out, e.cfg.SmoothWidth)
	}

	speed := clean(telemetry.ChanSpeed)
	throttle := clean(telemetry.ChanThrottle)
	brakeF := clean(telemetry.ChanBrakeF)
	brakeR := clean(telemetry.ChanBrakeR)
	latG := clean(telemetry.ChanAccY)
	steer := clean(telemetry.ChanSteering)
	smLat, smLon := smooth.SmoothTrace(e.cfg.GPS, seg.Times,
		seg.Channels[telemetry.ChanGPSLat], seg.Channels[telemetry.ChanGPSLon])

	lf := &LapFeatures{
		Vehicle:          seg.Vehicle,
		LapIndex:         seg.Index,
		LapTime:          seg.LapTime(),
		SectorTimes:      seg.SectorTimes,
		Incomplete:       seg.Incomplete,
		Stalled:          seg.Stalled,
		OutliersReplaced: replaced,
		SchemaVersion:    telemetry.SchemaVersion,
	}

	if vs := compact(speed); len(vs) > 0 {
		lf.TopSpeedKPH = floats.Max(vs)
		lf.MeanSpeedKPH = stat.Mean(vs, nil)
	}
	if vs := compact(brakeF); len(vs) > 0 {
		lf.PeakBrakeF = floats.Max(vs)
	}
	if vs := compact(brakeR); len(vs) > 0 {
		lf.PeakBrakeR = floats.Max(vs)
	}
	lf.BrakeBias = brakeBias(brakeF, brakeR, e.cfg.BrakeOnsetBar)
	if vs := compact(throttle); len(vs) > 1 {
		lf.ThrottleVariance = stat.Variance(vs, nil)
		lf.ThrottleSmoothness = meanAbsDelta(vs)
	}
	if vs := compactAbs(latG); len(vs) > 0 {
		lf.MeanLatG = stat.Mean(vs, nil)
	}

	for _, c := range e.corners {
		lf.Corners = append(lf.Corners, e.cornerMetrics(c, seg.Dist, speed, brakeF, latG, steer, throttle))
	}

	gl := &GridLap{
		Vehicle:    seg.Vehicle,
		LapIndex:   seg.Index,
		SpacingM:   e.cfg.GridSpacingM,
		Incomplete: seg.Incomplete,
	}
	elapsed := make([]float64, len(seg.Times))
	for i, t := range seg.Times {
		elapsed[i] = t - seg.StartTime
	}
	gl.Dist, gl.ElapsedS = ResampleByDistance(seg.Dist, elapsed, e.cfg.GridSpacingM, e.profile.LengthM)
	_, gl.SpeedKPH = ResampleByDistance(seg.Dist, speed, e.cfg.GridSpacingM, e.profile.LengthM)
	_, gl.BrakeF = ResampleByDistance(seg.Dist, brakeF, e.cfg.GridSpacingM, e.profile.LengthM)
	_, gl.Throttle = ResampleByDistance(seg.Dist, throttle, e.cfg.GridSpacingM, e.profile.LengthM)
	_, gl.LatG = ResampleByDistance(seg.Dist, latG, e.cfg.GridSpacingM, e.profile.LengthM)
	_, gl.Steering = ResampleByDistance(seg.Dist, steer, e.cfg.GridSpacingM, e.profile.LengthM)
	_, gl.Lat = ResampleByDistance(seg.Dist, smLat, e.cfg.GridSpacingM, e.profile.LengthM)
	_, gl.Lon = ResampleByDistance(seg.Dist, smLon, e.cfg.GridSpacingM, e.profile.LengthM)

	monitoring.Diagf("features: vehicle %d lap %d: %.3fs, top %.1f km/h, %d outliers replaced",
		seg.Vehicle, seg.Index, lf.LapTime, lf.TopSpeedKPH, replaced)
	return lf, gl, nil
}

func (e *Extractor) cornerMetrics(c track.Corner, dist, speed, brakeF, latG, steer, throttle []float64) CornerMetrics {
	m := CornerMetrics{
		CornerID:    c.ID,
		MinSpeedKPH: math.NaN(),
		BrakeOnsetM: math.NaN(),
	}
	exitStart := c.EndM - c.LengthM()/3

	var latSum, sasSum, exitSum float64
	var latN, sasN, exitN int
	for i := range dist {
		d := dist[i]
		if math.IsNaN(d) {
			continue
		}
		// Brake onset search covers the approach zone before the window.
		if d >= c.StartM-e.cfg.BrakeSearchM && d <= c.ApexM &&
			math.IsNaN(m.BrakeOnsetM) && brakeF[i] >= e.cfg.BrakeOnsetBar {
			m.BrakeOnsetM = d
		}
		if !c.Contains(d) {
			continue
		}
		if g := math.Abs(latG[i]); !math.IsNaN(g) {
			latSum += g
			latN++
			if g > m.PeakLatG {
				m.PeakLatG = g
			}
		}
		if v := speed[i]; !math.IsNaN(v) && (math.IsNaN(m.MinSpeedKPH) || v < m.MinSpeedKPH) {
			m.MinSpeedKPH = v
		}
		if !math.IsNaN(steer[i]) && !math.IsNaN(speed[i]) {
			sasSum += math.Abs(steer[i]) * speed[i] / 3.6
			sasN++
		}
		if d >= exitStart && !math.IsNaN(throttle[i]) {
			exitSum += throttle[i]
			exitN++
		}
	}
	if latN > 0 {
		m.MeanLatG = latSum / float64(latN)
	}
	if sasN > 0 {
		m.SteeringAtSpeed = sasSum / float64(sasN)
	}
	if exitN > 0 {
		m.ExitThrottle = exitSum / float64(exitN)
	}
	return m
}

// brakeBias returns mean front share of total pressure over braking samples.
func brakeBias(front, rear []float64, onsetBar float64) float64 {
	var sum float64
	var n int
	for i := range front {
		f, r := front[i], rear[i]
		if math.IsNaN(f) || math.IsNaN(r) {
			continue
		}
		if f+r < onsetBar {
			continue
		}
		sum += f / (f + r)
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func compact(vals []float64) []float64 {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func compactAbs(vals []float64) []float64 {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) {
			out = append(out, math.Abs(v))
		}
	}
	return out
}

func meanAbsDelta(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(vals); i++ {
		sum += math.Abs(vals[i] - vals[i-1])
	}
	return sum / float64(len(vals)-1)
}
