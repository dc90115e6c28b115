package strategy

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/racecraft/internal/features"
	"github.com/banshee-data/racecraft/internal/monitoring"
)

// Severity grades how far a metric has drifted from the stint baseline.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityModerate Severity = "moderate"
	SeverityCritical Severity = "critical"
)

// DegradationConfig tunes the tire degradation engine.
type DegradationConfig struct {
	// BaselineLaps is how many laps at stint start form the baseline.
	BaselineLaps int
	// RecentLaps is how many trailing laps form the current estimate.
	RecentLaps int
	// ModerateFrac and CriticalFrac are the drift fractions for the two
	// severity grades.
	ModerateFrac float64
	CriticalFrac float64
	// BrakeFadeShiftM is the earlier brake onset shift that signals fade.
	BrakeFadeShiftM float64
}

// DefaultDegradationConfig returns the production thresholds.
func DefaultDegradationConfig() DegradationConfig {
	return DegradationConfig{
		BaselineLaps:    3,
		RecentLaps:      3,
		ModerateFrac:    0.05,
		CriticalFrac:    0.10,
		BrakeFadeShiftM: 15,
	}
}

// Cause is a suspected degradation mechanism with its own confidence.
type Cause struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Cause labels.
const (
	CauseFrontTires = "front_tire_wear"
	CauseRearTires  = "rear_tire_wear"
	CauseBrakeFade  = "brake_fade"
)

// CornerTrend is the per-corner drift between baseline and recent laps.
// Fractions are signed: negative lateral-G drift means lost grip.
type CornerTrend struct {
	CornerID          int     `json:"corner_id"`
	LatGDriftFrac     float64 `json:"lat_g_drift_frac"`
	SteeringDriftFrac float64 `json:"steering_drift_frac"`
	// BrakeOnsetShiftM is recent minus baseline onset: negative means the
	// driver now brakes earlier.
	BrakeOnsetShiftM      float64  `json:"brake_onset_shift_m"`
	ExitThrottleDriftFrac float64  `json:"exit_throttle_drift_frac"`
	Severity              Severity `json:"severity"`
}

// DegradationReport is the engine output for one vehicle's current stint.
type DegradationReport struct {
	Result
	Vehicle   int `json:"vehicle"`
	StintLaps int `json:"stint_laps"`
	// PaceDriftS is recent mean lap time minus baseline mean lap time.
	PaceDriftS float64 `json:"pace_drift_s"`
	// GripDriftFrac is the worst per-corner lateral-G drift (most negative).
	GripDriftFrac float64       `json:"grip_drift_frac"`
	Severity      Severity      `json:"severity"`
	Causes        []Cause       `json:"causes,omitempty"`
	Corners       []CornerTrend `json:"corners"`
}

// minStintLaps is baseline plus at least one lap to compare against.
const minStintLaps = 4

// DegradationEngine detects grip and brake decay across a stint.
type DegradationEngine struct {
	cfg DegradationConfig
}

// NewDegradationEngine builds the engine. Zero config fields take defaults.
func NewDegradationEngine(cfg DegradationConfig) *DegradationEngine {
	def := DefaultDegradationConfig()
	if cfg.BaselineLaps <= 0 {
		cfg.BaselineLaps = def.BaselineLaps
	}
	if cfg.RecentLaps <= 0 {
		cfg.RecentLaps = def.RecentLaps
	}
	if cfg.ModerateFrac <= 0 {
		cfg.ModerateFrac = def.ModerateFrac
	}
	if cfg.CriticalFrac <= 0 {
		cfg.CriticalFrac = def.CriticalFrac
	}
	if cfg.BrakeFadeShiftM <= 0 {
		cfg.BrakeFadeShiftM = def.BrakeFadeShiftM
	}
	return &DegradationEngine{cfg: cfg}
}

// Analyze grades degradation over one stint (oldest lap first). The stint
// slice must not span a pit stop; the session layer resets stints on pit
// signals. A stint too short to split into baseline and recent laps yields
// a no-drift report flagged LowData rather than an error; only an empty
// stint is an error.
func (e *DegradationEngine) Analyze(stint []*features.LapFeatures) (*DegradationReport, error) {
	clean := cleanLaps(stint)
	if len(clean) == 0 {
		return nil, fmt.Errorf("strategy: degradation has no clean laps to analyze")
	}
	if len(clean) < minStintLaps {
		rep := &DegradationReport{
			Vehicle:   clean[0].Vehicle,
			StintLaps: len(clean),
			Severity:  SeverityNone,
		}
		rep.Result = newResult("degradation", 0.3*float64(len(clean))/float64(minStintLaps))
		rep.LowData = true
		rep.Notes = append(rep.Notes,
			fmt.Sprintf("stint of %d laps is shorter than the baseline window, no drift measured", len(clean)))
		return rep, nil
	}

	baseline := clean[:e.cfg.BaselineLaps]
	recentN := e.cfg.RecentLaps
	if recentN > len(clean)-e.cfg.BaselineLaps {
		recentN = len(clean) - e.cfg.BaselineLaps
	}
	recent := clean[len(clean)-recentN:]

	rep := &DegradationReport{
		Vehicle:   clean[0].Vehicle,
		StintLaps: len(clean),
		Severity:  SeverityNone,
	}
	rep.PaceDriftS = meanLapTime(recent) - meanLapTime(baseline)

	// Per-corner drift.
	cornerIDs := map[int]bool{}
	for _, lf := range clean {
		for _, c := range lf.Corners {
			cornerIDs[c.CornerID] = true
		}
	}
	worstLatG := 0.0
	for id := range cornerIDs {
		ct := e.cornerTrend(id, baseline, recent)
		rep.Corners = append(rep.Corners, ct)
		if ct.LatGDriftFrac < worstLatG {
			worstLatG = ct.LatGDriftFrac
		}
	}
	sortCorners(rep.Corners)
	rep.GripDriftFrac = worstLatG
	rep.Severity = e.grade(-worstLatG)

	rep.Causes = e.attributeCauses(rep.Corners)
	rep.Result = newResult("degradation", e.confidence(clean))
	if len(clean) < e.cfg.BaselineLaps+e.cfg.RecentLaps {
		rep.LowData = true
		rep.Notes = append(rep.Notes, fmt.Sprintf("short stint: %d laps", len(clean)))
	}

	monitoring.Diagf("strategy: vehicle %d degradation %s (grip %+.1f%%, pace %+.2fs)",
		rep.Vehicle, rep.Severity, rep.GripDriftFrac*100, rep.PaceDriftS)
	return rep, nil
}

func (e *DegradationEngine) grade(dropFrac float64) Severity {
	switch {
	case dropFrac >= e.cfg.CriticalFrac:
		return SeverityCritical
	case dropFrac >= e.cfg.ModerateFrac:
		return SeverityModerate
	default:
		return SeverityNone
	}
}

func (e *DegradationEngine) cornerTrend(id int, baseline, recent []*features.LapFeatures) CornerTrend {
	ct := CornerTrend{CornerID: id, Severity: SeverityNone}
	bLat := meanCorner(baseline, id, func(c features.CornerMetrics) float64 { return c.MeanLatG })
	rLat := meanCorner(recent, id, func(c features.CornerMetrics) float64 { return c.MeanLatG })
	bSteer := meanCorner(baseline, id, func(c features.CornerMetrics) float64 { return c.SteeringAtSpeed })
	rSteer := meanCorner(recent, id, func(c features.CornerMetrics) float64 { return c.SteeringAtSpeed })
	bOnset := meanCorner(baseline, id, func(c features.CornerMetrics) float64 { return c.BrakeOnsetM })
	rOnset := meanCorner(recent, id, func(c features.CornerMetrics) float64 { return c.BrakeOnsetM })
	bExit := meanCorner(baseline, id, func(c features.CornerMetrics) float64 { return c.ExitThrottle })
	rExit := meanCorner(recent, id, func(c features.CornerMetrics) float64 { return c.ExitThrottle })

	ct.LatGDriftFrac = driftFrac(bLat, rLat)
	ct.SteeringDriftFrac = driftFrac(bSteer, rSteer)
	ct.ExitThrottleDriftFrac = driftFrac(bExit, rExit)
	if !math.IsNaN(bOnset) && !math.IsNaN(rOnset) {
		ct.BrakeOnsetShiftM = rOnset - bOnset
	}
	ct.Severity = e.grade(-ct.LatGDriftFrac)
	return ct
}

// attributeCauses maps drift signatures to mechanisms. Front wear shows as
// lost lateral grip with more steering for the same line; rear wear shows as
// throttle lifted on exits; brake fade shows as onsets creeping earlier.
func (e *DegradationEngine) attributeCauses(corners []CornerTrend) []Cause {
	var latDrop, steerRise, exitDrop, onsetShift float64
	n := 0
	for _, ct := range corners {
		latDrop += -ct.LatGDriftFrac
		steerRise += ct.SteeringDriftFrac
		exitDrop += -ct.ExitThrottleDriftFrac
		onsetShift += ct.BrakeOnsetShiftM
		n++
	}
	if n == 0 {
		return nil
	}
	latDrop /= float64(n)
	steerRise /= float64(n)
	exitDrop /= float64(n)
	onsetShift /= float64(n)

	var causes []Cause
	if latDrop >= e.cfg.ModerateFrac && steerRise > 0 {
		conf := clamp01(latDrop/e.cfg.CriticalFrac*0.5 + steerRise*2)
		causes = append(causes, Cause{Label: CauseFrontTires, Confidence: conf})
	}
	if exitDrop >= e.cfg.ModerateFrac {
		conf := clamp01(exitDrop / e.cfg.CriticalFrac * 0.6)
		causes = append(causes, Cause{Label: CauseRearTires, Confidence: conf})
	}
	if onsetShift <= -e.cfg.BrakeFadeShiftM {
		conf := clamp01(-onsetShift / (2 * e.cfg.BrakeFadeShiftM) * 0.8)
		causes = append(causes, Cause{Label: CauseBrakeFade, Confidence: conf})
	}
	sortCauses(causes)
	return causes
}

// confidence grows with how consistently lap times drift in one direction.
func (e *DegradationEngine) confidence(clean []*features.LapFeatures) float64 {
	if len(clean) < 3 {
		return 0.3
	}
	rising, falling := 0, 0
	for i := 1; i < len(clean); i++ {
		if clean[i].LapTime > clean[i-1].LapTime {
			rising++
		} else {
			falling++
		}
	}
	steps := float64(len(clean) - 1)
	consistency := math.Max(float64(rising), float64(falling)) / steps
	return clamp01(0.3 + 0.65*consistency)
}

func meanLapTime(laps []*features.LapFeatures) float64 {
	vals := make([]float64, 0, len(laps))
	for _, lf := range laps {
		vals = append(vals, lf.LapTime)
	}
	return stat.Mean(vals, nil)
}

func meanCorner(laps []*features.LapFeatures, id int, pick func(features.CornerMetrics) float64) float64 {
	var sum float64
	n := 0
	for _, lf := range laps {
		for _, c := range lf.Corners {
			if c.CornerID != id {
				continue
			}
			if v := pick(c); !math.IsNaN(v) {
				sum += v
				n++
			}
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// driftFrac returns (recent-baseline)/baseline, guarding NaN and tiny
// baselines.
func driftFrac(baseline, recent float64) float64 {
	if math.IsNaN(baseline) || math.IsNaN(recent) || math.Abs(baseline) < 1e-9 {
		return 0
	}
	return (recent - baseline) / math.Abs(baseline)
}

func sortCorners(cs []CornerTrend) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].CornerID < cs[j].CornerID })
}

func sortCauses(cs []Cause) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Confidence > cs[j].Confidence })
}
