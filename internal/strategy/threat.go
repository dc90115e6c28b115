package strategy

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/racecraft/internal/features"
	"github.com/banshee-data/racecraft/internal/monitoring"
)

// ThreatConfig tunes the threat detector. Weights sum to 1.
type ThreatConfig struct {
	WeightClosingRate float64
	WeightGap         float64
	WeightSectorPace  float64
	WeightConsistency float64
	// MonitorThreshold and CriticalThreshold split attack probability into
	// the three alert levels.
	MonitorThreshold  float64
	CriticalThreshold float64
	// GapScaleS is the gap at which the gap term reaches zero.
	GapScaleS float64
	// ClosingScaleS is the closing rate (s/lap) that saturates its term.
	ClosingScaleS float64
}

// DefaultThreatConfig returns the production detector weights.
func DefaultThreatConfig() ThreatConfig {
	return ThreatConfig{
		WeightClosingRate: 0.35,
		WeightGap:         0.30,
		WeightSectorPace:  0.25,
		WeightConsistency: 0.10,
		MonitorThreshold:  0.4,
		CriticalThreshold: 0.7,
		GapScaleS:         10.0,
		ClosingScaleS:     1.0,
	}
}

// ThreatLevel buckets attack probability.
type ThreatLevel string

const (
	ThreatNone     ThreatLevel = "none"
	ThreatMonitor  ThreatLevel = "monitor"
	ThreatCritical ThreatLevel = "critical"
)

// ThreatInputs describes one chasing rival.
type ThreatInputs struct {
	Vehicle int
	Rival   int
	// GapS is the current gap to the rival, positive when the rival is
	// behind. GapHistoryS holds prior per-lap gaps, oldest first,
	// including the current one.
	GapS        float64
	GapHistoryS []float64
	// SectorDeltaS is own sector time minus rival sector time: positive
	// where the rival is faster.
	SectorDeltaS []float64
	// RivalRecent supplies the rival's recent laps for consistency.
	RivalRecent []*features.LapFeatures
}

// SectorAdvantage names a sector where the rival gains.
type SectorAdvantage struct {
	Sector     int     `json:"sector"`
	AdvantageS float64 `json:"advantage_s"`
}

// ThreatAssessment is the detector output.
type ThreatAssessment struct {
	Result
	Vehicle int `json:"vehicle"`
	Rival   int `json:"rival"`
	// AttackProbability rises monotonically with closing rate and rival
	// pace advantage, and falls with gap.
	AttackProbability float64     `json:"attack_probability"`
	Level             ThreatLevel `json:"level"`
	GapS              float64     `json:"gap_s"`
	ClosingRateS      float64     `json:"closing_rate_s_per_lap"`
	// LapsToContact is gap over closing rate; +Inf when not closing.
	LapsToContact float64 `json:"laps_to_contact"`
	// KeySectors are the top sectors (at most two) where the rival gains.
	KeySectors      []SectorAdvantage `json:"key_sectors,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
}

// ThreatDetector scores how likely a chasing rival is to attack soon.
type ThreatDetector struct {
	cfg ThreatConfig
}

// NewThreatDetector builds a detector. A zero config takes defaults.
func NewThreatDetector(cfg ThreatConfig) *ThreatDetector {
	def := DefaultThreatConfig()
	if cfg.WeightClosingRate <= 0 && cfg.WeightGap <= 0 && cfg.WeightSectorPace <= 0 && cfg.WeightConsistency <= 0 {
		cfg.WeightClosingRate = def.WeightClosingRate
		cfg.WeightGap = def.WeightGap
		cfg.WeightSectorPace = def.WeightSectorPace
		cfg.WeightConsistency = def.WeightConsistency
	}
	if cfg.MonitorThreshold <= 0 {
		cfg.MonitorThreshold = def.MonitorThreshold
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = def.CriticalThreshold
	}
	if cfg.GapScaleS <= 0 {
		cfg.GapScaleS = def.GapScaleS
	}
	if cfg.ClosingScaleS <= 0 {
		cfg.ClosingScaleS = def.ClosingScaleS
	}
	return &ThreatDetector{cfg: cfg}
}

// Assess scores one rival. Each term is clamped to [0, 1] before weighting,
// so the probability is a true convex combination and moves monotonically
// with every input.
func (d *ThreatDetector) Assess(in ThreatInputs) (*ThreatAssessment, error) {
	if in.GapS < 0 {
		return nil, fmt.Errorf("strategy: rival %d is ahead (gap %.2fs), not a chasing threat", in.Rival, in.GapS)
	}

	ta := &ThreatAssessment{
		Vehicle:       in.Vehicle,
		Rival:         in.Rival,
		GapS:          in.GapS,
		LapsToContact: math.Inf(1),
	}

	ta.ClosingRateS = closingRate(in.GapHistoryS)
	closingScore := clamp01(ta.ClosingRateS / d.cfg.ClosingScaleS)
	gapScore := clamp01(1 - in.GapS/d.cfg.GapScaleS)

	sectorScore := 0.0
	for i, delta := range in.SectorDeltaS {
		if delta > 0 {
			sectorScore += delta
			ta.KeySectors = append(ta.KeySectors, SectorAdvantage{Sector: i, AdvantageS: delta})
		}
	}
	sectorScore = clamp01(sectorScore)
	sort.Slice(ta.KeySectors, func(i, j int) bool {
		return ta.KeySectors[i].AdvantageS > ta.KeySectors[j].AdvantageS
	})
	if len(ta.KeySectors) > 2 {
		ta.KeySectors = ta.KeySectors[:2]
	}

	consistencyScore := rivalConsistency(in.RivalRecent)

	ta.AttackProbability = clamp01(
		d.cfg.WeightClosingRate*closingScore +
			d.cfg.WeightGap*gapScore +
			d.cfg.WeightSectorPace*sectorScore +
			d.cfg.WeightConsistency*consistencyScore)

	switch {
	case ta.AttackProbability >= d.cfg.CriticalThreshold:
		ta.Level = ThreatCritical
	case ta.AttackProbability >= d.cfg.MonitorThreshold:
		ta.Level = ThreatMonitor
	default:
		ta.Level = ThreatNone
	}

	if ta.ClosingRateS > 0 {
		ta.LapsToContact = in.GapS / ta.ClosingRateS
	}

	ta.Recommendations = d.recommend(ta)
	conf := 0.5
	if len(in.GapHistoryS) >= 3 {
		conf = 0.8
	}
	if len(cleanLaps(in.RivalRecent)) < 3 {
		conf -= 0.15
	}
	ta.Result = newResult("threat", conf)
	ta.Result.LowData = len(in.GapHistoryS) < 3

	monitoring.Diagf("strategy: vehicle %d threat from %d: p=%.2f (%s), closing %+.2fs/lap",
		in.Vehicle, in.Rival, ta.AttackProbability, ta.Level, ta.ClosingRateS)
	return ta, nil
}

func (d *ThreatDetector) recommend(ta *ThreatAssessment) []string {
	var out []string
	if ta.Level == ThreatNone {
		return nil
	}
	if !math.IsInf(ta.LapsToContact, 1) {
		out = append(out, fmt.Sprintf("rival %d in striking range in ~%.0f laps", ta.Rival, math.Ceil(ta.LapsToContact)))
	}
	for _, ks := range ta.KeySectors {
		out = append(out, fmt.Sprintf("defend sector %d: rival gains %.2fs there", ks.Sector+1, ks.AdvantageS))
	}
	if ta.Level == ThreatCritical {
		out = append(out, "expect an attack within the next two laps")
	}
	return out
}

// closingRate is the mean per-lap gap change over recent history, positive
// when the gap is shrinking.
func closingRate(gaps []float64) float64 {
	if len(gaps) < 2 {
		return 0
	}
	if len(gaps) > 5 {
		gaps = gaps[len(gaps)-5:]
	}
	deltas := make([]float64, 0, len(gaps)-1)
	for i := 1; i < len(gaps); i++ {
		deltas = append(deltas, gaps[i-1]-gaps[i])
	}
	return stat.Mean(deltas, nil)
}

// rivalConsistency maps the rival's lap time spread to [0, 1]: tight laps
// mean a driver who can sustain pressure.
func rivalConsistency(recent []*features.LapFeatures) float64 {
	clean := cleanLaps(recent)
	if len(clean) < 2 {
		return 0.5
	}
	times := make([]float64, len(clean))
	for i, lf := range clean {
		times[i] = lf.LapTime
	}
	sd := stat.StdDev(times, nil)
	return clamp01(1 - sd)
}
