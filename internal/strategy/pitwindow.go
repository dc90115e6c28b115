package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/racecraft/internal/monitoring"
)

// PitConfig tunes the pit window optimizer.
type PitConfig struct {
	// PitLossS is total time lost to a stop (lane transit plus service).
	PitLossS float64
	// FreshTireGainS is the immediate per-lap advantage of new tires.
	FreshTireGainS float64
	// WindowBandS widens the recommendation to all laps within this much
	// of the best projected total.
	WindowBandS float64
	// TrafficMarginS is the rejoin gap below which a rival makes traffic.
	TrafficMarginS float64
}

// DefaultPitConfig returns the production pit model.
func DefaultPitConfig() PitConfig {
	return PitConfig{
		PitLossS:       25.0,
		FreshTireGainS: 1.5,
		WindowBandS:    1.0,
		TrafficMarginS: 5.0,
	}
}

// RivalGap is a rival's current gap: positive means the rival is behind.
type RivalGap struct {
	Vehicle int     `json:"vehicle"`
	GapS    float64 `json:"gap_s"`
}

// PitInputs collects everything the optimizer projects from.
type PitInputs struct {
	Vehicle    int
	CurrentLap int
	TotalLaps  int
	// CurrentPaceS is the present lap time and DegradationRateS how much
	// each further lap on worn tires adds to it.
	CurrentPaceS     float64
	DegradationRateS float64
	Rivals           []RivalGap
	// CurrentPos and ProjectedPos come from the field projection; zero
	// means no field context is available.
	CurrentPos   int
	ProjectedPos int
}

// PitScenario is one candidate stop lap with its projected race time.
type PitScenario struct {
	PitLap         int     `json:"pit_lap"`
	ProjectedS     float64 `json:"projected_s"`
	DeltaToBestS   float64 `json:"delta_to_best_s"`
	TrafficVehicle int     `json:"traffic_vehicle,omitempty"`
}

// PitRecommendation is the optimizer output.
type PitRecommendation struct {
	Result
	Vehicle     int           `json:"vehicle"`
	WindowStart int           `json:"window_start"`
	WindowEnd   int           `json:"window_end"`
	BestLap     int           `json:"best_lap"`
	TrafficRisk string        `json:"traffic_risk"`
	CurrentPos  int           `json:"current_pos,omitempty"`
	// ExpectedPosChange is projected position movement over the stop
	// horizon: positive means places gained.
	ExpectedPosChange int           `json:"expected_pos_change"`
	Scenarios         []PitScenario `json:"scenarios"`
	Reasoning         []string      `json:"reasoning"`
}

// minPitScenarios is the least candidate laps worth modelling.
const minPitScenarios = 3

// PitOptimizer projects total race time across candidate stop laps.
type PitOptimizer struct {
	cfg PitConfig
}

// NewPitOptimizer builds the optimizer. Zero config fields take defaults.
func NewPitOptimizer(cfg PitConfig) *PitOptimizer {
	def := DefaultPitConfig()
	if cfg.PitLossS <= 0 {
		cfg.PitLossS = def.PitLossS
	}
	if cfg.FreshTireGainS <= 0 {
		cfg.FreshTireGainS = def.FreshTireGainS
	}
	if cfg.WindowBandS <= 0 {
		cfg.WindowBandS = def.WindowBandS
	}
	if cfg.TrafficMarginS <= 0 {
		cfg.TrafficMarginS = def.TrafficMarginS
	}
	return &PitOptimizer{cfg: cfg}
}

// Recommend projects total remaining race time for each viable stop lap and
// returns the window of near-optimal choices.
func (o *PitOptimizer) Recommend(in PitInputs) (*PitRecommendation, error) {
	remaining := in.TotalLaps - in.CurrentLap
	if remaining < minPitScenarios+1 {
		return nil, fmt.Errorf("strategy: %d laps remain, too few to model a stop", remaining)
	}
	if in.CurrentPaceS <= 0 {
		return nil, fmt.Errorf("strategy: non-positive current pace %.3f", in.CurrentPaceS)
	}
	deg := in.DegradationRateS
	if deg < 0 {
		deg = 0
	}

	var scenarios []PitScenario
	for pit := in.CurrentLap + 1; pit < in.TotalLaps; pit++ {
		total := o.projectTotal(in.CurrentPaceS, deg, in.CurrentLap, pit, in.TotalLaps)
		scenarios = append(scenarios, PitScenario{PitLap: pit, ProjectedS: total})
	}

	best := scenarios[0]
	second := math.Inf(1)
	for _, s := range scenarios {
		if s.ProjectedS < best.ProjectedS {
			best = s
		}
	}
	for i := range scenarios {
		scenarios[i].DeltaToBestS = scenarios[i].ProjectedS - best.ProjectedS
		if scenarios[i].PitLap != best.PitLap && scenarios[i].ProjectedS < second {
			second = scenarios[i].ProjectedS
		}
	}

	rec := &PitRecommendation{
		Vehicle:     in.Vehicle,
		BestLap:     best.PitLap,
		WindowStart: best.PitLap,
		WindowEnd:   best.PitLap,
		TrafficRisk: "low",
		Scenarios:   scenarios,
	}
	for _, s := range scenarios {
		if s.DeltaToBestS <= o.cfg.WindowBandS {
			if s.PitLap < rec.WindowStart {
				rec.WindowStart = s.PitLap
			}
			if s.PitLap > rec.WindowEnd {
				rec.WindowEnd = s.PitLap
			}
		}
	}

	// Confidence from how sharply the optimum beats the alternatives.
	margin := second - best.ProjectedS
	rec.Result = newResult("pit_window", 0.5+margin/(2*o.cfg.WindowBandS)*0.4)

	if in.CurrentPos > 0 && in.ProjectedPos > 0 {
		rec.CurrentPos = in.CurrentPos
		rec.ExpectedPosChange = in.CurrentPos - in.ProjectedPos
		if rec.ExpectedPosChange != 0 {
			rec.Reasoning = append(rec.Reasoning,
				fmt.Sprintf("field projection moves P%d to P%d over the stop horizon",
					in.CurrentPos, in.ProjectedPos))
		}
	}

	o.assessTraffic(rec, in)
	rec.Reasoning = append(rec.Reasoning,
		fmt.Sprintf("pit loss %.0fs against %.1fs/lap fresh tire gain", o.cfg.PitLossS, o.cfg.FreshTireGainS),
		fmt.Sprintf("pace drifting %+.2fs/lap on current tires", deg),
		fmt.Sprintf("lap %d minimizes projected remaining time", best.PitLap))

	sort.Slice(rec.Scenarios, func(i, j int) bool {
		return rec.Scenarios[i].PitLap < rec.Scenarios[j].PitLap
	})
	monitoring.Diagf("strategy: vehicle %d pit window laps %d-%d (best %d, traffic %s)",
		in.Vehicle, rec.WindowStart, rec.WindowEnd, rec.BestLap, rec.TrafficRisk)
	return rec, nil
}

// projectTotal sums remaining lap times: worn pace degrading until the stop,
// the stop itself, then fresh pace degrading again to the flag.
func (o *PitOptimizer) projectTotal(pace, deg float64, currentLap, pitLap, totalLaps int) float64 {
	total := 0.0
	age := 0
	for lap := currentLap + 1; lap <= totalLaps; lap++ {
		if lap == pitLap {
			total += o.cfg.PitLossS
			age = 0
		}
		var lapTime float64
		if lap < pitLap {
			lapTime = pace + deg*float64(lap-currentLap)
		} else {
			lapTime = pace - o.cfg.FreshTireGainS + deg*float64(age)
			age++
		}
		total += lapTime
	}
	return total
}

// assessTraffic checks the rejoin gap against rivals running behind.
func (o *PitOptimizer) assessTraffic(rec *PitRecommendation, in PitInputs) {
	for _, r := range in.Rivals {
		// A rival within pit loss behind will be ahead after the stop; a
		// rival inside the traffic margin of the rejoin point is traffic.
		rejoinDelta := r.GapS - o.cfg.PitLossS
		if rejoinDelta > -o.cfg.TrafficMarginS && rejoinDelta < o.cfg.TrafficMarginS {
			rec.TrafficRisk = "high"
			for i := range rec.Scenarios {
				rec.Scenarios[i].TrafficVehicle = r.Vehicle
			}
			rec.Reasoning = append(rec.Reasoning,
				fmt.Sprintf("vehicle %d rejoins within %.0fs of the stop", r.Vehicle, o.cfg.TrafficMarginS))
			rec.Confidence = clamp01(rec.Confidence * 0.8)
		}
	}
}
