package race

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/racecraft/internal/align"
	"github.com/banshee-data/racecraft/internal/config"
	"github.com/banshee-data/racecraft/internal/features"
	"github.com/banshee-data/racecraft/internal/laps"
	"github.com/banshee-data/racecraft/internal/monitoring"
	"github.com/banshee-data/racecraft/internal/strategy"
	"github.com/banshee-data/racecraft/internal/telemetry"
	"github.com/banshee-data/racecraft/internal/timeutil"
	"github.com/banshee-data/racecraft/internal/track"
)

// SessionConfig describes one race session.
type SessionConfig struct {
	// TrackID selects the circuit profile; unknown ids fail construction.
	TrackID string
	// VehicleIDs is the roster of raw vehicle identifiers.
	VehicleIDs []string
	// TotalLaps is the scheduled race distance, used by pit planning.
	TotalLaps int
	// Tuning may be nil for all defaults.
	Tuning *config.TuningConfig
	// Store may be nil to run without persistence.
	Store *Store
	// Clock defaults to the wall clock; tests pin it.
	Clock timeutil.Clock
	// OnLap, when set, is called after each lap is finalized. Called from
	// the vehicle's worker goroutine; must not block on session queries.
	OnLap func(vehicle int, lf *features.LapFeatures)
}

type vehicleState struct {
	segmenter *laps.Segmenter
	history   []*features.LapFeatures
	grids     []*features.GridLap
	// lapEnds[i] is the event time lap i finished, for cross-car gaps.
	lapEnds []float64
	// stintStart indexes the first lap of the current stint in history.
	stintStart int
}

// Session owns the full pipeline for one race: a shared normalizer feeding
// per-vehicle workers, with engine queries served from finalized lap
// snapshots. All state is per-session; two sessions never share anything.
type Session struct {
	ID      string
	Profile *track.Profile

	tuning    *config.TuningConfig
	roster    *telemetry.Roster
	store     *Store
	clock     timeutil.Clock
	totalLaps int
	startedAt time.Time
	onLap     func(vehicle int, lf *features.LapFeatures)

	forecaster  *strategy.Forecaster
	degradation *strategy.DegradationEngine
	pit         *strategy.PitOptimizer
	threat      *strategy.ThreatDetector

	mu        sync.RWMutex
	vehicles  map[int]*vehicleState
	corners   []track.Corner
	extractor *features.Extractor

	normMu sync.Mutex
	norm   *telemetry.Normalizer

	workers map[int]chan telemetry.Frame
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// NewSession builds a session. An unknown track is fatal here, before any
// telemetry flows.
func NewSession(cfg SessionConfig) (*Session, error) {
	profile, err := track.Lookup(cfg.TrackID)
	if err != nil {
		return nil, err
	}
	if len(cfg.VehicleIDs) == 0 {
		return nil, fmt.Errorf("race: session needs at least one vehicle")
	}
	tuning := cfg.Tuning
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	if err := tuning.Validate(); err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	roster := telemetry.NewRoster(cfg.VehicleIDs)
	s := &Session{
		ID:          uuid.NewString(),
		Profile:     profile,
		tuning:      tuning,
		roster:      roster,
		store:       cfg.Store,
		clock:       clock,
		onLap:       cfg.OnLap,
		startedAt:   clock.Now(),
		totalLaps:   cfg.TotalLaps,
		forecaster:  strategy.NewForecaster(tuning.Forecaster()),
		degradation: strategy.NewDegradationEngine(tuning.Degradation()),
		pit:         strategy.NewPitOptimizer(tuning.Pit()),
		threat:      strategy.NewThreatDetector(tuning.Threat()),
		vehicles:    make(map[int]*vehicleState),
		norm:        telemetry.NewNormalizer(tuning.Normalizer(), roster),
		workers:     make(map[int]chan telemetry.Frame),
	}
	// Extractor starts without corners; the first complete lap bootstraps
	// the corner set.
	s.extractor = features.NewExtractor(tuning.Features(), profile, nil)
	for ix := 0; ix < roster.Size(); ix++ {
		s.vehicles[ix] = &vehicleState{
			segmenter: laps.NewSegmenter(tuning.Segmenter(), profile, ix),
		}
	}

	if s.store != nil {
		if err := s.store.SaveSession(s.ID, profile.ID, s.startedAt, telemetry.SchemaVersion); err != nil {
			return nil, err
		}
	}
	monitoring.Logf("race: session %s on %s with %d vehicles", s.ID, profile.ID, roster.Size())
	return s, nil
}

// Roster returns the session roster.
func (s *Session) Roster() *telemetry.Roster { return s.roster }

// StartedAt returns the wall-clock time the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Start launches one worker per vehicle. Workers exit when ctx is cancelled
// or Close drains them.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for ix := range s.vehicles {
		ch := make(chan telemetry.Frame, 256)
		s.workers[ix] = ch
		s.wg.Add(1)
		go s.runVehicle(ctx, ix, ch)
	}
}

func (s *Session) runVehicle(ctx context.Context, vehicle int, ch <-chan telemetry.Frame) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-ch:
			if !ok {
				s.flushVehicle(vehicle)
				return
			}
			s.pushFrame(vehicle, f)
		}
	}
}

func (s *Session) pushFrame(vehicle int, f telemetry.Frame) {
	s.mu.RLock()
	seg := s.vehicles[vehicle].segmenter
	s.mu.RUnlock()
	if done := seg.Push(f); done != nil {
		s.handleSegment(done)
	}
}

func (s *Session) flushVehicle(vehicle int) {
	s.mu.RLock()
	seg := s.vehicles[vehicle].segmenter
	s.mu.RUnlock()
	if tail := seg.Flush(); tail != nil {
		s.handleSegment(tail)
	}
}

// Ingest offers one raw sample and dispatches any frames the watermark
// releases. Typed errors (unknown vehicle, late sample) are returned for the
// caller to count; they never stop the stream.
func (s *Session) Ingest(sample telemetry.RawSample) error {
	s.normMu.Lock()
	err := s.norm.Offer(sample)
	frames := s.norm.Drain()
	s.normMu.Unlock()
	s.dispatch(frames)
	return err
}

// Close flushes the normalizer and all in-progress laps, waits for workers,
// and leaves the session queryable.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	s.normMu.Lock()
	frames := s.norm.Close()
	s.normMu.Unlock()
	s.dispatch(frames)

	if !started {
		// Inline mode: no workers, but the open laps still need flushing.
		s.mu.RLock()
		ixs := make([]int, 0, len(s.vehicles))
		for ix := range s.vehicles {
			ixs = append(ixs, ix)
		}
		s.mu.RUnlock()
		for _, ix := range ixs {
			s.flushVehicle(ix)
		}
		return
	}

	s.mu.Lock()
	for _, ch := range s.workers {
		close(ch)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Session) dispatch(frames []telemetry.Frame) {
	for _, f := range frames {
		s.mu.RLock()
		ch := s.workers[f.Vehicle]
		s.mu.RUnlock()
		if ch == nil {
			// Not started: process inline. Replay tooling uses this mode.
			s.pushFrame(f.Vehicle, f)
			continue
		}
		ch <- f
	}
}

// handleSegment featurizes a finalized lap and folds it into session state.
func (s *Session) handleSegment(seg *laps.Segment) {
	s.maybeBootstrapCorners(seg)

	s.mu.RLock()
	ex := s.extractor
	s.mu.RUnlock()
	lf, gl, err := ex.Extract(seg)
	if err != nil {
		monitoring.Logf("race: dropping lap %d for vehicle %d: %v", seg.Index, seg.Vehicle, err)
		return
	}

	s.mu.Lock()
	vs := s.vehicles[seg.Vehicle]
	vs.history = append(vs.history, lf)
	vs.grids = append(vs.grids, gl)
	if !seg.Incomplete {
		// Gap arithmetic compares completed-lap timestamps; a flushed tail
		// would pin every car to the same stream-end time.
		vs.lapEnds = append(vs.lapEnds, seg.EndTime)
	}
	s.updateStint(seg.Vehicle, vs, lf)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveLap(s.ID, seg, lf); err != nil {
			monitoring.Logf("race: %v", err)
		}
	}
	if s.onLap != nil {
		s.onLap(seg.Vehicle, lf)
	}
}

// maybeBootstrapCorners derives the corner set from the first complete,
// healthy lap seen in the session.
func (s *Session) maybeBootstrapCorners(seg *laps.Segment) {
	if seg.Incomplete || seg.Stalled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.corners != nil {
		return
	}
	corners := track.DetectCorners(s.tuning.Corners(),
		seg.Dist, seg.Channels[telemetry.ChanAccY], seg.Channels[telemetry.ChanSpeed])
	if len(corners) == 0 {
		return
	}
	s.corners = corners
	s.extractor = features.NewExtractor(s.tuning.Features(), s.Profile, corners)
	monitoring.Logf("race: session %s corner set bootstrapped from vehicle %d lap %d (%d corners)",
		s.ID, seg.Vehicle, seg.Index, len(corners))
}

// updateStint resets the stint after a pit-length lap or when the heuristic
// stint cap passes without any pit signal. Callers hold mu.
func (s *Session) updateStint(vehicle int, vs *vehicleState, lf *features.LapFeatures) {
	pitThreshold := s.Profile.ExpectedLapSeconds + 0.8*s.tuning.Pit().PitLossS
	if !lf.Incomplete && lf.LapTime > pitThreshold {
		vs.stintStart = len(vs.history)
		monitoring.Diagf("race: vehicle %d lap %d looks like an in-lap (%.1fs), stint reset",
			vehicle, lf.LapIndex, lf.LapTime)
		return
	}
	if len(vs.history)-vs.stintStart >= s.tuning.GetHeuristicStintLaps() {
		vs.stintStart = len(vs.history) - 1
		monitoring.Diagf("race: vehicle %d stint cap reached, baseline reset at lap %d",
			vehicle, lf.LapIndex)
	}
}

// PitSignal marks an explicit pit stop for a vehicle, resetting its stint
// baseline from the next lap on.
func (s *Session) PitSignal(vehicleID string) error {
	ix, err := s.roster.Resolve(vehicleID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	vs := s.vehicles[ix]
	vs.stintStart = len(vs.history)
	monitoring.Logf("race: pit signal for vehicle %s at lap %d", vehicleID, len(vs.history))
	return nil
}

// History returns a copy of a vehicle's lap feature history.
func (s *Session) History(vehicle int) []*features.LapFeatures {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs, ok := s.vehicles[vehicle]
	if !ok {
		return nil
	}
	out := make([]*features.LapFeatures, len(vs.history))
	copy(out, vs.history)
	return out
}

// Corners returns the bootstrapped corner set, nil before the first
// complete lap.
func (s *Session) Corners() []track.Corner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]track.Corner, len(s.corners))
	copy(out, s.corners)
	return out
}

// PaceForecast runs the forecaster on a vehicle's history.
func (s *Session) PaceForecast(vehicle, horizon int) (*strategy.Forecast, error) {
	return s.forecaster.Forecast(s.History(vehicle), horizon)
}

// Degradation analyzes the vehicle's current stint.
func (s *Session) Degradation(vehicle int) (*strategy.DegradationReport, error) {
	s.mu.RLock()
	vs, ok := s.vehicles[vehicle]
	var stint []*features.LapFeatures
	if ok {
		stint = append(stint, vs.history[vs.stintStart:]...)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("race: unknown vehicle index %d", vehicle)
	}
	return s.degradation.Analyze(stint)
}

// PitWindow recommends a stop for the vehicle, using its forecast trend as
// the degradation rate, live gaps for traffic and the field projection for
// the expected position change.
func (s *Session) PitWindow(vehicle int) (*strategy.PitRecommendation, error) {
	history := s.History(vehicle)
	fc, err := s.forecaster.Forecast(history, 1)
	if err != nil {
		return nil, err
	}
	if s.totalLaps <= 0 {
		return nil, fmt.Errorf("race: session has no scheduled lap count, cannot plan a stop")
	}

	var rivals []strategy.RivalGap
	for ix := range s.vehicles {
		if ix == vehicle {
			continue
		}
		if gap, ok := s.currentGap(vehicle, ix); ok {
			rivals = append(rivals, strategy.RivalGap{Vehicle: ix, GapS: gap})
		}
	}

	in := strategy.PitInputs{
		Vehicle:          vehicle,
		CurrentLap:       len(history),
		TotalLaps:        s.totalLaps,
		CurrentPaceS:     fc.LatestLapS,
		DegradationRateS: fc.TrendSPerLap,
		Rivals:           rivals,
	}
	horizon := s.totalLaps - len(history)
	if horizon > 0 {
		for _, pf := range s.ProjectPositions(horizon) {
			if pf.Vehicle == vehicle {
				in.CurrentPos = pf.CurrentPos
				in.ProjectedPos = pf.ProjectedPos
				break
			}
		}
	}
	return s.pit.Recommend(in)
}

// Threat assesses one chasing rival.
func (s *Session) Threat(vehicle, rival int) (*strategy.ThreatAssessment, error) {
	gaps := s.gapHistory(vehicle, rival)
	if len(gaps) == 0 {
		return nil, fmt.Errorf("race: no common laps between vehicles %d and %d yet", vehicle, rival)
	}

	in := strategy.ThreatInputs{
		Vehicle:     vehicle,
		Rival:       rival,
		GapS:        gaps[len(gaps)-1],
		GapHistoryS: gaps,
		RivalRecent: s.History(rival),
	}
	in.SectorDeltaS = s.latestSectorDelta(vehicle, rival)
	return s.threat.Assess(in)
}

// Leaderboard computes live standings from all vehicles' histories.
func (s *Session) Leaderboard() []strategy.Standing {
	s.mu.RLock()
	byVehicle := make(map[int][]*features.LapFeatures, len(s.vehicles))
	for ix, vs := range s.vehicles {
		h := make([]*features.LapFeatures, len(vs.history))
		copy(h, vs.history)
		byVehicle[ix] = h
	}
	s.mu.RUnlock()
	return strategy.Leaderboard(byVehicle)
}

// BattleGroups chains close-running cars from the live standings.
func (s *Session) BattleGroups() []strategy.BattleGroup {
	return strategy.BattleGroups(s.Leaderboard())
}

// ProjectPositions extrapolates the standings horizonLaps ahead.
func (s *Session) ProjectPositions(horizonLaps int) []strategy.PositionForecast {
	return strategy.ProjectPositions(s.Leaderboard(), horizonLaps)
}

// CompareLaps aligns an opponent's lap against a reference lap on the
// shared distance grid.
func (s *Session) CompareLaps(refVehicle, refLap, oppVehicle, oppLap int) (*align.Delta, error) {
	s.mu.RLock()
	refG, refF, err1 := s.lapAt(refVehicle, refLap)
	oppG, oppF, err2 := s.lapAt(oppVehicle, oppLap)
	s.mu.RUnlock()
	if err1 != nil {
		return nil, err1
	}
	if err2 != nil {
		return nil, err2
	}
	return align.Laps(refG, oppG, refF, oppF)
}

// lapAt finds a lap by index. Callers hold mu.
func (s *Session) lapAt(vehicle, lap int) (*features.GridLap, *features.LapFeatures, error) {
	vs, ok := s.vehicles[vehicle]
	if !ok {
		return nil, nil, fmt.Errorf("race: unknown vehicle index %d", vehicle)
	}
	for i, lf := range vs.history {
		if lf.LapIndex == lap {
			return vs.grids[i], lf, nil
		}
	}
	return nil, nil, fmt.Errorf("race: vehicle %d has no lap %d", vehicle, lap)
}

// currentGap is the gap to a rival at the latest common completed lap,
// positive when the rival is behind.
func (s *Session) currentGap(vehicle, rival int) (float64, bool) {
	gaps := s.gapHistory(vehicle, rival)
	if len(gaps) == 0 {
		return 0, false
	}
	return gaps[len(gaps)-1], true
}

// gapHistory returns the gap to the rival at each common completed lap,
// positive when the rival is behind, oldest first.
func (s *Session) gapHistory(vehicle, rival int) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, okA := s.vehicles[vehicle]
	b, okB := s.vehicles[rival]
	if !okA || !okB {
		return nil
	}
	n := len(a.lapEnds)
	if len(b.lapEnds) < n {
		n = len(b.lapEnds)
	}
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, b.lapEnds[i]-a.lapEnds[i])
	}
	return out
}

// latestSectorDelta is own minus rival sector times on their latest
// complete laps: positive where the rival is faster.
func (s *Session) latestSectorDelta(vehicle, rival int) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	own := latestComplete(s.vehicles[vehicle])
	riv := latestComplete(s.vehicles[rival])
	if own == nil || riv == nil || len(own.SectorTimes) != len(riv.SectorTimes) {
		return nil
	}
	out := make([]float64, len(own.SectorTimes))
	for i := range out {
		d := own.SectorTimes[i] - riv.SectorTimes[i]
		if math.IsNaN(d) {
			d = 0
		}
		out[i] = d
	}
	return out
}

func latestComplete(vs *vehicleState) *features.LapFeatures {
	if vs == nil {
		return nil
	}
	for i := len(vs.history) - 1; i >= 0; i-- {
		if !vs.history[i].Incomplete && !vs.history[i].Stalled {
			return vs.history[i]
		}
	}
	return nil
}
