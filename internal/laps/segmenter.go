// Package laps segments the normalized frame stream into laps using the
// lap-distance channel. Lap boundaries come from distance wraparound, never
// from the logger's lap counter, which is noisy on some cars.
package laps

import (
	"fmt"
	"math"

	"github.com/banshee-data/racecraft/internal/monitoring"
	"github.com/banshee-data/racecraft/internal/telemetry"
	"github.com/banshee-data/racecraft/internal/track"
)

// Segment is one completed (or flushed-incomplete) lap for a vehicle.
// Times, Dist and each Channels series are parallel, ordered by event time.
type Segment struct {
	Vehicle int
	// Index is the gapless lap counter assigned by the segmenter, starting
	// at 0 for the first partial lap after session start.
	Index     int
	StartTime float64
	EndTime   float64

	Times    []float64
	Dist     []float64
	Channels map[telemetry.Channel][]float64

	// SectorTimes holds per-sector durations; NaN for sectors an incomplete
	// lap never reached.
	SectorTimes []float64

	// RawLap is the logger lap counter at finalization, kept for
	// cross-checking only.
	RawLap float64

	Incomplete bool
	Stalled    bool
	Warnings   []string
}

// LapTime returns the lap duration in seconds.
func (s *Segment) LapTime() float64 { return s.EndTime - s.StartTime }

// Samples returns the number of samples in the segment.
func (s *Segment) Samples() int { return len(s.Times) }

// Config tunes lap boundary detection. The boundary distance tolerance is
// per-circuit and lives on the track profile, not here.
type Config struct {
	// ConfirmSamples is how many strictly increasing post-drop samples are
	// needed before a boundary is committed.
	ConfirmSamples int
	// StallFactor times the profile's expected lap time gives the stall
	// warning threshold.
	StallFactor float64
}

// DefaultConfig returns the production segmentation thresholds.
func DefaultConfig() Config {
	return Config{
		ConfirmSamples: 3,
		StallFactor:    2.0,
	}
}

type pendingSample struct {
	frame telemetry.Frame
	dist  float64
}

// Segmenter accumulates frames for a single vehicle and emits a Segment each
// time a lap boundary is confirmed. One segmenter per vehicle; it is not
// safe for concurrent use.
type Segmenter struct {
	cfg     Config
	profile *track.Profile
	vehicle int

	cur       *Segment
	lastDist  float64
	haveDist  bool
	nextIndex int

	// candidate wraparound awaiting confirmation
	candidate []pendingSample

	lastRawLap    float64
	haveRawLap    bool
	stalledLogged bool
}

// NewSegmenter builds a segmenter for one vehicle on the given circuit.
// Zero config fields take defaults.
func NewSegmenter(cfg Config, profile *track.Profile, vehicle int) *Segmenter {
	def := DefaultConfig()
	if cfg.ConfirmSamples <= 0 {
		cfg.ConfirmSamples = def.ConfirmSamples
	}
	if cfg.StallFactor <= 0 {
		cfg.StallFactor = def.StallFactor
	}
	return &Segmenter{cfg: cfg, profile: profile, vehicle: vehicle}
}

// Push feeds one frame. It returns a finalized Segment when this frame
// confirms a lap boundary, nil otherwise. Frames without a usable lap
// distance are appended to the current lap but never drive boundary logic.
func (s *Segmenter) Push(f telemetry.Frame) *Segment {
	d := f.Value(telemetry.ChanLapDist)
	if math.IsNaN(d) {
		if s.cur != nil {
			s.appendFrame(s.cur, f, math.NaN())
		}
		return nil
	}

	if s.cur == nil {
		s.startLap(f.EventTime)
		s.appendFrame(s.cur, f, d)
		s.lastDist, s.haveDist = d, true
		return nil
	}

	if len(s.candidate) > 0 {
		return s.advanceCandidate(f, d)
	}

	done := s.checkBoundary(f, d)
	if done != nil {
		return done
	}

	if s.haveDist && d < s.lastDist {
		// Non-wraparound decrease inside a lap is sensor noise; the sample
		// is discarded to keep the distance series monotonic.
		monitoring.Diagf("laps: vehicle %d dropping non-monotonic distance %.1f after %.1f at t=%.3f",
			s.vehicle, d, s.lastDist, f.EventTime)
		return nil
	}

	s.appendFrame(s.cur, f, d)
	s.lastDist, s.haveDist = d, true
	s.checkStall(f.EventTime)
	return nil
}

// Flush finalizes and returns the in-progress lap as incomplete, or nil if
// no samples have been seen since the last boundary.
func (s *Segmenter) Flush() *Segment {
	// Unconfirmed boundary samples at stream end belong to a final stub lap;
	// fold them into the current lap's successor only if a lap is open.
	if s.cur == nil {
		return nil
	}
	for _, p := range s.candidate {
		s.appendFrame(s.cur, p.frame, p.dist)
	}
	s.candidate = nil
	seg := s.cur
	s.cur = nil
	if len(seg.Times) == 0 {
		return nil
	}
	seg.EndTime = seg.Times[len(seg.Times)-1]
	seg.Incomplete = true
	s.finalize(seg)
	return seg
}

func (s *Segmenter) startLap(t float64) {
	s.cur = &Segment{
		Vehicle:   s.vehicle,
		Index:     s.nextIndex,
		StartTime: t,
		Channels:  make(map[telemetry.Channel][]float64, len(telemetry.Schema)),
	}
	s.nextIndex++
	s.stalledLoggedReset()
}

func (s *Segmenter) stalledLoggedReset() { s.stalledLogged = false }

func (s *Segmenter) appendFrame(seg *Segment, f telemetry.Frame, d float64) {
	seg.Times = append(seg.Times, f.EventTime)
	seg.Dist = append(seg.Dist, d)
	for ch := range telemetry.Schema {
		seg.Channels[ch] = append(seg.Channels[ch], f.Value(ch))
	}
	if raw := f.Value(telemetry.ChanLapRaw); !math.IsNaN(raw) {
		seg.RawLap = raw
	}
}

// checkBoundary tests whether frame f opens a wraparound candidate.
func (s *Segmenter) checkBoundary(f telemetry.Frame, d float64) *Segment {
	if !s.haveDist {
		return nil
	}
	L := s.profile.LengthM
	tol := s.profile.WraparoundTolerance()
	drop := s.lastDist - d
	if drop > 0.5*L && s.lastDist > L-tol && d < tol {
		s.candidate = append(s.candidate, pendingSample{frame: f, dist: d})
		return s.maybeCommit()
	}
	return nil
}

// advanceCandidate extends or cancels an open wraparound candidate.
func (s *Segmenter) advanceCandidate(f telemetry.Frame, d float64) *Segment {
	if math.IsNaN(d) {
		// Distance dropout during confirmation: hold the candidate open.
		s.candidate = append(s.candidate, pendingSample{frame: f, dist: d})
		return nil
	}
	prev := s.candidate[len(s.candidate)-1].dist
	for i := len(s.candidate) - 2; math.IsNaN(prev) && i >= 0; i-- {
		prev = s.candidate[i].dist
	}
	if d > 0.5*s.profile.LengthM || (!math.IsNaN(prev) && d <= prev) {
		// Distance bounced back or stopped rising: the drop was noise.
		monitoring.Diagf("laps: vehicle %d cancelling boundary candidate at t=%.3f (%d samples)",
			s.vehicle, f.EventTime, len(s.candidate))
		s.candidate = nil
		return nil
	}
	s.candidate = append(s.candidate, pendingSample{frame: f, dist: d})
	return s.maybeCommit()
}

// maybeCommit finalizes the open lap once enough strictly increasing
// post-drop samples back the candidate.
func (s *Segmenter) maybeCommit() *Segment {
	confirmed := 0
	for _, p := range s.candidate {
		if !math.IsNaN(p.dist) {
			confirmed++
		}
	}
	if confirmed < s.cfg.ConfirmSamples {
		return nil
	}

	boundary := s.candidate[0].frame.EventTime
	seg := s.cur
	seg.EndTime = boundary
	s.finalize(seg)

	s.startLap(boundary)
	for _, p := range s.candidate {
		s.appendFrame(s.cur, p.frame, p.dist)
	}
	last := s.candidate[len(s.candidate)-1]
	s.candidate = nil
	if !math.IsNaN(last.dist) {
		s.lastDist, s.haveDist = last.dist, true
	}
	return seg
}

func (s *Segmenter) finalize(seg *Segment) {
	seg.SectorTimes = s.sectorTimes(seg)
	s.crossCheckRawLap(seg)
	monitoring.Diagf("laps: vehicle %d lap %d finalized %.3fs (%d samples, incomplete=%v)",
		seg.Vehicle, seg.Index, seg.LapTime(), seg.Samples(), seg.Incomplete)
}

// sectorTimes interpolates crossing times at the profile's sector marks.
func (s *Segmenter) sectorTimes(seg *Segment) []float64 {
	n := s.profile.SectorCount()
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	prevCross := seg.StartTime
	for i, mark := range s.profile.SectorsM {
		t, ok := crossingTime(seg.Times, seg.Dist, mark)
		if !ok {
			return out
		}
		out[i] = t - prevCross
		prevCross = t
	}
	if seg.Incomplete {
		return out
	}
	out[n-1] = seg.EndTime - prevCross
	return out
}

// crossingTime linearly interpolates the event time at which the distance
// series first reaches mark.
func crossingTime(times, dist []float64, mark float64) (float64, bool) {
	var pt, pd float64
	have := false
	for i := range dist {
		d := dist[i]
		if math.IsNaN(d) {
			continue
		}
		if d >= mark {
			if !have || d == pd {
				return times[i], true
			}
			frac := (mark - pd) / (d - pd)
			return pt + frac*(times[i]-pt), true
		}
		pt, pd, have = times[i], d, true
	}
	return 0, false
}

// crossCheckRawLap compares the logger lap counter across consecutive laps.
// Mismatches are logged and recorded but never change segmentation.
func (s *Segmenter) crossCheckRawLap(seg *Segment) {
	if s.haveRawLap && seg.RawLap != 0 && seg.RawLap != s.lastRawLap+1 {
		w := fmt.Sprintf("logger lap counter %g after %g (expected %g)",
			seg.RawLap, s.lastRawLap, s.lastRawLap+1)
		seg.Warnings = append(seg.Warnings, w)
		monitoring.Logf("laps: vehicle %d lap %d: %s", seg.Vehicle, seg.Index, w)
	}
	if seg.RawLap != 0 {
		s.lastRawLap, s.haveRawLap = seg.RawLap, true
	}
}

func (s *Segmenter) checkStall(now float64) {
	if s.stalledLogged || s.cur == nil {
		return
	}
	limit := s.cfg.StallFactor * s.profile.ExpectedLapSeconds
	if now-s.cur.StartTime > limit {
		s.cur.Stalled = true
		s.stalledLogged = true
		monitoring.Logf("laps: vehicle %d lap %d stalled: open for %.1fs (limit %.1fs)",
			s.vehicle, s.cur.Index, now-s.cur.StartTime, limit)
	}
}
