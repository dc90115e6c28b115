package laps

import (
	"math"
	"testing"

	"github.com/banshee-data/racecraft/internal/telemetry"
	"github.com/banshee-data/racecraft/internal/track"
)

func testProfile() *track.Profile {
	return &track.Profile{
		ID:                 "test",
		LengthM:            3000,
		ExpectedLapSeconds: 60,
		SectorsM:           []float64{1000, 2000},
	}
}

func frameAt(t, dist float64, extra map[telemetry.Channel]float64) telemetry.Frame {
	f := telemetry.Frame{
		EventTime: t,
		Values:    map[telemetry.Channel]float64{telemetry.ChanLapDist: dist},
	}
	for ch, v := range extra {
		f.Values[ch] = v
	}
	return f
}

// driveLaps simulates nLaps at constant speed with 0.5 s sampling and feeds
// them through the segmenter, returning all finalized segments.
func driveLaps(s *Segmenter, profile *track.Profile, nLaps int, rawLap func(lap int) float64) []*Segment {
	const dt = 0.5
	speed := profile.LengthM / profile.ExpectedLapSeconds // m/s
	var segs []*Segment
	total := float64(nLaps) * profile.LengthM
	for pos, t := 0.0, 0.0; pos < total; pos, t = pos+speed*dt, t+dt {
		lap := int(pos / profile.LengthM)
		extra := map[telemetry.Channel]float64{}
		if rawLap != nil {
			extra[telemetry.ChanLapRaw] = rawLap(lap)
		}
		if seg := s.Push(frameAt(t, math.Mod(pos, profile.LengthM), extra)); seg != nil {
			segs = append(segs, seg)
		}
	}
	return segs
}

func TestSegmenterLapBoundaries(t *testing.T) {
	p := testProfile()
	s := NewSegmenter(Config{}, p, 0)
	segs := driveLaps(s, p, 5, nil)
	if tail := s.Flush(); tail != nil {
		segs = append(segs, tail)
	}

	if len(segs) != 5 {
		t.Fatalf("got %d segments, want 5", len(segs))
	}
	for i, seg := range segs {
		if seg.Index != i {
			t.Errorf("segment %d has index %d, want gapless from 0", i, seg.Index)
		}
	}
	// Full laps 1..3 should time out near the expected 60 s.
	for _, seg := range segs[1:4] {
		if math.Abs(seg.LapTime()-60) > 1.5 {
			t.Errorf("lap %d time %.2fs, want ~60s", seg.Index, seg.LapTime())
		}
		if seg.Incomplete {
			t.Errorf("lap %d flagged incomplete", seg.Index)
		}
	}
	if !segs[4].Incomplete {
		t.Error("flushed tail lap should be incomplete")
	}
}

// A corrupted logger lap counter must be logged but never move a boundary.
func TestSegmenterIgnoresCorruptRawLapCounter(t *testing.T) {
	p := testProfile()
	s := NewSegmenter(Config{}, p, 0)
	// Counter frozen at 1 then jumping to 7: nonsense either way.
	corrupt := func(lap int) float64 {
		if lap < 3 {
			return 1
		}
		return 7
	}
	segs := driveLaps(s, p, 5, corrupt)

	if len(segs) != 4 {
		t.Fatalf("got %d finalized segments, want 4", len(segs))
	}
	for i, seg := range segs {
		if seg.Index != i {
			t.Errorf("segment %d index %d: raw counter leaked into indices", i, seg.Index)
		}
	}
	warned := false
	for _, seg := range segs {
		if len(seg.Warnings) > 0 {
			warned = true
		}
	}
	if !warned {
		t.Error("corrupt raw lap counter produced no cross-check warning")
	}
}

// The boundary tolerance comes from the circuit profile, so the same drop
// commits or not depending on the track's calibration.
func TestSegmenterHonorsProfileTolerance(t *testing.T) {
	// 25 m sample spacing: the last sample before the boundary sits at
	// 2975 m, 25 m short of the line.
	tight := testProfile()
	tight.WraparoundToleranceM = 10
	s := NewSegmenter(Config{}, tight, 0)
	if segs := driveLaps(s, tight, 3, nil); len(segs) != 0 {
		t.Fatalf("got %d boundaries under a 10 m tolerance, want none", len(segs))
	}

	wide := testProfile()
	wide.WraparoundToleranceM = 30
	s = NewSegmenter(Config{}, wide, 0)
	if segs := driveLaps(s, wide, 3, nil); len(segs) != 2 {
		t.Fatalf("got %d boundaries under a 30 m tolerance, want 2", len(segs))
	}
}

func TestSegmenterRejectsNoiseDrop(t *testing.T) {
	p := testProfile()
	s := NewSegmenter(Config{}, p, 0)

	seed := []telemetry.Frame{
		frameAt(0, 2900, nil),
		frameAt(0.5, 2930, nil),
		frameAt(1.0, 2960, nil),
		// A one-sample glitch to near zero, then back: not a lap boundary.
		frameAt(1.5, 12, nil),
		frameAt(2.0, 2990, nil),
	}
	for _, f := range seed {
		if seg := s.Push(f); seg != nil {
			t.Fatalf("noise drop finalized lap %d", seg.Index)
		}
	}

	// A real wraparound with three rising samples commits.
	var seg *Segment
	for i, d := range []float64{5, 40, 75} {
		seg = s.Push(frameAt(2.5+0.5*float64(i), d, nil))
	}
	if seg == nil {
		t.Fatal("confirmed wraparound did not finalize the lap")
	}
	if seg.Index != 0 || seg.Incomplete {
		t.Errorf("finalized segment = index %d incomplete=%v, want 0,false", seg.Index, seg.Incomplete)
	}
}

func TestSegmenterRequiresConfirmation(t *testing.T) {
	p := testProfile()
	s := NewSegmenter(Config{ConfirmSamples: 3}, p, 0)
	s.Push(frameAt(0, 2980, nil))
	// Drop plus only one rising sample, then distance collapses back: cancel.
	if seg := s.Push(frameAt(0.5, 10, nil)); seg != nil {
		t.Fatal("boundary committed without confirmation")
	}
	if seg := s.Push(frameAt(1.0, 40, nil)); seg != nil {
		t.Fatal("boundary committed with partial confirmation")
	}
	if seg := s.Push(frameAt(1.5, 2995, nil)); seg != nil {
		t.Fatal("cancelled candidate still finalized a lap")
	}
}

func TestSegmenterDropsNonMonotonicDistance(t *testing.T) {
	p := testProfile()
	s := NewSegmenter(Config{}, p, 0)
	s.Push(frameAt(0, 1000, nil))
	s.Push(frameAt(0.5, 1030, nil))
	s.Push(frameAt(1.0, 1010, nil)) // decrease, not a wraparound: dropped
	s.Push(frameAt(1.5, 1060, nil))
	seg := s.Flush()
	if seg == nil {
		t.Fatal("Flush returned nil")
	}
	if seg.Samples() != 3 {
		t.Fatalf("got %d samples, want 3 (noisy sample dropped)", seg.Samples())
	}
	for i := 1; i < len(seg.Dist); i++ {
		if seg.Dist[i] <= seg.Dist[i-1] {
			t.Errorf("distance series not strictly increasing: %v", seg.Dist)
		}
	}
}

func TestSegmenterSectorTimes(t *testing.T) {
	p := testProfile()
	s := NewSegmenter(Config{}, p, 0)
	segs := driveLaps(s, p, 3, nil)
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	full := segs[1]
	if len(full.SectorTimes) != 3 {
		t.Fatalf("got %d sector times, want 3", len(full.SectorTimes))
	}
	var sum float64
	for i, st := range full.SectorTimes {
		if math.IsNaN(st) {
			t.Fatalf("sector %d time is NaN for a complete lap", i)
		}
		// Equal-length sectors at constant speed: ~20 s each.
		if math.Abs(st-20) > 1.5 {
			t.Errorf("sector %d time %.2fs, want ~20s", i, st)
		}
		sum += st
	}
	if math.Abs(sum-full.LapTime()) > 1e-6 {
		t.Errorf("sector times sum %.3f != lap time %.3f", sum, full.LapTime())
	}
}

func TestSegmenterStallWarning(t *testing.T) {
	p := testProfile()
	s := NewSegmenter(Config{StallFactor: 2}, p, 0)
	// Crawl: distance barely advances while time runs past 2x expected.
	for i := 0; i < 300; i++ {
		t0 := float64(i) * 0.5
		s.Push(frameAt(t0, 100+float64(i)*0.2, nil))
	}
	seg := s.Flush()
	if seg == nil {
		t.Fatal("Flush returned nil")
	}
	if !seg.Stalled {
		t.Error("lap open for >2x expected time should be flagged stalled")
	}
}
