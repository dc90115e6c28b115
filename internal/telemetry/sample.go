package telemetry

import (
	"fmt"
	"math"
)

// RawSample is one long-format record from the logger: a single channel value
// for a single vehicle at one event time. EventTime is seconds since session
// start; LoggerTime is the ECU clock and is carried only for diagnostics.
type RawSample struct {
	VehicleID  string
	Channel    Channel
	Value      float64
	EventTime  float64
	LoggerTime float64
}

// VehicleResolutionError reports a sample whose vehicle identifier is not in
// the session roster.
type VehicleResolutionError struct {
	VehicleID string
}

func (e *VehicleResolutionError) Error() string {
	return fmt.Sprintf("telemetry: unknown vehicle identifier %q", e.VehicleID)
}

// LateSampleError reports a sample that arrived behind the watermark and was
// rejected rather than silently reordered.
type LateSampleError struct {
	VehicleID string
	Channel   Channel
	EventTime float64
	Watermark float64
}

func (e *LateSampleError) Error() string {
	return fmt.Sprintf("telemetry: late sample %s/%s at t=%.3f behind watermark %.3f",
		e.VehicleID, e.Channel, e.EventTime, e.Watermark)
}

// Roster maps raw vehicle identifiers (car numbers, transponder strings) to
// dense vehicle indices. The mapping is fixed at session start.
type Roster struct {
	byID    map[string]int
	rawByIX []string
}

// NewRoster builds a roster from the raw identifiers in the given order. The
// dense index of an identifier is its position in ids.
func NewRoster(ids []string) *Roster {
	r := &Roster{byID: make(map[string]int, len(ids))}
	for _, id := range ids {
		if _, dup := r.byID[id]; dup {
			continue
		}
		r.byID[id] = len(r.rawByIX)
		r.rawByIX = append(r.rawByIX, id)
	}
	return r
}

// Resolve returns the dense index for a raw identifier.
func (r *Roster) Resolve(id string) (int, error) {
	ix, ok := r.byID[id]
	if !ok {
		return 0, &VehicleResolutionError{VehicleID: id}
	}
	return ix, nil
}

// RawID returns the raw identifier for a dense index, or "" if out of range.
func (r *Roster) RawID(ix int) string {
	if ix < 0 || ix >= len(r.rawByIX) {
		return ""
	}
	return r.rawByIX[ix]
}

// Size returns the number of vehicles in the roster.
func (r *Roster) Size() int { return len(r.rawByIX) }

// IDs returns the raw identifiers in dense-index order.
func (r *Roster) IDs() []string {
	out := make([]string, len(r.rawByIX))
	copy(out, r.rawByIX)
	return out
}

// Frame is one wide, normalized row for a vehicle: the value of every schema
// channel at EventTime, forward-filled from prior observations. A channel
// with no observation yet, or whose last observation is stale, is NaN and
// reported false by Known.
type Frame struct {
	Vehicle   int
	EventTime float64
	Values    map[Channel]float64
	// LastSeen records the event time each channel was last directly
	// observed, for staleness bookkeeping downstream.
	LastSeen map[Channel]float64
	// Clamped counts channel values bounded to their physical range while
	// building this frame.
	Clamped int
}

// Known reports whether ch carries a usable value in this frame.
func (f *Frame) Known(ch Channel) bool {
	v, ok := f.Values[ch]
	return ok && !math.IsNaN(v)
}

// Value returns the channel value, or NaN when unknown.
func (f *Frame) Value(ch Channel) float64 {
	v, ok := f.Values[ch]
	if !ok {
		return math.NaN()
	}
	return v
}
