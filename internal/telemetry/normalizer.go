package telemetry

import (
	"math"
	"sort"

	"github.com/banshee-data/racecraft/internal/monitoring"
)

// NormalizerConfig tunes the long-to-wide normalization stage.
type NormalizerConfig struct {
	// LatenessSeconds bounds out-of-order arrival. The watermark trails the
	// newest event time by this much; samples behind it are rejected.
	LatenessSeconds float64
	// StalenessSeconds bounds forward-fill. A channel not observed within
	// this horizon reads as unknown rather than carrying a stale value.
	StalenessSeconds float64
}

// DefaultNormalizerConfig returns the production defaults.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		LatenessSeconds:  3.0,
		StalenessSeconds: 5.0,
	}
}

type pendingFrame struct {
	obs     map[Channel]float64
	clamped int
}

type vehicleState struct {
	pending  map[float64]*pendingFrame
	last     map[Channel]float64
	lastSeen map[Channel]float64
	// emitted is the newest event time already drained for this vehicle.
	// An emitted frame is final: a sample at or before it must not open a
	// second frame at an already-emitted time.
	emitted float64
}

// Normalizer merges the long-format sample stream into wide frames, one per
// (event time, vehicle), in strictly increasing event-time order per vehicle.
// Samples may arrive out of order within the lateness window; anything behind
// the watermark is rejected with a LateSampleError so the caller can account
// for it.
type Normalizer struct {
	cfg    NormalizerConfig
	roster *Roster

	watermark float64
	vehicles  map[int]*vehicleState
	dropped   int
}

// NewNormalizer builds a normalizer for the given roster. Zero config fields
// take default values.
func NewNormalizer(cfg NormalizerConfig, roster *Roster) *Normalizer {
	def := DefaultNormalizerConfig()
	if cfg.LatenessSeconds <= 0 {
		cfg.LatenessSeconds = def.LatenessSeconds
	}
	if cfg.StalenessSeconds <= 0 {
		cfg.StalenessSeconds = def.StalenessSeconds
	}
	return &Normalizer{
		cfg:       cfg,
		roster:    roster,
		watermark: math.Inf(-1),
		vehicles:  make(map[int]*vehicleState),
	}
}

// Watermark returns the current emission bound: frames at or below it are
// final and eligible for Drain.
func (n *Normalizer) Watermark() float64 { return n.watermark }

// Dropped returns the count of samples discarded for carrying a channel name
// outside the schema.
func (n *Normalizer) Dropped() int { return n.dropped }

// Offer buffers a raw sample. It returns a VehicleResolutionError for an
// unknown vehicle, a LateSampleError for a sample behind the watermark, and
// nil otherwise. Samples for channels outside the schema are counted and
// dropped without error.
func (n *Normalizer) Offer(s RawSample) error {
	vix, err := n.roster.Resolve(s.VehicleID)
	if err != nil {
		return err
	}
	if _, ok := Schema[s.Channel]; !ok {
		n.dropped++
		monitoring.Tracef("telemetry: dropping off-schema channel %q from %s", s.Channel, s.VehicleID)
		return nil
	}
	if s.EventTime < n.watermark {
		return &LateSampleError{
			VehicleID: s.VehicleID,
			Channel:   s.Channel,
			EventTime: s.EventTime,
			Watermark: n.watermark,
		}
	}

	vs := n.vehicles[vix]
	if vs == nil {
		vs = &vehicleState{
			pending:  make(map[float64]*pendingFrame),
			last:     make(map[Channel]float64),
			lastSeen: make(map[Channel]float64),
			emitted:  math.Inf(-1),
		}
		n.vehicles[vix] = vs
	}
	if s.EventTime <= vs.emitted {
		// A frame at this time was already drained; accepting the sample
		// would emit a duplicate event time out of order.
		return &LateSampleError{
			VehicleID: s.VehicleID,
			Channel:   s.Channel,
			EventTime: s.EventTime,
			Watermark: vs.emitted,
		}
	}
	pf := vs.pending[s.EventTime]
	if pf == nil {
		pf = &pendingFrame{obs: make(map[Channel]float64)}
		vs.pending[s.EventTime] = pf
	}
	v, clamped := Clamp(s.Channel, s.Value)
	if clamped {
		pf.clamped++
		monitoring.Diagf("telemetry: clamped %s/%s %.3f at t=%.3f", s.VehicleID, s.Channel, s.Value, s.EventTime)
	}
	pf.obs[s.Channel] = v

	if wm := s.EventTime - n.cfg.LatenessSeconds; wm > n.watermark {
		n.watermark = wm
	}
	return nil
}

// Drain emits every buffered frame at or below the watermark, forward-filled
// and ordered by (event time, vehicle). Emitted frames are final: later
// samples for those times are rejected as late.
func (n *Normalizer) Drain() []Frame {
	return n.emitThrough(n.watermark)
}

// Close flushes all remaining buffered frames regardless of the watermark.
// The normalizer must not be offered further samples afterwards.
func (n *Normalizer) Close() []Frame {
	n.watermark = math.Inf(1)
	return n.emitThrough(n.watermark)
}

func (n *Normalizer) emitThrough(bound float64) []Frame {
	var out []Frame
	for vix, vs := range n.vehicles {
		times := make([]float64, 0, len(vs.pending))
		for t := range vs.pending {
			if t <= bound {
				times = append(times, t)
			}
		}
		sort.Float64s(times)
		for _, t := range times {
			out = append(out, n.buildFrame(vix, t, vs))
			delete(vs.pending, t)
		}
		if len(times) > 0 && times[len(times)-1] > vs.emitted {
			vs.emitted = times[len(times)-1]
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventTime != out[j].EventTime {
			return out[i].EventTime < out[j].EventTime
		}
		return out[i].Vehicle < out[j].Vehicle
	})
	return out
}

func (n *Normalizer) buildFrame(vix int, t float64, vs *vehicleState) Frame {
	pf := vs.pending[t]
	f := Frame{
		Vehicle:   vix,
		EventTime: t,
		Values:    make(map[Channel]float64, len(Schema)),
		LastSeen:  make(map[Channel]float64, len(Schema)),
		Clamped:   pf.clamped,
	}
	for ch := range Schema {
		if v, ok := pf.obs[ch]; ok {
			vs.last[ch] = v
			vs.lastSeen[ch] = t
			f.Values[ch] = v
			f.LastSeen[ch] = t
			continue
		}
		seen, ok := vs.lastSeen[ch]
		if ok && t-seen <= n.cfg.StalenessSeconds {
			f.Values[ch] = vs.last[ch]
			f.LastSeen[ch] = seen
			continue
		}
		f.Values[ch] = math.NaN()
	}
	return f
}
