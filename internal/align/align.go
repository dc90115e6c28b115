// Package align compares two laps on the shared distance grid, producing
// per-marker speed and time deltas plus per-corner braking comparisons.
package align

import (
	"fmt"
	"math"

	"github.com/banshee-data/racecraft/internal/features"
)

// IncompleteLapError reports an alignment attempt against a lap that never
// completed; deltas against it would be meaningless past its last sample.
type IncompleteLapError struct {
	Vehicle  int
	LapIndex int
}

func (e *IncompleteLapError) Error() string {
	return fmt.Sprintf("align: vehicle %d lap %d is incomplete", e.Vehicle, e.LapIndex)
}

// GridMismatchError reports laps resampled with different grids; they come
// from different circuits or sessions and cannot be compared.
type GridMismatchError struct {
	SpacingA, SpacingB float64
	LenA, LenB         int
}

func (e *GridMismatchError) Error() string {
	return fmt.Sprintf("align: grid mismatch (%.1fm/%d vs %.1fm/%d)",
		e.SpacingA, e.LenA, e.SpacingB, e.LenB)
}

// CornerDelta compares braking into one corner.
type CornerDelta struct {
	CornerID int
	// BrakeOnsetDeltaM is opponent onset minus reference onset: positive
	// means the opponent brakes later (deeper) into the corner.
	BrakeOnsetDeltaM float64
	// MinSpeedDeltaKPH is opponent apex speed minus reference apex speed.
	MinSpeedDeltaKPH float64
}

// Delta is a full lap comparison of an opponent against a reference lap.
// Positive time delta means the opponent is behind at that marker.
type Delta struct {
	RefVehicle int
	RefLap     int
	OppVehicle int
	OppLap     int

	Dist []float64
	// SpeedDeltaKPH is opponent speed minus reference speed per marker.
	SpeedDeltaKPH []float64
	// TimeDeltaS is opponent elapsed minus reference elapsed per marker,
	// the classic gap trace.
	TimeDeltaS []float64

	// SectorTimeDeltaS is opponent minus reference per sector.
	SectorTimeDeltaS []float64

	Corners []CornerDelta

	// TotalDeltaS is the full-lap time difference.
	TotalDeltaS float64
}

// Laps aligns an opponent lap against a reference lap. Both must be complete
// and share the grid. ref/opp feature vectors supply sector times and corner
// onsets; grid laps supply the marker series.
func Laps(ref, opp *features.GridLap, refF, oppF *features.LapFeatures) (*Delta, error) {
	if ref.Incomplete {
		return nil, &IncompleteLapError{Vehicle: ref.Vehicle, LapIndex: ref.LapIndex}
	}
	if opp.Incomplete {
		return nil, &IncompleteLapError{Vehicle: opp.Vehicle, LapIndex: opp.LapIndex}
	}
	if ref.SpacingM != opp.SpacingM || len(ref.Dist) != len(opp.Dist) {
		return nil, &GridMismatchError{
			SpacingA: ref.SpacingM, LenA: len(ref.Dist),
			SpacingB: opp.SpacingM, LenB: len(opp.Dist),
		}
	}

	d := &Delta{
		RefVehicle: ref.Vehicle,
		RefLap:     ref.LapIndex,
		OppVehicle: opp.Vehicle,
		OppLap:     opp.LapIndex,
		Dist:       ref.Dist,
	}
	d.SpeedDeltaKPH = sub(opp.SpeedKPH, ref.SpeedKPH)
	d.TimeDeltaS = sub(opp.ElapsedS, ref.ElapsedS)
	d.TotalDeltaS = oppF.LapTime - refF.LapTime

	if len(refF.SectorTimes) == len(oppF.SectorTimes) {
		d.SectorTimeDeltaS = sub(oppF.SectorTimes, refF.SectorTimes)
	}

	oppByID := make(map[int]features.CornerMetrics, len(oppF.Corners))
	for _, c := range oppF.Corners {
		oppByID[c.CornerID] = c
	}
	for _, rc := range refF.Corners {
		oc, ok := oppByID[rc.CornerID]
		if !ok {
			continue
		}
		d.Corners = append(d.Corners, CornerDelta{
			CornerID:         rc.CornerID,
			BrakeOnsetDeltaM: oc.BrakeOnsetM - rc.BrakeOnsetM,
			MinSpeedDeltaKPH: oc.MinSpeedKPH - rc.MinSpeedKPH,
		})
	}
	return d, nil
}

// SlowestSectors returns sector indices ordered worst-first for the
// opponent, i.e. where the opponent loses the most time to the reference.
func (d *Delta) SlowestSectors() []int {
	out := make([]int, len(d.SectorTimeDeltaS))
	for i := range out {
		out[i] = i
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			a, b := d.SectorTimeDeltaS[out[j-1]], d.SectorTimeDeltaS[out[j]]
			if nanLess(a, b) {
				out[j-1], out[j] = out[j], out[j-1]
			}
		}
	}
	return out
}

// nanLess orders NaN last and otherwise ascending.
func nanLess(a, b float64) bool {
	if math.IsNaN(a) {
		return true
	}
	if math.IsNaN(b) {
		return false
	}
	return a < b
}

func sub(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}
