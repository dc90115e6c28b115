package strategy

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/racecraft/internal/features"
)

// battleGapS is the maximum gap between cars considered to be racing each
// other.
const battleGapS = 2.0

// Standing is one leaderboard row. Position is 1-based.
type Standing struct {
	Position     int     `json:"position"`
	Vehicle      int     `json:"vehicle"`
	Laps         int     `json:"laps"`
	TotalTimeS   float64 `json:"total_time_s"`
	GapToLeaderS float64 `json:"gap_to_leader_s"`
	LastLapS     float64 `json:"last_lap_s"`
	BestLapS     float64 `json:"best_lap_s"`
	// RecentPaceS is the mean of the last three clean laps.
	RecentPaceS float64 `json:"recent_pace_s"`
}

// Leaderboard orders vehicles by laps completed, then total time. The input
// maps vehicle index to its lap history, oldest first.
func Leaderboard(byVehicle map[int][]*features.LapFeatures) []Standing {
	var rows []Standing
	for vehicle, history := range byVehicle {
		clean := cleanLaps(history)
		if len(clean) == 0 {
			continue
		}
		row := Standing{
			Vehicle:  vehicle,
			Laps:     len(clean),
			BestLapS: math.Inf(1),
		}
		for _, lf := range clean {
			row.TotalTimeS += lf.LapTime
			if lf.LapTime < row.BestLapS {
				row.BestLapS = lf.LapTime
			}
		}
		row.LastLapS = clean[len(clean)-1].LapTime
		row.RecentPaceS = recentPace(clean)
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Laps != rows[j].Laps {
			return rows[i].Laps > rows[j].Laps
		}
		return rows[i].TotalTimeS < rows[j].TotalTimeS
	})
	for i := range rows {
		rows[i].Position = i + 1
		if i == 0 {
			continue
		}
		// Gap is meaningful on equal laps; a lapped car carries the lap
		// deficit in Laps instead.
		if rows[i].Laps == rows[0].Laps {
			rows[i].GapToLeaderS = rows[i].TotalTimeS - rows[0].TotalTimeS
		} else {
			rows[i].GapToLeaderS = math.NaN()
		}
	}
	return rows
}

// BattleGroup is a chain of cars on the same lap separated by small gaps.
type BattleGroup struct {
	// Vehicles in running order, leader of the group first.
	Vehicles []int `json:"vehicles"`
	// SpreadS is first-to-last gap within the group.
	SpreadS float64 `json:"spread_s"`
}

// BattleGroups chains adjacent standings whose gaps are within battleGapS.
// Solo cars do not form groups.
func BattleGroups(standings []Standing) []BattleGroup {
	var groups []BattleGroup
	var cur []int
	var spread float64

	flush := func() {
		if len(cur) >= 2 {
			groups = append(groups, BattleGroup{Vehicles: cur, SpreadS: spread})
		}
		cur = nil
		spread = 0
	}

	for i := 1; i < len(standings); i++ {
		a, b := standings[i-1], standings[i]
		gap := b.GapToLeaderS - a.GapToLeaderS
		if a.Laps != b.Laps || math.IsNaN(gap) || gap > battleGapS {
			flush()
			continue
		}
		if len(cur) == 0 {
			cur = []int{a.Vehicle}
		}
		cur = append(cur, b.Vehicle)
		spread += gap
	}
	flush()
	return groups
}

// PositionForecast projects a position change from current pace deltas.
type PositionForecast struct {
	Vehicle      int `json:"vehicle"`
	CurrentPos   int `json:"current_pos"`
	ProjectedPos int `json:"projected_pos"`
}

// ProjectPositions extrapolates each car's gap to the leader by its recent
// pace over the next horizonLaps and re-ranks. Lapped cars keep their spot.
func ProjectPositions(standings []Standing, horizonLaps int) []PositionForecast {
	if horizonLaps < 1 {
		horizonLaps = 1
	}
	type proj struct {
		vehicle int
		curPos  int
		laps    int
		total   float64
	}
	projs := make([]proj, 0, len(standings))
	for _, s := range standings {
		total := s.TotalTimeS + s.RecentPaceS*float64(horizonLaps)
		projs = append(projs, proj{vehicle: s.Vehicle, curPos: s.Position, laps: s.Laps, total: total})
	}
	sort.SliceStable(projs, func(i, j int) bool {
		if projs[i].laps != projs[j].laps {
			return projs[i].laps > projs[j].laps
		}
		return projs[i].total < projs[j].total
	})

	out := make([]PositionForecast, len(projs))
	for i, p := range projs {
		out[i] = PositionForecast{Vehicle: p.vehicle, CurrentPos: p.curPos, ProjectedPos: i + 1}
	}
	return out
}

func recentPace(clean []*features.LapFeatures) float64 {
	n := 3
	if len(clean) < n {
		n = len(clean)
	}
	times := make([]float64, 0, n)
	for _, lf := range clean[len(clean)-n:] {
		times = append(times, lf.LapTime)
	}
	return stat.Mean(times, nil)
}
