// Package track holds immutable circuit profiles and the corner detection
// used to carve a reference lap into named corner windows.
package track

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Profile describes one circuit. Profiles are loaded once at session start
// and treated as immutable afterwards.
type Profile struct {
	// ID is the short registry key, e.g. "barber".
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// LengthM is the lap distance in meters as reported by the lap trigger.
	LengthM float64 `json:"length_m"`
	// ExpectedLapSeconds is a rough representative lap time, used only for
	// stall detection, never for scoring.
	ExpectedLapSeconds float64 `json:"expected_lap_seconds"`
	// SectorsM are the distance marks that end sectors 1..n-1; the final
	// sector ends at LengthM. Must be strictly increasing and < LengthM.
	SectorsM []float64 `json:"sectors_m"`
	// WraparoundToleranceM bounds how far from the lap ends the distance
	// channel may sit on either side of a boundary drop. Calibrated per
	// circuit; zero takes DefaultWraparoundToleranceM.
	WraparoundToleranceM float64 `json:"wraparound_tolerance_m,omitempty"`
}

// DefaultWraparoundToleranceM is the boundary tolerance for profiles that
// carry no calibrated value.
const DefaultWraparoundToleranceM = 50.0

// WraparoundTolerance returns the circuit's boundary tolerance in meters.
func (p *Profile) WraparoundTolerance() float64 {
	if p.WraparoundToleranceM > 0 {
		return p.WraparoundToleranceM
	}
	return DefaultWraparoundToleranceM
}

// Validate checks the profile invariants.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("track: profile missing id")
	}
	if p.LengthM <= 0 {
		return fmt.Errorf("track %s: non-positive length %.1f", p.ID, p.LengthM)
	}
	if p.ExpectedLapSeconds <= 0 {
		return fmt.Errorf("track %s: non-positive expected lap time", p.ID)
	}
	if p.WraparoundToleranceM < 0 || p.WraparoundToleranceM >= 0.5*p.LengthM {
		return fmt.Errorf("track %s: wraparound tolerance %.1f out of range", p.ID, p.WraparoundToleranceM)
	}
	prev := 0.0
	for i, s := range p.SectorsM {
		if s <= prev || s >= p.LengthM {
			return fmt.Errorf("track %s: sector mark %d (%.1f) out of order or out of range", p.ID, i, s)
		}
		prev = s
	}
	return nil
}

// SectorCount returns the number of sectors the profile defines.
func (p *Profile) SectorCount() int { return len(p.SectorsM) + 1 }

// SectorAt returns the zero-based sector index containing lap distance d.
func (p *Profile) SectorAt(d float64) int {
	for i, s := range p.SectorsM {
		if d < s {
			return i
		}
	}
	return len(p.SectorsM)
}

// builtin carries the circuits the pipeline has been run on. Sector marks
// split each lap into thirds by distance unless surveyed marks exist.
var builtin = []Profile{
	{ID: "barber", Name: "Barber Motorsports Park", LengthM: 3830, ExpectedLapSeconds: 80, SectorsM: []float64{1277, 2553}, WraparoundToleranceM: 40},
	{ID: "cota", Name: "Circuit of the Americas", LengthM: 5513, ExpectedLapSeconds: 125, SectorsM: []float64{1838, 3675}, WraparoundToleranceM: 55},
	{ID: "indy", Name: "Indianapolis Motor Speedway Road Course", LengthM: 4192, ExpectedLapSeconds: 95, SectorsM: []float64{1397, 2795}, WraparoundToleranceM: 45},
	{ID: "road_america", Name: "Road America", LengthM: 6515, ExpectedLapSeconds: 135, SectorsM: []float64{2172, 4343}, WraparoundToleranceM: 65},
	{ID: "sebring", Name: "Sebring International Raceway", LengthM: 6019, ExpectedLapSeconds: 130, SectorsM: []float64{2006, 4013}, WraparoundToleranceM: 60},
	{ID: "sonoma", Name: "Sonoma Raceway", LengthM: 4052, ExpectedLapSeconds: 90, SectorsM: []float64{1351, 2701}, WraparoundToleranceM: 40},
	{ID: "vir", Name: "Virginia International Raceway", LengthM: 5280, ExpectedLapSeconds: 110, SectorsM: []float64{1760, 3520}, WraparoundToleranceM: 55},
}

// Lookup returns the builtin profile for id.
func Lookup(id string) (*Profile, error) {
	for i := range builtin {
		if builtin[i].ID == id {
			p := builtin[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("track: unknown profile %q (known: %v)", id, IDs())
}

// IDs returns the builtin profile ids, sorted.
func IDs() []string {
	out := make([]string, 0, len(builtin))
	for i := range builtin {
		out = append(out, builtin[i].ID)
	}
	sort.Strings(out)
	return out
}

// LoadProfiles reads additional profiles from a JSON file. Entries with an
// id matching a builtin replace it. Any invalid profile fails the load;
// callers treat that as fatal at session start.
func LoadProfiles(path string) ([]Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("track: reading profiles: %w", err)
	}
	var profiles []Profile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, fmt.Errorf("track: parsing profiles: %w", err)
	}
	for i := range profiles {
		if err := profiles[i].Validate(); err != nil {
			return nil, err
		}
	}
	return profiles, nil
}

// Register adds or replaces profiles in the builtin registry. Used by session
// bootstrap after LoadProfiles.
func Register(profiles []Profile) {
	for _, p := range profiles {
		replaced := false
		for i := range builtin {
			if builtin[i].ID == p.ID {
				builtin[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			builtin = append(builtin, p)
		}
	}
}
