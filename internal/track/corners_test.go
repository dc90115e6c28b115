package track

import (
	"math"
	"testing"
)

// syntheticLap builds a lap with cornering load centered on the given
// distances, 10 m sample spacing.
func syntheticLap(lengthM float64, cornerCenters []float64, cornerHalfWidth float64) (dist, latG, speed []float64) {
	for d := 0.0; d < lengthM; d += 10 {
		g := 0.1
		for _, c := range cornerCenters {
			if math.Abs(d-c) < cornerHalfWidth {
				g = 1.4
			}
		}
		dist = append(dist, d)
		latG = append(latG, g)
		speed = append(speed, 120)
	}
	return dist, latG, speed
}

func TestDetectCorners(t *testing.T) {
	dist, latG, speed := syntheticLap(3000, []float64{500, 1400, 2200}, 60)
	corners := DetectCorners(DefaultCornerConfig(), dist, latG, speed)
	if len(corners) != 3 {
		t.Fatalf("got %d corners, want 3: %+v", len(corners), corners)
	}
	for i, c := range corners {
		if c.ID != i+1 {
			t.Errorf("corner %d has ID %d", i, c.ID)
		}
		if c.EndM <= c.StartM {
			t.Errorf("corner %d window inverted: %+v", i, c)
		}
	}
	if !corners[1].Contains(1400) {
		t.Errorf("second corner %+v should contain its center 1400", corners[1])
	}
}

func TestDetectCornersMergesCloseWindows(t *testing.T) {
	// Two load peaks 20 m apart: closer than the merge gap, one corner.
	dist, latG, speed := syntheticLap(1000, []float64{480, 520}, 15)
	corners := DetectCorners(DefaultCornerConfig(), dist, latG, speed)
	if len(corners) != 1 {
		t.Fatalf("got %d corners, want 1 merged: %+v", len(corners), corners)
	}
}

func TestDetectCornersIgnoresLowSpeedNoise(t *testing.T) {
	// High lateral G at walking pace (pit lane, spins) is not a corner.
	dist := []float64{0, 10, 20, 30, 40, 50, 60, 70}
	latG := []float64{1.5, 1.5, 1.5, 1.5, 1.5, 1.5, 1.5, 1.5}
	speed := []float64{10, 10, 10, 10, 10, 10, 10, 10}
	if corners := DetectCorners(DefaultCornerConfig(), dist, latG, speed); len(corners) != 0 {
		t.Fatalf("low-speed samples produced %d corners", len(corners))
	}
}

func TestCurvature(t *testing.T) {
	tests := []struct {
		name  string
		latG  float64
		speed float64
		want  float64
	}{
		{"120kph at 1g", 1.0, 120, 9.81 / (33.333 * 33.333)},
		{"below speed gate", 1.0, 20, 0},
		{"nan input", math.NaN(), 120, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Curvature(tt.latG, tt.speed, 40)
			if math.Abs(got-tt.want) > 1e-4 {
				t.Errorf("Curvature = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProfileRegistry(t *testing.T) {
	p, err := Lookup("barber")
	if err != nil {
		t.Fatalf("Lookup(barber): %v", err)
	}
	if p.LengthM != 3830 {
		t.Errorf("barber length = %v, want 3830", p.LengthM)
	}
	if p.SectorCount() != 3 {
		t.Errorf("barber sectors = %d, want 3", p.SectorCount())
	}
	if _, err := Lookup("monza"); err == nil {
		t.Error("Lookup of unknown profile should fail")
	}
}

func TestProfileSectorAt(t *testing.T) {
	p := &Profile{ID: "t", LengthM: 3000, ExpectedLapSeconds: 60, SectorsM: []float64{1000, 2000}}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, tt := range []struct {
		d    float64
		want int
	}{{0, 0}, {999, 0}, {1000, 1}, {1999, 1}, {2000, 2}, {2999, 2}} {
		if got := p.SectorAt(tt.d); got != tt.want {
			t.Errorf("SectorAt(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}

func TestProfileWraparoundTolerance(t *testing.T) {
	// Each circuit carries its own calibrated boundary tolerance.
	barber, err := Lookup("barber")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if barber.WraparoundTolerance() != 40 {
		t.Errorf("barber tolerance = %v, want 40", barber.WraparoundTolerance())
	}
	ra, err := Lookup("road_america")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ra.WraparoundTolerance() != 65 {
		t.Errorf("road_america tolerance = %v, want 65", ra.WraparoundTolerance())
	}

	// A profile without a calibrated value falls back to the default.
	p := Profile{ID: "x", LengthM: 1000, ExpectedLapSeconds: 60}
	if p.WraparoundTolerance() != DefaultWraparoundToleranceM {
		t.Errorf("uncalibrated tolerance = %v, want default", p.WraparoundTolerance())
	}
}

func TestProfileValidate(t *testing.T) {
	bad := []Profile{
		{ID: "", LengthM: 1000, ExpectedLapSeconds: 60},
		{ID: "x", LengthM: 0, ExpectedLapSeconds: 60},
		{ID: "x", LengthM: 1000, ExpectedLapSeconds: 0},
		{ID: "x", LengthM: 1000, ExpectedLapSeconds: 60, SectorsM: []float64{800, 500}},
		{ID: "x", LengthM: 1000, ExpectedLapSeconds: 60, SectorsM: []float64{1200}},
		{ID: "x", LengthM: 1000, ExpectedLapSeconds: 60, WraparoundToleranceM: -5},
		{ID: "x", LengthM: 1000, ExpectedLapSeconds: 60, WraparoundToleranceM: 600},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("profile %d should fail validation: %+v", i, p)
		}
	}
}
