// Command gen-telemetry writes a synthetic long-format telemetry CSV for
// testing replay and the strategy pipeline.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"strconv"

	"github.com/banshee-data/racecraft/internal/telemetry"
	"github.com/banshee-data/racecraft/internal/track"
)

func main() {
	output := flag.String("o", "telemetry.csv", "output path")
	trackID := flag.String("track", "barber", "circuit profile id")
	nLaps := flag.Int("laps", 10, "laps per car")
	nCars := flag.Int("cars", 3, "number of cars")
	hz := flag.Float64("hz", 10, "sample rate per channel")
	degradation := flag.Float64("deg", 0.05, "added seconds per lap of tire wear")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	profile, err := track.Lookup(*trackID)
	if err != nil {
		log.Fatal(err)
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create output: %v", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	w.Write([]string{"event_time", "vehicle", "channel", "value"})

	rng := rand.New(rand.NewSource(*seed))
	dt := 1.0 / *hz
	rows := 0
	for car := 0; car < *nCars; car++ {
		id := fmt.Sprintf("car-%d", car+1)
		// Per-car pace offset plus per-lap degradation.
		baseLap := profile.ExpectedLapSeconds * (1 + 0.01*float64(car) + 0.005*rng.Float64())
		pos, t := 0.0, 0.0
		for pos < float64(*nLaps)*profile.LengthM {
			lap := pos / profile.LengthM
			lapTime := baseLap + *degradation*lap
			speed := profile.LengthM / lapTime // m/s

			d := math.Mod(pos, profile.LengthM)
			frac := d / profile.LengthM
			// Two synthetic corners per lap with braking zones ahead of them.
			corner := sinPulse(frac, 0.3, 0.05) + sinPulse(frac, 0.7, 0.05)
			braking := sinPulse(frac, 0.27, 0.02) + sinPulse(frac, 0.67, 0.02)

			emit(w, t, id, telemetry.ChanLapDist, d)
			emit(w, t, id, telemetry.ChanLapRaw, math.Floor(lap)+1)
			emit(w, t, id, telemetry.ChanSpeed, speed*3.6*(1-0.3*corner)+rng.NormFloat64()*0.5)
			emit(w, t, id, telemetry.ChanThrottle, clamp(100*(1-corner-braking)+rng.NormFloat64()*2, 0, 100))
			emit(w, t, id, telemetry.ChanBrakeF, clamp(45*braking+rng.NormFloat64(), 0, 150))
			emit(w, t, id, telemetry.ChanBrakeR, clamp(25*braking+rng.NormFloat64(), 0, 150))
			emit(w, t, id, telemetry.ChanAccY, 1.8*corner+rng.NormFloat64()*0.05)
			emit(w, t, id, telemetry.ChanSteering, 40*corner+rng.NormFloat64())
			rows += 8

			pos += speed * dt
			t += dt
		}
	}
	log.Printf("✓ Created: %s (%d samples, %d cars, %d laps on %s)", *output, rows, *nCars, *nLaps, profile.ID)
}

// sinPulse is a smooth bump of the given half-width centered at c, on [0,1].
func sinPulse(x, c, width float64) float64 {
	d := math.Abs(x - c)
	if d > width {
		return 0
	}
	return math.Cos(d / width * math.Pi / 2)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func emit(w *csv.Writer, t float64, vehicle string, ch telemetry.Channel, v float64) {
	w.Write([]string{
		strconv.FormatFloat(t, 'f', 3, 64),
		vehicle,
		string(ch),
		strconv.FormatFloat(v, 'f', 4, 64),
	})
}
