package race

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/racecraft/internal/features"
	"github.com/banshee-data/racecraft/internal/strategy"
	"github.com/banshee-data/racecraft/internal/telemetry"
	"github.com/banshee-data/racecraft/internal/timeutil"
	"github.com/banshee-data/racecraft/internal/track"
)

const (
	testTrackID   = "proving_ground"
	testTrackLenM = 1200.0
	testLapS      = 30.0
)

func registerTestTrack() {
	track.Register([]track.Profile{{
		ID:                 testTrackID,
		Name:               "Proving Ground",
		LengthM:            testTrackLenM,
		ExpectedLapSeconds: testLapS,
		SectorsM:           []float64{400, 800},
	}})
}

// sampleAt fabricates the long-format records one car emits at a single tick.
// The circuit has one corner from 400 m to 520 m with a braking zone just
// before it.
func sampleAt(vehicleID string, t, lapDist float64, speedMPS float64) []telemetry.RawSample {
	inCorner := lapDist >= 400 && lapDist < 520
	braking := lapDist >= 300 && lapDist < 400

	throttle, brakeF, brakeR, latG, steer := 90.0, 0.0, 0.0, 0.05, 0.0
	switch {
	case braking:
		throttle, brakeF, brakeR = 0, 30, 15
	case inCorner:
		throttle, latG, steer = 50, 1.6, 20
	}

	mk := func(ch telemetry.Channel, v float64) telemetry.RawSample {
		return telemetry.RawSample{VehicleID: vehicleID, Channel: ch, Value: v, EventTime: t}
	}
	return []telemetry.RawSample{
		mk(telemetry.ChanLapDist, lapDist),
		mk(telemetry.ChanSpeed, speedMPS*3.6),
		mk(telemetry.ChanThrottle, throttle),
		mk(telemetry.ChanBrakeF, brakeF),
		mk(telemetry.ChanBrakeR, brakeR),
		mk(telemetry.ChanAccY, latG),
		mk(telemetry.ChanSteering, steer),
	}
}

// driveSession feeds two cars for just over six laps: car-7 at 40 m/s (30.0 s
// laps) and car-22 at 39.5 m/s (~30.38 s laps).
func driveSession(t *testing.T, s *Session) {
	t.Helper()
	const dt = 0.25
	speeds := map[string]float64{"car-7": 40.0, "car-22": 39.5}
	for step := 0; step < 748; step++ {
		et := float64(step) * dt
		for id, v := range speeds {
			for _, smp := range sampleAt(id, et, math.Mod(v*et, testTrackLenM), v) {
				if err := s.Ingest(smp); err != nil {
					t.Fatalf("ingest at t=%.2f: %v", et, err)
				}
			}
		}
	}
	s.Close()
}

func newTestSession(t *testing.T, store *Store) *Session {
	t.Helper()
	registerTestTrack()
	s, err := NewSession(SessionConfig{
		TrackID:    testTrackID,
		VehicleIDs: []string{"car-7", "car-22"},
		TotalLaps:  20,
		Store:      store,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestSessionRejectsUnknownTrack(t *testing.T) {
	_, err := NewSession(SessionConfig{TrackID: "nowhere", VehicleIDs: []string{"car-7"}})
	if err == nil {
		t.Fatal("expected an error for an unknown track")
	}
}

func TestSessionRejectsUnknownVehicle(t *testing.T) {
	s := newTestSession(t, nil)
	err := s.Ingest(telemetry.RawSample{VehicleID: "car-99", Channel: telemetry.ChanSpeed, Value: 100, EventTime: 1})
	var vre *telemetry.VehicleResolutionError
	if !errors.As(err, &vre) {
		t.Fatalf("got %v, want VehicleResolutionError", err)
	}
}

func TestSessionPipeline(t *testing.T) {
	s := newTestSession(t, nil)
	driveSession(t, s)

	// Six complete laps per car, plus the flushed tail.
	for vehicle := 0; vehicle < 2; vehicle++ {
		history := s.History(vehicle)
		if len(history) != 7 {
			t.Fatalf("vehicle %d has %d laps, want 7", vehicle, len(history))
		}
		for _, lf := range history[:6] {
			if lf.Incomplete {
				t.Errorf("vehicle %d lap %d flagged incomplete", vehicle, lf.LapIndex)
			}
		}
		if !history[6].Incomplete {
			t.Errorf("vehicle %d tail lap not flagged incomplete", vehicle)
		}
	}

	// Middle laps of the faster car time out near the nominal 30 s.
	for _, lf := range s.History(0)[1:5] {
		if math.Abs(lf.LapTime-testLapS) > 0.6 {
			t.Errorf("lap %d time %.3fs, want ~%.0fs", lf.LapIndex, lf.LapTime, testLapS)
		}
	}
}

func TestSessionBootstrapsCorners(t *testing.T) {
	s := newTestSession(t, nil)
	driveSession(t, s)

	corners := s.Corners()
	if len(corners) != 1 {
		t.Fatalf("detected %d corners, want 1", len(corners))
	}
	c := corners[0]
	if c.StartM < 380 || c.StartM > 440 {
		t.Errorf("corner start %.0fm, want near 400m", c.StartM)
	}
	if c.EndM < 480 || c.EndM > 550 {
		t.Errorf("corner end %.0fm, want near 520m", c.EndM)
	}

	// Every lap is scored against the bootstrapped corner set.
	for _, lf := range s.History(0)[:6] {
		if len(lf.Corners) != 1 {
			t.Errorf("lap %d has %d corner metric sets, want 1", lf.LapIndex, len(lf.Corners))
		}
	}
}

func TestSessionEngineQueries(t *testing.T) {
	s := newTestSession(t, nil)
	driveSession(t, s)

	fc, err := s.PaceForecast(0, 3)
	if err != nil {
		t.Fatalf("PaceForecast: %v", err)
	}
	if fc.Trend != "stable" {
		t.Errorf("trend = %q for metronomic laps, want stable", fc.Trend)
	}
	if math.Abs(fc.LatestLapS-testLapS) > 0.6 {
		t.Errorf("latest lap %.3fs, want ~%.0fs", fc.LatestLapS, testLapS)
	}

	rep, err := s.Degradation(0)
	if err != nil {
		t.Fatalf("Degradation: %v", err)
	}
	if rep.Severity != strategy.SeverityNone {
		t.Errorf("severity = %s for a flat stint, want none", rep.Severity)
	}

	rec, err := s.PitWindow(0)
	if err != nil {
		t.Fatalf("PitWindow: %v", err)
	}
	if rec.BestLap <= 7 || rec.BestLap > 20 {
		t.Errorf("best pit lap %d outside the remaining race", rec.BestLap)
	}
	// The leader on stable pace holds position through the stop horizon.
	if rec.CurrentPos != 1 || rec.ExpectedPosChange != 0 {
		t.Errorf("position change = P%d %+d, want P1 holding station", rec.CurrentPos, rec.ExpectedPosChange)
	}
}

func TestSessionThreatAndGaps(t *testing.T) {
	s := newTestSession(t, nil)
	driveSession(t, s)

	// car-22 loses ~0.38 s/lap; after six laps it trails by ~2.28 s.
	ta, err := s.Threat(0, 1)
	if err != nil {
		t.Fatalf("Threat: %v", err)
	}
	if math.Abs(ta.GapS-2.28) > 0.25 {
		t.Errorf("gap %.2fs, want ~2.28s", ta.GapS)
	}
	if ta.ClosingRateS >= 0 {
		t.Errorf("closing rate %.3f s/lap for a fading rival, want negative", ta.ClosingRateS)
	}
	if ta.Level != strategy.ThreatNone {
		t.Errorf("level = %s for a fading rival 2s back, want none", ta.Level)
	}

	// The rival is ahead of car-22, so the assessment is refused.
	if _, err := s.Threat(1, 0); err == nil {
		t.Error("expected an error assessing a rival that is ahead")
	}
}

func TestSessionLeaderboard(t *testing.T) {
	s := newTestSession(t, nil)
	driveSession(t, s)

	standings := s.Leaderboard()
	if len(standings) != 2 {
		t.Fatalf("leaderboard has %d rows, want 2", len(standings))
	}
	if standings[0].Vehicle != 0 || standings[1].Vehicle != 1 {
		t.Fatalf("order %d,%d, want car-7 leading car-22", standings[0].Vehicle, standings[1].Vehicle)
	}
	if g := standings[1].GapToLeaderS; math.Abs(g-2.28) > 0.25 {
		t.Errorf("gap to leader %.2fs, want ~2.28s", g)
	}

	// 2.28 s is outside battle range.
	if groups := s.BattleGroups(); len(groups) != 0 {
		t.Errorf("got %d battle groups, want none", len(groups))
	}

	// The pace offset persists, so projected order matches current order.
	for _, pf := range s.ProjectPositions(5) {
		if pf.ProjectedPos != pf.CurrentPos {
			t.Errorf("vehicle %d projected P%d from P%d with steady pace", pf.Vehicle, pf.ProjectedPos, pf.CurrentPos)
		}
	}
}

func TestSessionCompareLaps(t *testing.T) {
	s := newTestSession(t, nil)
	driveSession(t, s)

	d, err := s.CompareLaps(0, 1, 1, 1)
	if err != nil {
		t.Fatalf("CompareLaps: %v", err)
	}
	// 1200m at 40 vs 39.5 m/s costs the opponent ~0.38 s.
	if math.Abs(d.TotalDeltaS-0.38) > 0.15 {
		t.Errorf("total delta %.3fs, want ~0.38s", d.TotalDeltaS)
	}

	if _, err := s.CompareLaps(0, 1, 1, 99); err == nil {
		t.Error("expected an error for a lap that does not exist")
	}
}

func TestSessionLapNotifications(t *testing.T) {
	registerTestTrack()
	laps := make(map[int]int)
	s, err := NewSession(SessionConfig{
		TrackID:    testTrackID,
		VehicleIDs: []string{"car-7", "car-22"},
		TotalLaps:  20,
		OnLap: func(vehicle int, lf *features.LapFeatures) {
			laps[vehicle]++
		},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	driveSession(t, s)

	// 6 complete laps per car plus the flushed tail.
	for _, vehicle := range []int{0, 1} {
		if laps[vehicle] != 7 {
			t.Errorf("vehicle %d: %d lap notifications, want 7", vehicle, laps[vehicle])
		}
	}
}

func TestSessionPitSignalResetsStint(t *testing.T) {
	s := newTestSession(t, nil)
	driveSession(t, s)

	if _, err := s.Degradation(1); err != nil {
		t.Fatalf("Degradation before pit signal: %v", err)
	}
	if err := s.PitSignal("car-22"); err != nil {
		t.Fatalf("PitSignal: %v", err)
	}
	// The new stint has no laps yet, so there is nothing to analyze.
	if _, err := s.Degradation(1); err == nil {
		t.Error("expected an error analyzing an empty stint")
	}
}

func TestSessionRecordsStartTime(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "race.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	if err := store.MigrateUp(filepath.Join("..", "..", "migrations")); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}

	registerTestTrack()
	started := time.Date(2026, 8, 29, 14, 30, 0, 0, time.UTC)
	s, err := NewSession(SessionConfig{
		TrackID:    testTrackID,
		VehicleIDs: []string{"car-7"},
		Store:      store,
		Clock:      timeutil.NewMockClock(started),
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if !s.StartedAt().Equal(started) {
		t.Errorf("StartedAt = %v, want %v", s.StartedAt(), started)
	}

	sessions, err := store.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("listed %d sessions, want 1", len(sessions))
	}
	if !sessions[0].StartedAt.Equal(started) {
		t.Errorf("persisted start %v, want %v", sessions[0].StartedAt, started)
	}
	if sessions[0].TrackID != testTrackID {
		t.Errorf("persisted track %q, want %q", sessions[0].TrackID, testTrackID)
	}
}

func TestSessionConcurrentWithStore(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "race.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	if err := store.MigrateUp(filepath.Join("..", "..", "migrations")); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}

	s := newTestSession(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	driveSession(t, s)

	for vehicle := 0; vehicle < 2; vehicle++ {
		rows, err := store.LoadLaps(s.ID, vehicle)
		if err != nil {
			t.Fatalf("LoadLaps: %v", err)
		}
		if len(rows) != 7 {
			t.Fatalf("vehicle %d persisted %d laps, want 7", vehicle, len(rows))
		}
		for i, row := range rows {
			if row.LapIndex != i {
				t.Errorf("row %d has lap index %d, want gapless from 0", i, row.LapIndex)
			}
			if row.Features == nil || row.Features.TopSpeedKPH == 0 {
				t.Errorf("lap %d features did not round-trip", i)
			}
		}
	}
}
