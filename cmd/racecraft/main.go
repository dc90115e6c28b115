// Command racecraft replays a long-format telemetry log through the race
// pipeline and serves live strategy queries over HTTP.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/racecraft/internal/api"
	"github.com/banshee-data/racecraft/internal/config"
	"github.com/banshee-data/racecraft/internal/monitoring"
	"github.com/banshee-data/racecraft/internal/race"
	"github.com/banshee-data/racecraft/internal/telemetry"
	"github.com/banshee-data/racecraft/internal/version"
)

var (
	trackID    = flag.String("track", "", "Circuit profile id (required)")
	vehicles   = flag.String("vehicles", "", "Comma-separated vehicle identifiers (required)")
	telemetryF = flag.String("telemetry", "", "Long-format telemetry CSV to replay (required)")
	totalLaps  = flag.Int("laps", 0, "Scheduled race distance in laps")
	dbFile     = flag.String("db", "race_data.db", "Session database path (empty disables persistence)")
	migrations = flag.String("migrations", "migrations", "Migrations directory")
	tuningFile = flag.String("tuning", "", "Optional tuning JSON file")
	listen     = flag.String("listen", ":8080", "Listen address")
	realtime   = flag.Bool("realtime", false, "Pace the replay by event timestamps")
	verbosity  = flag.Int("v", 0, "Diagnostic log verbosity (0-2)")
)

func main() {
	flag.Parse()
	monitoring.Verbosity = *verbosity
	log.Printf("racecraft %s", version.String())

	if *trackID == "" || *vehicles == "" || *telemetryF == "" {
		flag.Usage()
		os.Exit(2)
	}

	tuning := config.EmptyTuningConfig()
	if *tuningFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*tuningFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	}

	var store *race.Store
	if *dbFile != "" {
		var err error
		store, err = race.NewStore(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer store.Close()
		if err := store.MigrateUp(*migrations); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	session, err := race.NewSession(race.SessionConfig{
		TrackID:    *trackID,
		VehicleIDs: splitList(*vehicles),
		TotalLaps:  *totalLaps,
		Tuning:     tuning,
		Store:      store,
	})
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session.Start(ctx)

	// HTTP server goroutine
	srv := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(api.NewServer(session).ServeMux()),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("Listening on %s", *listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Replay goroutine: feed the log, then finalize the session. The HTTP
	// surface stays up afterwards so the finished session can be queried.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := replay(ctx, session, *telemetryF, *realtime); err != nil {
			log.Printf("Replay error: %v", err)
		}
		session.Close()
		printSummary(session)
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	wg.Wait()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// replay streams a CSV with columns event_time,vehicle,channel,value and an
// optional logger_time. Late and unknown-vehicle samples are counted, not
// fatal.
func replay(ctx context.Context, session *race.Session, path string, realtime bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening telemetry log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	for _, need := range []string{"event_time", "vehicle", "channel", "value"} {
		if _, ok := col[need]; !ok {
			return fmt.Errorf("telemetry log missing column %q", need)
		}
	}

	var late, unknown, lines int
	var lastEventTime float64
	wallStart := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading record %d: %w", lines, err)
		}
		lines++

		sample, err := parseSample(record, col)
		if err != nil {
			monitoring.Diagf("replay: skipping record %d: %v", lines, err)
			continue
		}
		if realtime && sample.EventTime > lastEventTime {
			elapsed := time.Since(wallStart).Seconds()
			if wait := sample.EventTime - elapsed; wait > 0 {
				time.Sleep(time.Duration(wait * float64(time.Second)))
			}
			lastEventTime = sample.EventTime
		}

		switch err := session.Ingest(sample); {
		case err == nil:
		case errors.As(err, new(*telemetry.LateSampleError)):
			late++
		case errors.As(err, new(*telemetry.VehicleResolutionError)):
			unknown++
		default:
			return err
		}
	}
	log.Printf("Replayed %d samples (%d late, %d unknown vehicle)", lines, late, unknown)
	return nil
}

func parseSample(record []string, col map[string]int) (telemetry.RawSample, error) {
	var s telemetry.RawSample
	if len(record) <= col["value"] {
		return s, fmt.Errorf("short record")
	}
	et, err := strconv.ParseFloat(record[col["event_time"]], 64)
	if err != nil {
		return s, fmt.Errorf("bad event_time: %w", err)
	}
	v, err := strconv.ParseFloat(record[col["value"]], 64)
	if err != nil {
		return s, fmt.Errorf("bad value: %w", err)
	}
	s = telemetry.RawSample{
		VehicleID: record[col["vehicle"]],
		Channel:   telemetry.Channel(record[col["channel"]]),
		Value:     v,
		EventTime: et,
	}
	if ix, ok := col["logger_time"]; ok && len(record) > ix {
		if lt, err := strconv.ParseFloat(record[ix], 64); err == nil {
			s.LoggerTime = lt
		}
	}
	return s, nil
}

func printSummary(session *race.Session) {
	log.Printf("Session %s complete on %s (%.0fm)", session.ID, session.Profile.Name, session.Profile.LengthM)
	for _, row := range session.Leaderboard() {
		log.Printf("P%d vehicle %s: %d laps, best %.3fs, last %.3fs",
			row.Position, session.Roster().RawID(row.Vehicle), row.Laps, row.BestLapS, row.LastLapS)
	}
}
