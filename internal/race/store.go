// Package race wires the full pipeline for one session: normalization, lap
// segmentation, feature extraction and the strategy engines, with results
// persisted to sqlite.
package race

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/racecraft/internal/features"
	"github.com/banshee-data/racecraft/internal/laps"
	"github.com/banshee-data/racecraft/internal/monitoring"
)

// Store persists sessions, laps and feature vectors.
type Store struct {
	*sql.DB
}

// NewStore opens (or creates) the session database at path. Use ":memory:"
// for tests. Run MigrateUp before first use.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("race: opening store: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent lap finalization.
	db.SetMaxOpenConns(1)
	return &Store{DB: db}, nil
}

// MigrateUp applies all pending migrations from migrationsDir.
func (s *Store) MigrateUp(migrationsDir string) error {
	m, err := s.newMigrate(migrationsDir)
	if err != nil {
		return err
	}
	// The migrate instance is not closed: closing it would close the
	// underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("race: migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown(migrationsDir string) error {
	m, err := s.newMigrate(migrationsDir)
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("race: migration down failed: %w", err)
	}
	return nil
}

// MigrateVersion reports the current schema version and dirty state.
func (s *Store) MigrateVersion(migrationsDir string) (version uint, dirty bool, err error) {
	m, err := s.newMigrate(migrationsDir)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if err != nil && errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate(migrationsDir string) (*migrate.Migrate, error) {
	absPath, err := filepath.Abs(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("race: resolving migrations dir: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("race: creating sqlite driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", absPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return nil, fmt.Errorf("race: creating migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (*migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("race: migrate: "+format, v...)
}

func (*migrateLogger) Verbose() bool { return false }

// SaveSession records session metadata.
func (s *Store) SaveSession(id, trackID string, startedAt time.Time, schemaVersion int) error {
	_, err := s.Exec(
		`INSERT INTO sessions (id, track_id, started_at, schema_version) VALUES (?, ?, ?, ?)`,
		id, trackID, startedAt.UTC().Format(time.RFC3339Nano), schemaVersion)
	if err != nil {
		return fmt.Errorf("race: saving session %s: %w", id, err)
	}
	return nil
}

// SaveLap persists a finalized segment with its feature vector. The feature
// vector is stored as JSON; the scalar columns exist for SQL-side queries.
func (s *Store) SaveLap(sessionID string, seg *laps.Segment, lf *features.LapFeatures) error {
	blob, err := json.Marshal(lf)
	if err != nil {
		return fmt.Errorf("race: encoding features: %w", err)
	}
	_, err = s.Exec(
		`INSERT INTO vehicle_laps
			(session_id, vehicle, lap_index, start_time, end_time, lap_time,
			 incomplete, stalled, raw_lap, features)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, seg.Vehicle, seg.Index, seg.StartTime, seg.EndTime, seg.LapTime(),
		boolInt(seg.Incomplete), boolInt(seg.Stalled), seg.RawLap, string(blob))
	if err != nil {
		return fmt.Errorf("race: saving lap %d/%d: %w", seg.Vehicle, seg.Index, err)
	}
	return nil
}

// SessionInfo is one persisted session row.
type SessionInfo struct {
	ID            string
	TrackID       string
	StartedAt     time.Time
	SchemaVersion int
}

// ListSessions returns all recorded sessions, newest first.
func (s *Store) ListSessions() ([]SessionInfo, error) {
	rows, err := s.Query(
		`SELECT id, track_id, started_at, schema_version FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("race: listing sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var si SessionInfo
		var started string
		if err := rows.Scan(&si.ID, &si.TrackID, &started, &si.SchemaVersion); err != nil {
			return nil, fmt.Errorf("race: scanning session row: %w", err)
		}
		si.StartedAt, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("race: parsing session start time %q: %w", started, err)
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// Vehicles returns the vehicle indices with laps recorded in a session.
func (s *Store) Vehicles(sessionID string) ([]int, error) {
	rows, err := s.Query(
		`SELECT DISTINCT vehicle FROM vehicle_laps WHERE session_id = ? ORDER BY vehicle`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("race: listing vehicles: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("race: scanning vehicle row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// StoredLap is one persisted lap row.
type StoredLap struct {
	Vehicle    int
	LapIndex   int
	StartTime  float64
	EndTime    float64
	LapTime    float64
	Incomplete bool
	Stalled    bool
	Features   *features.LapFeatures
}

// LoadLaps returns a vehicle's persisted laps in lap order.
func (s *Store) LoadLaps(sessionID string, vehicle int) ([]StoredLap, error) {
	rows, err := s.Query(
		`SELECT vehicle, lap_index, start_time, end_time, lap_time, incomplete, stalled, features
		 FROM vehicle_laps WHERE session_id = ? AND vehicle = ? ORDER BY lap_index`,
		sessionID, vehicle)
	if err != nil {
		return nil, fmt.Errorf("race: loading laps: %w", err)
	}
	defer rows.Close()

	var out []StoredLap
	for rows.Next() {
		var sl StoredLap
		var incomplete, stalled int
		var blob string
		if err := rows.Scan(&sl.Vehicle, &sl.LapIndex, &sl.StartTime, &sl.EndTime,
			&sl.LapTime, &incomplete, &stalled, &blob); err != nil {
			return nil, fmt.Errorf("race: scanning lap row: %w", err)
		}
		sl.Incomplete = incomplete != 0
		sl.Stalled = stalled != 0
		var lf features.LapFeatures
		if err := json.Unmarshal([]byte(blob), &lf); err != nil {
			return nil, fmt.Errorf("race: decoding features for lap %d/%d: %w", sl.Vehicle, sl.LapIndex, err)
		}
		sl.Features = &lf
		out = append(out, sl)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
