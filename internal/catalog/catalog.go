// Package catalog records finished conversion runs in a SQLite database.
package catalog

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/dartlas/internal/config"
	"github.com/banshee-data/dartlas/internal/convert"
	"github.com/banshee-data/dartlas/internal/monitoring"
	"github.com/banshee-data/dartlas/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one catalogued conversion.
type Run struct {
	RunID           string          `json:"run_id"`
	InputPath       string          `json:"input_path"`
	OutputPath      string          `json:"output_path"`
	ConfigJSON      json.RawMessage `json:"config_json,omitempty"`
	Pulses          int             `json:"pulses"`
	Points          int64           `json:"points"`
	EmptyPulses     int             `json:"empty_pulses"`
	SkippedPulses   int             `json:"skipped_pulses"`
	DroppedEchoes   int             `json:"dropped_echoes"`
	WavePackets     int64           `json:"wave_packets"`
	DigitizerGain   float64         `json:"digitizer_gain"`
	DigitizerOffset float64         `json:"digitizer_offset"`
	ElapsedSecs     float64         `json:"elapsed_secs"`
	EchoCounts      []int           `json:"echo_counts,omitempty"`
	CreatedAtNs     int64           `json:"created_at_ns"`
}

// RunFromSummary builds a Run from a conversion summary and the
// configuration it ran with.
func RunFromSummary(s *convert.Summary, cfg *config.RunConfig) (*Run, error) {
	r := &Run{
		InputPath:       s.Input,
		OutputPath:      s.Output,
		Pulses:          s.Pulses,
		Points:          int64(s.Points),
		EmptyPulses:     s.EmptyPulses,
		SkippedPulses:   s.SkippedPulses,
		DroppedEchoes:   s.DroppedEchoes,
		WavePackets:     int64(s.WavePackets),
		DigitizerGain:   s.Gain,
		DigitizerOffset: s.Offset,
		ElapsedSecs:     s.Elapsed.Seconds(),
		EchoCounts:      s.EchoCounts,
	}
	if cfg != nil {
		data, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshal run config: %w", err)
		}
		r.ConfigJSON = data
	}
	return r, nil
}

// Store persists Runs.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens or creates the catalog at path and applies pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// One connection keeps ":memory:" databases shared between queries.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, clock: timeutil.RealClock{}}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetClock replaces the clock used to stamp new runs.
func (s *Store) SetClock(c timeutil.Clock) { s.clock = c }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load catalog migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("catalog migration failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version.
func (s *Store) Version() (uint, error) {
	var v uint
	err := s.db.QueryRow(`SELECT version FROM schema_migrations LIMIT 1`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read catalog version: %w", err)
	}
	return v, nil
}

// Insert stores r. An empty RunID is replaced by a new UUID and a zero
// CreatedAtNs by the current time.
func (s *Store) Insert(r *Run) error {
	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}
	if r.CreatedAtNs == 0 {
		r.CreatedAtNs = s.clock.Now().UnixNano()
	}
	var echoCounts sql.NullString
	if len(r.EchoCounts) > 0 {
		data, err := json.Marshal(r.EchoCounts)
		if err != nil {
			return fmt.Errorf("marshal echo counts: %w", err)
		}
		echoCounts = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO conversion_runs (
			run_id, input_path, output_path, config_json,
			pulses, points, empty_pulses, skipped_pulses, dropped_echoes, wave_packets,
			digitizer_gain, digitizer_offset, elapsed_secs, echo_counts_json, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		r.RunID,
		r.InputPath,
		r.OutputPath,
		nullString(string(r.ConfigJSON)),
		r.Pulses,
		r.Points,
		r.EmptyPulses,
		r.SkippedPulses,
		r.DroppedEchoes,
		r.WavePackets,
		r.DigitizerGain,
		r.DigitizerOffset,
		r.ElapsedSecs,
		echoCounts,
		r.CreatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	monitoring.Debugf("catalog: recorded run %s", r.RunID)
	return nil
}

const selectRun = `
	SELECT run_id, input_path, output_path, config_json,
	       pulses, points, empty_pulses, skipped_pulses, dropped_echoes, wave_packets,
	       digitizer_gain, digitizer_offset, elapsed_secs, echo_counts_json, created_at_ns
	FROM conversion_runs
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var configJSON, echoCounts sql.NullString
	err := row.Scan(
		&r.RunID,
		&r.InputPath,
		&r.OutputPath,
		&configJSON,
		&r.Pulses,
		&r.Points,
		&r.EmptyPulses,
		&r.SkippedPulses,
		&r.DroppedEchoes,
		&r.WavePackets,
		&r.DigitizerGain,
		&r.DigitizerOffset,
		&r.ElapsedSecs,
		&echoCounts,
		&r.CreatedAtNs,
	)
	if err != nil {
		return nil, err
	}
	if configJSON.Valid {
		r.ConfigJSON = json.RawMessage(configJSON.String)
	}
	if echoCounts.Valid {
		if err := json.Unmarshal([]byte(echoCounts.String), &r.EchoCounts); err != nil {
			return nil, fmt.Errorf("decode echo counts of %s: %w", r.RunID, err)
		}
	}
	return &r, nil
}

// Get returns the run with the given ID.
func (s *Store) Get(runID string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(selectRun+` WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// List returns up to limit runs, newest first. A non-positive limit returns
// every run.
func (s *Store) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(selectRun+` ORDER BY created_at_ns DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// migrateLogger routes golang-migrate output through the monitoring logger.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }
