// Package runstore keeps a SQLite catalogue of processing runs: which tool
// ran over which input directory, with what settings, and how it ended.
package runstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/timepix.report/internal/monitoring"
	"github.com/banshee-data/timepix.report/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run status values.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// ErrNotFound is returned when a run ID is not in the catalogue.
var ErrNotFound = errors.New("run not found")

// Run is one catalogue row.
type Run struct {
	ID         string
	Tool       string
	InputDir   string
	OutputDir  string
	Settings   string // TOML sidecar contents
	Version    string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time // Zero while running
	HitsRead   uint64
	Events     uint64
	Clusters   uint64
	Windows    uint64
	Error      string
}

// Duration returns the run time, or zero while running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Result carries the counters recorded when a run completes.
type Result struct {
	HitsRead uint64
	Events   uint64
	Clusters uint64
	Windows  uint64
}

// Store is a run catalogue backed by a SQLite file.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens or creates the catalogue at path and applies pending
// migrations. A nil clock uses the wall clock.
func Open(path string, clock timeutil.Clock) (*Store, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening run store %s: %w", path, err)
	}
	// One writer at a time; parallel runs queue on busy_timeout.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, clock: clock}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: that would close db.
	m.Log = migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+strings.TrimSuffix(format, "\n"), v...)
}

func (migrateLogger) Verbose() bool { return false }

// Start records a new running entry and returns its ID. ID, Status and
// StartedAt in r are ignored.
func (s *Store) Start(ctx context.Context, r Run) (string, error) {
	id := uuid.NewString()
	now := s.clock.Now().UTC()
	err := s.retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO runs (run_id, tool, input_dir, output_dir, settings, version, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, r.Tool, r.InputDir, r.OutputDir, r.Settings, r.Version, StatusRunning, now.UnixNano())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("recording run start: %w", err)
	}
	return id, nil
}

// Finish marks run id complete with its counters.
func (s *Store) Finish(ctx context.Context, id string, res Result) error {
	return s.finish(ctx, id, StatusComplete, res, "")
}

// Fail marks run id failed with cause. Counters gathered before the
// failure may be passed in res.
func (s *Store) Fail(ctx context.Context, id string, res Result, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.finish(ctx, id, StatusFailed, res, msg)
}

func (s *Store) finish(ctx context.Context, id, status string, res Result, msg string) error {
	now := s.clock.Now().UTC()
	var n int64
	err := s.retryOnBusy(func() error {
		out, err := s.db.ExecContext(ctx, `
			UPDATE runs SET status = ?, finished_at = ?, hits_read = ?, events = ?,
				clusters = ?, windows = ?, error = ?
			WHERE run_id = ?`,
			status, now.UnixNano(), int64(res.HitsRead), int64(res.Events),
			int64(res.Clusters), int64(res.Windows), msg, id)
		if err != nil {
			return err
		}
		n, err = out.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("recording run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

const runColumns = `run_id, tool, input_dir, output_dir, settings, version, status,
	started_at, finished_at, hits_read, events, clusters, windows, error`

// Get returns run id.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// Filter narrows List.
type Filter struct {
	Tool     string
	InputDir string
	Status   string
	Limit    int // <= 0 means no limit
}

// List returns matching runs, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if f.Tool != "" {
		where = append(where, "tool = ?")
		args = append(args, f.Tool)
	}
	if f.InputDir != "" {
		where = append(where, "input_dir = ?")
		args = append(args, f.InputDir)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	q := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at DESC, run_id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LastComplete returns the most recent complete run of tool over inputDir.
func (s *Store) LastComplete(ctx context.Context, tool, inputDir string) (Run, error) {
	runs, err := s.List(ctx, Filter{Tool: tool, InputDir: inputDir, Status: StatusComplete, Limit: 1})
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNotFound
	}
	return runs[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                               Run
		started                         int64
		finished                        sql.NullInt64
		hits, events, clusters, windows int64
	)
	err := sc.Scan(&r.ID, &r.Tool, &r.InputDir, &r.OutputDir, &r.Settings, &r.Version, &r.Status,
		&started, &finished, &hits, &events, &clusters, &windows, &r.Error)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		r.FinishedAt = time.Unix(0, finished.Int64).UTC()
	}
	r.HitsRead, r.Events = uint64(hits), uint64(events)
	r.Clusters, r.Windows = uint64(clusters), uint64(windows)
	return r, nil
}
