// Package storage persists gradient runs in a local SQLite database so
// they can be listed, re-plotted and exported later.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/san-kum/odesens/internal/ode"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	model      TEXT NOT NULL,
	algorithm  TEXT NOT NULL,
	abs_tol    REAL NOT NULL,
	rel_tol    REAL NOT NULL,
	elapsed_ms REAL NOT NULL,
	loss       REAL,
	du0        TEXT NOT NULL,
	dp         TEXT NOT NULL,
	warnings   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

// Run is one stored gradient computation.
type Run struct {
	ID        string
	CreatedAt time.Time
	Model     string
	Algorithm string
	AbsTol    float64
	RelTol    float64
	Elapsed   time.Duration
	Loss      float64
	LossKnown bool
	DU0       ode.State
	DP        ode.Params
	Warnings  []string
}

type Store struct {
	db *sql.DB
}

// Open creates the database (and its parent directory) if needed and
// applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Save inserts the run, assigning an ID and timestamp when absent, and
// returns the ID.
func (s *Store) Save(run *Run) (string, error) {
	if run.ID == "" {
		run.ID = newRunID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	du0, err := json.Marshal(run.DU0)
	if err != nil {
		return "", fmt.Errorf("encoding du0: %w", err)
	}
	dp, err := json.Marshal(run.DP)
	if err != nil {
		return "", fmt.Errorf("encoding dp: %w", err)
	}
	warnings, err := json.Marshal(run.Warnings)
	if err != nil {
		return "", fmt.Errorf("encoding warnings: %w", err)
	}

	loss := sql.NullFloat64{Float64: run.Loss, Valid: run.LossKnown}
	_, err = s.db.Exec(`INSERT INTO runs
		(run_id, created_at, model, algorithm, abs_tol, rel_tol, elapsed_ms, loss, du0, dp, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.Format(time.RFC3339Nano), run.Model, run.Algorithm,
		run.AbsTol, run.RelTol, float64(run.Elapsed)/float64(time.Millisecond),
		loss, string(du0), string(dp), string(warnings))
	if err != nil {
		return "", fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	return run.ID, nil
}

const runColumns = "run_id, created_at, model, algorithm, abs_tol, rel_tol, elapsed_ms, loss, du0, dp, warnings"

func scanRun(scan func(...any) error) (*Run, error) {
	var (
		run       Run
		createdAt string
		elapsedMs float64
		loss      sql.NullFloat64
		du0, dp   string
		warnings  string
	)
	if err := scan(&run.ID, &createdAt, &run.Model, &run.Algorithm,
		&run.AbsTol, &run.RelTol, &elapsedMs, &loss, &du0, &dp, &warnings); err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	run.CreatedAt = t
	run.Elapsed = time.Duration(elapsedMs * float64(time.Millisecond))
	run.Loss, run.LossKnown = loss.Float64, loss.Valid

	if err := json.Unmarshal([]byte(du0), &run.DU0); err != nil {
		return nil, fmt.Errorf("decoding du0: %w", err)
	}
	if err := json.Unmarshal([]byte(dp), &run.DP); err != nil {
		return nil, fmt.Errorf("decoding dp: %w", err)
	}
	if err := json.Unmarshal([]byte(warnings), &run.Warnings); err != nil {
		return nil, fmt.Errorf("decoding warnings: %w", err)
	}
	return &run, nil
}

// Load retrieves one run by ID.
func (s *Store) Load(id string) (*Run, error) {
	row := s.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE run_id = ?", id)
	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ode.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	return run, nil
}

// List returns all runs, newest first.
func (s *Store) List() ([]*Run, error) {
	rows, err := s.db.Query("SELECT " + runColumns + " FROM runs ORDER BY created_at DESC, run_id DESC")
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Delete removes a run; deleting a missing run is an ErrNotFound.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec("DELETE FROM runs WHERE run_id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: run %s", ode.ErrNotFound, id)
	}
	return nil
}
