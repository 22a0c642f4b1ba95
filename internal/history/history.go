// Package history stores run results in a local SQLite database so gate
// outcomes can be reviewed after the fact.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/cigate/internal/errors"
)

// FileName is the database file inside the state dir.
const FileName = "history.db"

// RunRecord is one orchestrated run of a workflow.
type RunRecord struct {
	ID       string
	Workflow string
	Event    string
	Status   string
	Start    time.Time
	End      time.Time
	Jobs     []JobRecord
}

// Duration returns the run's wall-clock time.
func (r RunRecord) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// JobRecord is one job instance of a run.
type JobRecord struct {
	Name     string
	Status   string
	Duration time.Duration
	Error    string
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	workflow    TEXT NOT NULL,
	event       TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow, started_at);
CREATE TABLE IF NOT EXISTS jobs (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, seq)
);`

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create history directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to open history database", err)
	}
	// one writer; concurrent runs serialise on the pool
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a run and its jobs atomically.
func (s *Store) Record(ctx context.Context, rec RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, workflow, event, status, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Workflow, rec.Event, rec.Status, rec.Start.UnixMilli(), rec.End.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rec.ID, err)
	}

	for i, j := range rec.Jobs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO jobs (run_id, seq, name, status, duration_ms, error) VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, i, j.Name, j.Status, j.Duration.Milliseconds(), j.Error)
		if err != nil {
			return fmt.Errorf("insert job %s: %w", j.Name, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit runs, newest first. An empty workflow
// matches every workflow.
func (s *Store) Recent(ctx context.Context, workflow string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow, event, status, started_at, finished_at FROM runs
		 WHERE ? = '' OR workflow = ?
		 ORDER BY started_at DESC, id DESC LIMIT ?`,
		workflow, workflow, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var start, end int64
		if err := rows.Scan(&r.ID, &r.Workflow, &r.Event, &r.Status, &start, &end); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Start = time.UnixMilli(start).UTC()
		r.End = time.UnixMilli(end).UTC()
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range runs {
		jobs, err := s.jobs(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Jobs = jobs
	}
	return runs, nil
}

func (s *Store) jobs(ctx context.Context, runID string) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, status, duration_ms, error FROM jobs WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var j JobRecord
		var ms int64
		if err := rows.Scan(&j.Name, &j.Status, &ms, &j.Error); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Duration = time.Duration(ms) * time.Millisecond
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
