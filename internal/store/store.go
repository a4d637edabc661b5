// Package store keeps a SQLite history of runs and per-feed outcomes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	mode TEXT,
	config TEXT,
	feeds INTEGER,
	failed INTEGER,
	rows_input INTEGER,
	rows_kept INTEGER,
	started_at DATETIME,
	finished_at DATETIME
);
CREATE TABLE IF NOT EXISTS feed_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT REFERENCES runs(id),
	feed_id TEXT,
	path TEXT,
	outcome TEXT,
	duplicate_of TEXT,
	worker INTEGER,
	rows_input INTEGER,
	rows_kept INTEGER,
	duplicates INTEGER,
	filtered INTEGER,
	cross_feed_duplicates INTEGER,
	error TEXT
);
CREATE INDEX IF NOT EXISTS feed_results_run ON feed_results(run_id);
`

// Store is an open run history database
type Store struct {
	db *sql.DB
}

// Run is one row of the run history
type Run struct {
	ID         string
	Mode       string
	Feeds      int
	Failed     int
	RowsInput  int64
	RowsKept   int64
	StartedAt  time.Time
	FinishedAt time.Time
}

// Open opens (and if needed creates) the database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveReport records a run and its feed results in one transaction
func (s *Store) SaveReport(ctx context.Context, r *model.Report) error {
	cfgJSON, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, mode, config, feeds, failed, rows_input, rows_kept, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Mode, string(cfgJSON), r.Totals.Feeds, r.Totals.Outcomes[model.OutcomeFailed],
		r.Totals.Rows.Input, r.Totals.Rows.Kept, r.StartedAt.UTC(), r.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO feed_results (run_id, feed_id, path, outcome, duplicate_of, worker,
		 rows_input, rows_kept, duplicates, filtered, cross_feed_duplicates, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare feed insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range r.Feeds {
		t := f.Totals()
		if _, err := stmt.ExecContext(ctx, r.RunID, f.FeedID, f.Path, string(f.Outcome), f.DuplicateOf, f.Worker,
			t.Input, t.Kept, t.Duplicates, t.Filtered, t.CrossFeedDuplicates, f.Error); err != nil {
			return fmt.Errorf("insert feed %s: %w", f.FeedID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first, at most limit (0 = all)
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, mode, feeds, failed, rows_input, rows_kept, started_at, finished_at
		FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Mode, &r.Feeds, &r.Failed, &r.RowsInput, &r.RowsKept, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// FeedOutcomes returns feed_id -> outcome for one run
func (s *Store) FeedOutcomes(ctx context.Context, runID string) (map[string]model.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT feed_id, outcome FROM feed_results WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query feed results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]model.Outcome)
	for rows.Next() {
		var id, outcome string
		if err := rows.Scan(&id, &outcome); err != nil {
			return nil, fmt.Errorf("scan feed result: %w", err)
		}
		out[id] = model.Outcome(outcome)
	}
	return out, rows.Err()
}
