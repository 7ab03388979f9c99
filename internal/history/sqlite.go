// Package history keeps a local SQLite ledger of scan runs and unsubscribe
// attempts. It is write-mostly: nothing in a scan consults it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Attempt is one recorded dispatch, or a would-be dispatch in dry-run mode.
type Attempt struct {
	RunID      int64
	MessageID  string
	Href       string
	Tag        string
	StatusCode int
	OK         bool
	DryRun     bool
	Error      string
	At         time.Time
}

// Run summarizes a finished scan.
type Run struct {
	ID         int64
	Filter     string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Listed     int
	Scanned    int
	Links      int
	Succeeded  int
	Error      string
}

// Totals aggregates all recorded attempts.
type Totals struct {
	Runs      int
	Attempts  int
	Succeeded int
}

// Store is the SQLite-backed ledger.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	filter      TEXT NOT NULL DEFAULT '',
	dry_run     INTEGER NOT NULL DEFAULT 0,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT '',
	listed      INTEGER NOT NULL DEFAULT 0,
	scanned     INTEGER NOT NULL DEFAULT 0,
	links       INTEGER NOT NULL DEFAULT 0,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS attempts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      INTEGER NOT NULL REFERENCES runs(id),
	message_id  TEXT NOT NULL,
	href        TEXT NOT NULL,
	tag         TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	ok          INTEGER NOT NULL DEFAULT 0,
	dry_run     INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	at          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS attempts_run_id ON attempts(run_id);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun inserts a run row and returns its ID.
func (s *Store) BeginRun(ctx context.Context, filter string, dryRun bool, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (filter, dry_run, started_at) VALUES (?, ?, ?)",
		filter, boolInt(dryRun), formatTime(at))
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun stores the final counters of a run.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?, listed = ?, scanned = ?, links = ?, succeeded = ?, error = ?
		WHERE id = ?
	`, formatTime(run.FinishedAt), run.Listed, run.Scanned, run.Links, run.Succeeded, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("update run %d: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run %d: no such run", run.ID)
	}
	return nil
}

// RecordAttempt appends a to the ledger.
func (s *Store) RecordAttempt(ctx context.Context, a Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (run_id, message_id, href, tag, status_code, ok, dry_run, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.RunID, a.MessageID, a.Href, a.Tag, a.StatusCode, boolInt(a.OK), boolInt(a.DryRun), a.Error, formatTime(a.At))
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// RecentAttempts returns up to limit attempts, newest first.
func (s *Store) RecentAttempts(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, message_id, href, tag, status_code, ok, dry_run, error, at
		FROM attempts ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a          Attempt
			ok, dryRun int
			at         string
		)
		if err := rows.Scan(&a.RunID, &a.MessageID, &a.Href, &a.Tag, &a.StatusCode, &ok, &dryRun, &a.Error, &at); err != nil {
			return nil, err
		}
		a.OK, a.DryRun = ok != 0, dryRun != 0
		a.At = parseTime(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecentRuns returns up to limit runs, newest first. A run still in
// progress, or one that was interrupted, has a zero FinishedAt.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filter, dry_run, started_at, finished_at, listed, scanned, links, succeeded, error
		FROM runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			dryRun            int
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Filter, &dryRun, &started, &finished,
			&r.Listed, &r.Scanned, &r.Links, &r.Succeeded, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.DryRun = dryRun != 0
		r.StartedAt, r.FinishedAt = parseTime(started), parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Totals counts runs and non-dry-run attempts.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&t.Runs); err != nil {
		return Totals{}, err
	}
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(ok), 0) FROM attempts WHERE dry_run = 0").Scan(&t.Attempts, &t.Succeeded)
	if err != nil {
		return Totals{}, err
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
