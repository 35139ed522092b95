// Package report persists evaluation runs so score drift across model or
// prompt changes stays visible.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Import the libSQL driver, which registers "libsql" with database/sql.
	// Handles remote URLs (libsql://, https://, wss://).
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	// Import the pure-Go SQLite driver for local file: URLs.
	// libsql-client-go delegates file: URLs to this driver.
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver to use. Package-level for testing
// only; production always uses "libsql".
var driverName = "libsql"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	dataset     TEXT NOT NULL,
	scorer      TEXT NOT NULL,
	model       TEXT NOT NULL,
	cases_total INTEGER NOT NULL,
	cases_failed INTEGER NOT NULL,
	mean_score  REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS case_scores (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      INTEGER NOT NULL REFERENCES runs(id),
	case_name   TEXT NOT NULL,
	difficulty  TEXT NOT NULL,
	score       REAL NOT NULL,
	completed   INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	final_answer TEXT NOT NULL DEFAULT ''
);
`

// CaseScore is the outcome of one fixture. Completed distinguishes a case
// that ran and scored (even 0.0) from one that failed to run at all.
type CaseScore struct {
	Name        string
	Difficulty  string
	Score       float64
	Completed   bool
	Error       string
	FinalAnswer string
}

// Run is one evaluation pass over a dataset.
type Run struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Dataset    string
	Scorer     string
	Model      string
	Cases      []CaseScore
}

// MeanScore averages over completed cases only; failed cases are counted
// separately so they cannot inflate or mask the score.
func (r Run) MeanScore() float64 {
	sum := 0.0
	n := 0
	for _, c := range r.Cases {
		if c.Completed {
			sum += c.Score
			n++
		}
	}
	if n == 0 {
		return 0.0
	}
	return sum / float64(n)
}

// FailedCount returns the number of cases that did not complete.
func (r Run) FailedCount() int {
	n := 0
	for _, c := range r.Cases {
		if !c.Completed {
			n++
		}
	}
	return n
}

// RunSummary is one row of run history.
type RunSummary struct {
	ID          int64
	StartedAt   time.Time
	FinishedAt  time.Time
	Dataset     string
	Scorer      string
	Model       string
	CasesTotal  int
	CasesFailed int
	MeanScore   float64
}

// Store persists runs to a libSQL database.
type Store struct {
	db *sql.DB
}

// Open connects to the report database and applies the schema.
//
// Supported URL schemes:
//
//	Local file:   "file:path/to/db.db"
//	Remote Turso: "libsql://[db-name].turso.io?authToken=[token]"
func Open(dbURL string) (*Store, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("report: database URL must not be empty")
	}
	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, fmt.Errorf("report: failed to open libsql: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: failed to connect to database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts the run and its case scores in one transaction and returns
// the run ID.
func (s *Store) SaveRun(ctx context.Context, run Run) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("report: begin: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO runs (started_at, finished_at, dataset, scorer, model, cases_total, cases_failed, mean_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.Dataset, run.Scorer, run.Model,
		len(run.Cases), run.FailedCount(), run.MeanScore(),
	)
	if err != nil {
		return 0, fmt.Errorf("report: insert run: %w", err)
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("report: run id: %w", err)
	}

	for _, c := range run.Cases {
		completed := 0
		if c.Completed {
			completed = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO case_scores (run_id, case_name, difficulty, score, completed, error, final_answer)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, c.Name, c.Difficulty, c.Score, completed, c.Error, c.FinalAnswer,
		); err != nil {
			return 0, fmt.Errorf("report: insert case %q: %w", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("report: commit: %w", err)
	}
	return runID, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, dataset, scorer, model, cases_total, cases_failed, mean_score
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("report: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Dataset, &r.Scorer, &r.Model,
			&r.CasesTotal, &r.CasesFailed, &r.MeanScore); err != nil {
			return nil, fmt.Errorf("report: scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CaseScores returns the per-case rows of one run in insertion order.
func (s *Store) CaseScores(ctx context.Context, runID int64) ([]CaseScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT case_name, difficulty, score, completed, error, final_answer
		 FROM case_scores WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("report: case scores: %w", err)
	}
	defer rows.Close()

	var out []CaseScore
	for rows.Next() {
		var c CaseScore
		var completed int
		if err := rows.Scan(&c.Name, &c.Difficulty, &c.Score, &completed, &c.Error, &c.FinalAnswer); err != nil {
			return nil, fmt.Errorf("report: scan case: %w", err)
		}
		c.Completed = completed != 0
		out = append(out, c)
	}
	return out, rows.Err()
}
