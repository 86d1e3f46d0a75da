// Package runinfo is the experiment-tracking record: one row per run and an
// append-only metric sequence filled in at every summary interval.
package runinfo

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	directory  TEXT NOT NULL UNIQUE,
	comment    TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_metrics (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id             TEXT NOT NULL,
	step               INTEGER NOT NULL,
	mean_mae_train     REAL NOT NULL,
	mean_mae_best      REAL NOT NULL,
	mean_log_mae_train REAL NOT NULL,
	mean_log_mae_best  REAL NOT NULL,
	created_at         TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// #region types

// Run is one tracked training run.
type Run struct {
	RunID     string
	Directory string
	Comment   string
	CreatedAt time.Time
}

// MetricRow is one summary-interval sample.
type MetricRow struct {
	Step            int
	MeanMAETrain    float64
	MeanMAEBest     float64
	MeanLogMAETrain float64
	MeanLogMAEBest  float64
	CreatedAt       time.Time
}

// #endregion types

// #region store

// Store manages the run-info database.
type Store struct {
	db *sql.DB
}

// NewStore opens the SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("runinfo: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("runinfo: pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("runinfo: pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("runinfo: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureRun returns the run ID registered for directory, creating the row on
// first use so restarted runs keep appending to the same metric sequence.
func (s *Store) EnsureRun(directory, comment string) (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT run_id FROM runs WHERE directory = ?`, directory).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("runinfo: look up run: %w", err)
	}
	id = uuid.New().String()
	_, err = s.db.Exec(
		`INSERT INTO runs (run_id, directory, comment, created_at) VALUES (?, ?, ?, ?)`,
		id, directory, comment, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("runinfo: register run: %w", err)
	}
	return id, nil
}

// AppendMetrics appends one summary-interval sample for the run.
func (s *Store) AppendMetrics(runID string, row MetricRow) error {
	created := row.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO run_metrics (run_id, step, mean_mae_train, mean_mae_best, mean_log_mae_train, mean_log_mae_best, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, row.Step, row.MeanMAETrain, row.MeanMAEBest,
		row.MeanLogMAETrain, row.MeanLogMAEBest,
		created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("runinfo: append metrics: %w", err)
	}
	return nil
}

// Metrics returns the run's samples in step order, newest last. A limit of 0
// returns all rows, otherwise the newest limit rows.
func (s *Store) Metrics(runID string, limit int) ([]MetricRow, error) {
	query := `SELECT step, mean_mae_train, mean_mae_best, mean_log_mae_train, mean_log_mae_best, created_at
		FROM run_metrics WHERE run_id = ? ORDER BY step`
	args := []any{runID}
	if limit > 0 {
		query = `SELECT * FROM (
			SELECT step, mean_mae_train, mean_mae_best, mean_log_mae_train, mean_log_mae_best, created_at
			FROM run_metrics WHERE run_id = ? ORDER BY step DESC LIMIT ?
		) ORDER BY step`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("runinfo: query metrics: %w", err)
	}
	defer rows.Close()

	var out []MetricRow
	for rows.Next() {
		var r MetricRow
		var created string
		if err := rows.Scan(&r.Step, &r.MeanMAETrain, &r.MeanMAEBest, &r.MeanLogMAETrain, &r.MeanLogMAEBest, &created); err != nil {
			return nil, fmt.Errorf("runinfo: scan metrics: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Runs lists all tracked runs, newest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT run_id, directory, COALESCE(comment, ''), created_at FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("runinfo: query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var created string
		if err := rows.Scan(&r.RunID, &r.Directory, &r.Comment, &created); err != nil {
			return nil, fmt.Errorf("runinfo: scan run: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion store
