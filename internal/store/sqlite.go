package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"henkan/internal/session"
)

// ErrRunNotFound is returned for an unknown quality run id.
var ErrRunNotFound = errors.New("store: quality run not found")

// DefaultBusyTimeout is used when Open is given a non-positive timeout.
const DefaultBusyTimeout = 5 * time.Second

// Store is the SQLite database behind henkan.
type Store struct {
	db *sql.DB
}

var _ session.HistoryStore = (*Store)(nil)

// Open opens or creates the SQLite database at the given path and runs
// migrations.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for maintenance commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// LoadHistory implements session.HistoryStore.
func (s *Store) LoadHistory() ([]session.HistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT reading, word, count, last_used FROM history
		ORDER BY reading, word`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []session.HistoryEntry
	for rows.Next() {
		var e session.HistoryEntry
		var lastUsed int64
		if err := rows.Scan(&e.Reading, &e.Word, &e.Count, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.LastUsed = time.Unix(0, lastUsed)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddHistory implements session.HistoryStore. Counts accumulate, so
// sessions sharing the store never overwrite each other's learning. The
// batch is applied atomically.
func (s *Store) AddHistory(entries []session.HistoryEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO history (reading, word, count, last_used)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (reading, word) DO UPDATE SET
			count = history.count + excluded.count,
			last_used = MAX(history.last_used, excluded.last_used)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if e.Reading == "" || e.Word == "" {
			return fmt.Errorf("add history: empty reading or word in %+v", e)
		}
		if _, err := stmt.Exec(e.Reading, e.Word, e.Count, e.LastUsed.UnixNano()); err != nil {
			return fmt.Errorf("add history %q: %w", e.Reading, err)
		}
	}

	return tx.Commit()
}

// ClearHistory removes all learned conversions.
func (s *Store) ClearHistory() error {
	_, err := s.db.Exec("DELETE FROM history")
	return err
}

// RecordRun stores a finished quality run with its results. A run without
// an id is given a new one.
func (s *Store) RecordRun(run *QualityRun, results []QualityResult) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CaseCount == 0 {
		run.CaseCount = len(results)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO quality_runs (id, label, started_at, finished_at, case_count)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Label, run.StartedAt.UnixNano(), nullTime(run.FinishedAt), run.CaseCount,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO quality_results (run_id, source, input, expected, output, score, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range results {
		results[i].RunID = run.ID
		r := results[i]
		if _, err := stmt.Exec(r.RunID, r.Source, r.Input, r.Expected, r.Output, r.Score, nullString(r.Error)); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
	}

	return tx.Commit()
}

// Runs returns quality runs, newest first.
func (s *Store) Runs(limit int) ([]QualityRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, label, started_at, finished_at, case_count FROM quality_runs
		ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []QualityRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Run returns a single quality run.
func (s *Store) Run(id string) (*QualityRun, error) {
	row := s.db.QueryRow(`
		SELECT id, label, started_at, finished_at, case_count FROM quality_runs
		WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*QualityRun, error) {
	var run QualityRun
	var label sql.NullString
	var started int64
	var finished sql.NullInt64
	if err := row.Scan(&run.ID, &label, &started, &finished, &run.CaseCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Label = label.String
	run.StartedAt = time.Unix(0, started)
	if finished.Valid {
		run.FinishedAt = time.Unix(0, finished.Int64)
	}
	return &run, nil
}

// Results returns the results of a run in insertion order.
func (s *Store) Results(runID string) ([]QualityResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id, source, input, expected, output, score, error FROM quality_results
		WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []QualityResult
	for rows.Next() {
		var r QualityResult
		var errText sql.NullString
		if err := rows.Scan(&r.RunID, &r.Source, &r.Input, &r.Expected, &r.Output, &r.Score, &errText); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Error = errText.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// SourceScores returns the per-source mean score of a run, sorted by source.
// Failed cases are not scored.
func (s *Store) SourceScores(runID string) ([]SourceScore, error) {
	if _, err := s.Run(runID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`
		SELECT source, COUNT(*), AVG(score) FROM quality_results
		WHERE run_id = ? AND error IS NULL GROUP BY source ORDER BY source`, runID)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	var scores []SourceScore
	for rows.Next() {
		var sc SourceScore
		if err := rows.Scan(&sc.Source, &sc.Cases, &sc.Mean); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

// DeleteRun removes a run and its results.
func (s *Store) DeleteRun(id string) error {
	res, err := s.db.Exec("DELETE FROM quality_runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
