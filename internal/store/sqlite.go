// Package store keeps the run history of epggen commands in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the SQLite database at dbPath and runs migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Run Operations
// ============================================================================

// CreateRun inserts a new Run and sets its ID
func (s *Store) CreateRun(run *Run) error {
	const query = `
		INSERT INTO runs (
			command, start_time, end_time, matched, unmatched, programmes, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if run.Status == "" {
		run.Status = RunRunning
	}
	result, err := s.db.Exec(
		query,
		run.Command, run.StartTime, nullTime(run.EndTime), run.Matched,
		run.Unmatched, run.Programmes, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// FinishRun stores the outcome of a run. A non-nil runErr marks it failed.
func (s *Store) FinishRun(run *Run, runErr error) error {
	const query = `
		UPDATE runs SET
			end_time = ?, matched = ?, unmatched = ?, programmes = ?, status = ?, error_message = ?
		WHERE id = ?
	`

	if run.EndTime.IsZero() {
		run.EndTime = time.Now()
	}
	run.Status = RunSuccess
	if runErr != nil {
		run.Status = RunFailed
		run.ErrorMessage = runErr.Error()
	}

	result, err := s.db.Exec(
		query,
		run.EndTime, run.Matched, run.Unmatched, run.Programmes,
		run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %d", run.ID)
	}

	return nil
}

// ListRuns retrieves runs newest first, optionally filtered by command
func (s *Store) ListRuns(command string, limit int) ([]Run, error) {
	query := `
		SELECT id, command, start_time, end_time, matched, unmatched, programmes,
		       status, COALESCE(error_message, '')
		FROM runs
	`
	var args []interface{}

	if command != "" {
		query += " WHERE command = ?"
		args = append(args, command)
	}

	query += " ORDER BY start_time DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run := Run{}
		var end sql.NullTime
		err := rows.Scan(
			&run.ID, &run.Command, &run.StartTime, &end,
			&run.Matched, &run.Unmatched, &run.Programmes,
			&run.Status, &run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if end.Valid {
			run.EndTime = end.Time
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ============================================================================
// FetchFailure Operations
// ============================================================================

// RecordFetchFailure stores a failed cache key, bumping the failure count of
// an existing record for the same provider and key.
func (s *Store) RecordFetchFailure(rec *FetchFailure) error {
	if rec.LastFailure.IsZero() {
		rec.LastFailure = time.Now()
	}
	if rec.FirstFailure.IsZero() {
		rec.FirstFailure = rec.LastFailure
	}

	const updateQuery = `
		UPDATE fetch_failures
		SET error = ?, attempts = ?, failure_count = failure_count + 1, last_failure = ?,
		    url = COALESCE(NULLIF(?, ''), url),
		    cache_path = COALESCE(NULLIF(?, ''), cache_path)
		WHERE provider = ? AND cache_key = ?
	`

	result, err := s.db.Exec(
		updateQuery,
		rec.Error, rec.Attempts, rec.LastFailure,
		rec.URL, rec.CachePath,
		rec.Provider, rec.CacheKey,
	)
	if err != nil {
		return fmt.Errorf("failed to update fetch failure: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		return nil
	}

	const insertQuery = `
		INSERT INTO fetch_failures (
			provider, cache_key, url, cache_path, error, attempts,
			failure_count, first_failure, last_failure
		) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
	`

	result, err = s.db.Exec(
		insertQuery,
		rec.Provider, rec.CacheKey, rec.URL, rec.CachePath, rec.Error,
		rec.Attempts, rec.FirstFailure, rec.LastFailure,
	)
	if err != nil {
		return fmt.Errorf("failed to add fetch failure: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	rec.FailureCount = 1
	return nil
}

// ListFetchFailures retrieves fetch failures, most recent first
func (s *Store) ListFetchFailures(provider string, limit int) ([]FetchFailure, error) {
	query := `
		SELECT id, provider, cache_key, COALESCE(url, ''), COALESCE(cache_path, ''),
		       COALESCE(error, ''), attempts, failure_count, first_failure, last_failure
		FROM fetch_failures
	`
	var args []interface{}

	if provider != "" {
		query += " WHERE provider = ?"
		args = append(args, provider)
	}

	query += " ORDER BY last_failure DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetch failures: %w", err)
	}
	defer rows.Close()

	var records []FetchFailure
	for rows.Next() {
		rec := FetchFailure{}
		err := rows.Scan(
			&rec.ID, &rec.Provider, &rec.CacheKey, &rec.URL, &rec.CachePath,
			&rec.Error, &rec.Attempts, &rec.FailureCount,
			&rec.FirstFailure, &rec.LastFailure,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fetch failure: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fetch failures: %w", err)
	}

	return records, nil
}

// ClearFetchFailures removes failure records last seen before cutoff
func (s *Store) ClearFetchFailures(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM fetch_failures WHERE last_failure < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clear fetch failures: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
