// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     history
// Description: SQLite store of finished cleanup runs
// Author:      Mike Stoffels
// Created:     2025-12-09
// License:     MIT
// ============================================================================

// Package history persists cleanup runs so operators can see how previous
// teardowns went.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/msto63/emubench/internal/cleanup"
)

// ErrNotFound is returned when a run id is unknown
var ErrNotFound = errors.New("cleanup run not found")

// Filter selects runs from the store
type Filter struct {
	Trigger cleanup.Trigger
	Outcome cleanup.Outcome
	Since   time.Time
	Limit   int
}

// Store is a SQLite-backed cleanup.Recorder
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps in-memory databases shared.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cleanup_runs (
		id TEXT PRIMARY KEY,
		cause TEXT NOT NULL,
		outcome TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		timeout_ns INTEGER NOT NULL,
		steps TEXT NOT NULL,
		emergency_steps TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON cleanup_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_outcome ON cleanup_runs(outcome);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores a finished run
func (s *Store) Record(ctx context.Context, run *cleanup.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}
	var emergency []byte
	if len(run.EmergencySteps) > 0 {
		if emergency, err = json.Marshal(run.EmergencySteps); err != nil {
			return fmt.Errorf("failed to encode emergency steps: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cleanup_runs (id, cause, outcome, started_at, finished_at, timeout_ns, steps, emergency_steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, string(run.Trigger), string(run.Outcome), run.StartedAt.UTC(), run.FinishedAt.UTC(),
		int64(run.Timeout), string(steps), nullable(emergency))
	if err != nil {
		return fmt.Errorf("failed to insert cleanup run: %w", err)
	}
	return nil
}

// List returns runs matching filter, newest first
func (s *Store) List(ctx context.Context, filter Filter) ([]*cleanup.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, cause, outcome, started_at, finished_at, timeout_ns, steps, emergency_steps
		FROM cleanup_runs WHERE 1=1`
	var args []interface{}

	if filter.Trigger != "" {
		query += " AND cause = ?"
		args = append(args, string(filter.Trigger))
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cleanup runs: %w", err)
	}
	defer rows.Close()

	var runs []*cleanup.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns the run with id
func (s *Store) Get(ctx context.Context, id string) (*cleanup.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, cause, outcome, started_at, finished_at, timeout_ns, steps, emergency_steps
		FROM cleanup_runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// Stats counts runs per outcome
func (s *Store) Stats(ctx context.Context) (map[cleanup.Outcome]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM cleanup_runs GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[cleanup.Outcome]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats[cleanup.Outcome(outcome)] = count
	}
	return stats, rows.Err()
}

// Prune deletes runs older than olderThan and returns how many were removed
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UTC()
	result, err := s.db.ExecContext(ctx, `DELETE FROM cleanup_runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cleanup runs: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*cleanup.Run, error) {
	var (
		run       cleanup.Run
		trigger   string
		outcome   string
		timeout   int64
		steps     string
		emergency sql.NullString
	)
	if err := row.Scan(&run.ID, &trigger, &outcome, &run.StartedAt, &run.FinishedAt, &timeout, &steps, &emergency); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan cleanup run: %w", err)
	}

	run.Trigger = cleanup.Trigger(trigger)
	run.Outcome = cleanup.Outcome(outcome)
	run.Timeout = time.Duration(timeout)
	if err := json.Unmarshal([]byte(steps), &run.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps of %s: %w", run.ID, err)
	}
	if emergency.Valid && emergency.String != "" {
		if err := json.Unmarshal([]byte(emergency.String), &run.EmergencySteps); err != nil {
			return nil, fmt.Errorf("failed to decode emergency steps of %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

func nullable(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
