// Package store persists the transition journal and terminal reports.
// Every phase transition is written before the next phase starts, so a
// crashed run leaves an inspectable trail.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ChamsBouzaiene/sitescout/internal/task"
)

// Transition is one journaled phase change.
type Transition struct {
	TaskID    string
	FromPhase string
	ToPhase   string
	Event     string
	Iteration int
	At        time.Time
}

// Store provides SQLite-backed persistence for tasks.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database and initializes the schema.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	// WAL mode allows a reader to inspect the journal while a run writes.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite does not support multiple writers well.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	-- Submitted tasks
	CREATE TABLE IF NOT EXISTS tasks (
		task_id    TEXT PRIMARY KEY,
		site_url   TEXT NOT NULL,
		goal       TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- Phase transition journal
	CREATE TABLE IF NOT EXISTS transitions (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id    TEXT NOT NULL,
		from_phase TEXT NOT NULL,
		to_phase   TEXT NOT NULL,
		event      TEXT NOT NULL,
		iteration  INTEGER NOT NULL,
		at_unix    INTEGER NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(task_id)
	);
	CREATE INDEX IF NOT EXISTS idx_transitions_task ON transitions(task_id);

	-- Terminal reports, one per task
	CREATE TABLE IF NOT EXISTS reports (
		task_id      TEXT PRIMARY KEY,
		success      INTEGER NOT NULL,
		degraded     INTEGER NOT NULL,
		reason       TEXT,
		phase        TEXT NOT NULL,
		iterations   INTEGER NOT NULL,
		sample_count INTEGER NOT NULL,
		payload      TEXT NOT NULL,
		created_at   INTEGER NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(task_id)
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// RegisterTask records a submitted task before its first transition.
func (s *Store) RegisterTask(ctx context.Context, t *task.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tasks (task_id, site_url, goal, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.SiteURL, t.Goal, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to register task: %w", err)
	}
	return nil
}

// RecordTransition journals one phase change.
func (s *Store) RecordTransition(ctx context.Context, taskID string, from, to task.Phase, event string, iteration int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (task_id, from_phase, to_phase, event, iteration, at_unix)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, string(from), string(to), event, iteration, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// Transitions returns the journal for a task in insertion order.
func (s *Store) Transitions(ctx context.Context, taskID string) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, from_phase, to_phase, event, iteration, at_unix
		 FROM transitions WHERE task_id = ? ORDER BY seq`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		var atUnix int64
		if err := rows.Scan(&tr.TaskID, &tr.FromPhase, &tr.ToPhase, &tr.Event, &tr.Iteration, &atUnix); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		tr.At = time.Unix(atUnix, 0)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// SaveReport persists the terminal report for a task. The full result is
// stored as JSON; the extracted columns serve listing queries.
func (s *Store) SaveReport(ctx context.Context, res *task.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	sampleCount := len(res.SampleData)
	if sampleCount == 0 {
		sampleCount = len(res.PartialSamples)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO reports
		 (task_id, success, degraded, reason, phase, iterations, sample_count, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.TaskID, boolToInt(res.Success), boolToInt(res.Degraded), string(res.Reason),
		string(res.Phase), res.IterationsUsed, sampleCount, string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// Report loads a persisted terminal report.
func (s *Store) Report(ctx context.Context, taskID string) (*task.Result, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM reports WHERE task_id = ?`, taskID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no report for task %s", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}

	var res task.Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &res, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
