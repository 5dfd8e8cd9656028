// Package store persists orchestration state in a sqlite database:
// terminal session metadata, per-session command history, and
// background task definitions. Live processes are never persisted;
// on restart sessions come back as closed history and tasks come back
// registered but stopped.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SessionRecord is one row of terminal session metadata.
type SessionRecord struct {
	ID           string
	Name         string
	WorkingDir   string
	State        string
	CreatedAt    time.Time
	LastActivity time.Time
}

// CommandRecord is one completed (or interrupted) command block.
type CommandRecord struct {
	ID          string
	SessionID   string
	Seq         int
	Command     string
	Output      string
	ExitCode    int
	Status      string
	StartedAt   time.Time
	CompletedAt time.Time
}

// TaskRecord is one background task definition, keyed by name.
type TaskRecord struct {
	Name       string
	ID         string
	Command    string
	WorkingDir string
	Env        map[string]string
	Policy     string
	Restarts   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates
// the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		"PRAGMA foreign_keys = ON;",
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			working_dir TEXT,
			state TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_activity TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS command_history (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			command TEXT NOT NULL,
			output TEXT NOT NULL,
			exit_code INTEGER NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_command_history_session
			ON command_history(session_id, seq);`,
		`CREATE TABLE IF NOT EXISTS task_definitions (
			name TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			command TEXT NOT NULL,
			working_dir TEXT,
			env TEXT,
			policy TEXT NOT NULL,
			restarts INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("migrate store schema: %w", err)
		}
	}
	return nil
}

// SaveSession inserts or updates a session row.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions(id, name, working_dir, state, created_at, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   working_dir = excluded.working_dir,
		   state = excluded.state,
		   last_activity = excluded.last_activity`,
		rec.ID,
		rec.Name,
		nullIfEmpty(rec.WorkingDir),
		rec.State,
		formatTime(rec.CreatedAt),
		formatTime(rec.LastActivity),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// TouchSession updates a session's state and last-activity time.
func (s *Store) TouchSession(ctx context.Context, id, state string, at time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET state = ?, last_activity = ? WHERE id = ?`,
		state,
		formatTime(at),
		id,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// CloseSession marks a session row closed.
func (s *Store) CloseSession(ctx context.Context, id string, at time.Time) error {
	return s.TouchSession(ctx, id, "closed", at)
}

// Sessions returns all session rows in creation order.
func (s *Store) Sessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, working_dir, state, created_at, last_activity
		 FROM sessions
		 ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make([]SessionRecord, 0)
	for rows.Next() {
		var (
			rec         SessionRecord
			workingDir  sql.NullString
			createdRaw  string
			activityRaw string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &workingDir, &rec.State, &createdRaw, &activityRaw); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.WorkingDir = workingDir.String

		if rec.CreatedAt, err = parseTime(createdRaw); err != nil {
			return nil, fmt.Errorf("parse session created_at: %w", err)
		}
		if rec.LastActivity, err = parseTime(activityRaw); err != nil {
			return nil, fmt.Errorf("parse session last_activity: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return result, nil
}

// AppendCommand records one finished command block.
func (s *Store) AppendCommand(ctx context.Context, rec CommandRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO command_history(id, session_id, seq, command, output, exit_code, status, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.SessionID,
		rec.Seq,
		rec.Command,
		rec.Output,
		rec.ExitCode,
		rec.Status,
		formatTime(rec.StartedAt),
		nullIfZeroTime(rec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("append command: %w", err)
	}
	return nil
}

// SessionHistory returns a session's command blocks in issue order.
func (s *Store) SessionHistory(ctx context.Context, sessionID string) ([]CommandRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, session_id, seq, command, output, exit_code, status, started_at, completed_at
		 FROM command_history
		 WHERE session_id = ?
		 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query command history: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make([]CommandRecord, 0)
	for rows.Next() {
		var (
			rec          CommandRecord
			startedRaw   string
			completedRaw sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.Seq,
			&rec.Command,
			&rec.Output,
			&rec.ExitCode,
			&rec.Status,
			&startedRaw,
			&completedRaw,
		); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}

		if rec.StartedAt, err = parseTime(startedRaw); err != nil {
			return nil, fmt.Errorf("parse command started_at: %w", err)
		}
		if completedRaw.Valid {
			if rec.CompletedAt, err = parseTime(completedRaw.String); err != nil {
				return nil, fmt.Errorf("parse command completed_at: %w", err)
			}
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate command history: %w", err)
	}
	return result, nil
}

// SaveTask inserts or updates a task definition keyed by name.
func (s *Store) SaveTask(ctx context.Context, rec TaskRecord) error {
	env, err := encodeEnv(rec.Env)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO task_definitions(name, id, command, working_dir, env, policy, restarts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   id = excluded.id,
		   command = excluded.command,
		   working_dir = excluded.working_dir,
		   env = excluded.env,
		   policy = excluded.policy,
		   restarts = excluded.restarts,
		   updated_at = excluded.updated_at`,
		rec.Name,
		rec.ID,
		rec.Command,
		nullIfEmpty(rec.WorkingDir),
		env,
		rec.Policy,
		rec.Restarts,
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// DeleteTask removes a task definition by name.
func (s *Store) DeleteTask(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_definitions WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// UpdateTaskRestarts records a task's lifetime restart counter.
func (s *Store) UpdateTaskRestarts(ctx context.Context, name string, restarts int, at time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE task_definitions SET restarts = ?, updated_at = ? WHERE name = ?`,
		restarts,
		formatTime(at),
		name,
	)
	if err != nil {
		return fmt.Errorf("update task restarts: %w", err)
	}
	return nil
}

// Task returns one task definition by name.
func (s *Store) Task(ctx context.Context, name string) (TaskRecord, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT name, id, command, working_dir, env, policy, restarts, created_at, updated_at
		 FROM task_definitions
		 WHERE name = ?`,
		name,
	)

	rec, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskRecord{}, false, nil
	}
	if err != nil {
		return TaskRecord{}, false, err
	}
	return rec, true, nil
}

// Tasks returns all task definitions in creation order.
func (s *Store) Tasks(ctx context.Context) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT name, id, command, working_dir, env, policy, restarts, created_at, updated_at
		 FROM task_definitions
		 ORDER BY created_at ASC, name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := make([]TaskRecord, 0)
	for rows.Next() {
		rec, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return result, nil
}

func scanTask(scan func(...any) error) (TaskRecord, error) {
	var (
		rec        TaskRecord
		workingDir sql.NullString
		env        sql.NullString
		createdRaw string
		updatedRaw string
	)

	err := scan(
		&rec.Name,
		&rec.ID,
		&rec.Command,
		&workingDir,
		&env,
		&rec.Policy,
		&rec.Restarts,
		&createdRaw,
		&updatedRaw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TaskRecord{}, err
		}
		return TaskRecord{}, fmt.Errorf("scan task: %w", err)
	}

	rec.WorkingDir = workingDir.String
	if env.Valid && env.String != "" {
		if err := json.Unmarshal([]byte(env.String), &rec.Env); err != nil {
			return TaskRecord{}, fmt.Errorf("decode task env: %w", err)
		}
	}

	if rec.CreatedAt, err = parseTime(createdRaw); err != nil {
		return TaskRecord{}, fmt.Errorf("parse task created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedRaw); err != nil {
		return TaskRecord{}, fmt.Errorf("parse task updated_at: %w", err)
	}
	return rec, nil
}

func encodeEnv(env map[string]string) (any, error) {
	if len(env) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode task env: %w", err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
