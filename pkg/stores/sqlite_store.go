package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode for file databases.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if s.cfg.Path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateAttempt creates a new attempt record
func (s *SQLiteStore) CreateAttempt(ctx context.Context, attempt *Attempt) error {
	if err := attempt.Status.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = now
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = now
	}
	if attempt.UpdatedAt.IsZero() {
		attempt.UpdatedAt = now
	}

	query := `
		INSERT INTO attempts (
			id, product, version, action, after_reboot, status, outcome, exit_code,
			error, log_path, result_folder, started_at, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.Product,
		attempt.Version,
		attempt.Action,
		attempt.AfterReboot,
		attempt.Status,
		attempt.Outcome,
		attempt.ExitCode,
		attempt.Error,
		attempt.LogPath,
		attempt.ResultFolder,
		attempt.StartedAt,
		attempt.CompletedAt,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}

	return nil
}

const attemptColumns = `id, product, version, action, after_reboot, status, outcome, exit_code,
			error, log_path, result_folder, started_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	attempt := &Attempt{}
	err := row.Scan(
		&attempt.ID,
		&attempt.Product,
		&attempt.Version,
		&attempt.Action,
		&attempt.AfterReboot,
		&attempt.Status,
		&attempt.Outcome,
		&attempt.ExitCode,
		&attempt.Error,
		&attempt.LogPath,
		&attempt.ResultFolder,
		&attempt.StartedAt,
		&attempt.CompletedAt,
		&attempt.CreatedAt,
		&attempt.UpdatedAt,
	)
	return attempt, err
}

// GetAttempt retrieves an attempt by ID
func (s *SQLiteStore) GetAttempt(ctx context.Context, id string) (*Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM attempts WHERE id = ?`

	attempt, err := scanAttempt(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attempt not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	return attempt, nil
}

// CompleteAttempt stores the final status, outcome, and exit code of an attempt
func (s *SQLiteStore) CompleteAttempt(ctx context.Context, id string, result AttemptResult) error {
	if err := result.Status.Validate(); err != nil {
		return err
	}
	if !result.Status.IsTerminal() {
		return fmt.Errorf("attempt status %s is not terminal", result.Status)
	}

	query := `
		UPDATE attempts
		SET status = ?, outcome = ?, exit_code = ?, error = ?,
			log_path = COALESCE(?, log_path), completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, query,
		result.Status,
		nullString(result.Outcome),
		result.ExitCode,
		nullString(result.Error),
		nullString(result.LogPath),
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete attempt: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("attempt not found: %s", id)
	}

	return nil
}

// ListAttempts lists attempts, newest first
func (s *SQLiteStore) ListAttempts(ctx context.Context, limit, offset int) ([]*Attempt, error) {
	query := `SELECT ` + attemptColumns + `
		FROM attempts
		ORDER BY started_at DESC, created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []*Attempt{}
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}

	return attempts, nil
}

// UpsertContinuationTask inserts a continuation task or updates its state
func (s *SQLiteStore) UpsertContinuationTask(ctx context.Context, task *ContinuationTask) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	query := `
		INSERT INTO continuation_tasks (
			name, attempt_id, backend, script_path, command_line, state,
			exit_code, output, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			state = excluded.state,
			exit_code = excluded.exit_code,
			output = excluded.output,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		task.Name,
		task.AttemptID,
		task.Backend,
		task.ScriptPath,
		task.CommandLine,
		task.State,
		task.ExitCode,
		task.Output,
		task.CreatedAt,
		task.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert continuation task: %w", err)
	}

	return nil
}

const taskColumns = `name, attempt_id, backend, script_path, command_line, state,
			exit_code, output, created_at, updated_at`

func scanTask(row rowScanner) (*ContinuationTask, error) {
	task := &ContinuationTask{}
	err := row.Scan(
		&task.Name,
		&task.AttemptID,
		&task.Backend,
		&task.ScriptPath,
		&task.CommandLine,
		&task.State,
		&task.ExitCode,
		&task.Output,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	return task, err
}

// ListContinuationTasks lists continuation tasks, optionally for one attempt
func (s *SQLiteStore) ListContinuationTasks(ctx context.Context, attemptID *string) ([]*ContinuationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM continuation_tasks WHERE 1=1`
	args := []interface{}{}

	if attemptID != nil {
		query += " AND attempt_id = ?"
		args = append(args, *attemptID)
	}

	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list continuation tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*ContinuationTask{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan continuation task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating continuation tasks: %w", err)
	}

	return tasks, nil
}

// AppendEvent appends a new event
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	query := `
		INSERT INTO events (attempt_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.AttemptID,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filtering, oldest first
func (s *SQLiteStore) GetEvents(ctx context.Context, attemptID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `SELECT id, attempt_id, level, message, details, timestamp FROM events WHERE 1=1`
	args := []interface{}{}

	if attemptID != nil {
		query += " AND attempt_id = ?"
		args = append(args, *attemptID)
	}
	if level != nil {
		query += " AND level = ?"
		args = append(args, *level)
	}

	query += " ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.AttemptID,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}

	return nil
}
