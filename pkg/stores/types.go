package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AttemptStatus represents the lifecycle of a recorded installer attempt.
type AttemptStatus string

const (
	AttemptStatusRunning   AttemptStatus = "running"
	AttemptStatusSucceeded AttemptStatus = "succeeded"
	AttemptStatusFailed    AttemptStatus = "failed"
	// AttemptStatusContinued marks an attempt handed over to the
	// after-reboot continuation.
	AttemptStatusContinued AttemptStatus = "continued"
)

// Validate checks if the attempt status is valid.
func (s AttemptStatus) Validate() error {
	switch s {
	case AttemptStatusRunning, AttemptStatusSucceeded, AttemptStatusFailed, AttemptStatusContinued:
		return nil
	default:
		return fmt.Errorf("invalid attempt status: %s", s)
	}
}

// IsTerminal reports whether no further updates are expected.
func (s AttemptStatus) IsTerminal() bool {
	return s != AttemptStatusRunning
}

// EventLevel represents the severity of a recorded event.
type EventLevel string

const (
	EventLevelDebug EventLevel = "debug"
	EventLevelInfo  EventLevel = "info"
	EventLevelWarn  EventLevel = "warn"
	EventLevelError EventLevel = "error"
)

// Attempt is one invocation of a deploy, undeploy, or download action.
type Attempt struct {
	ID           string
	Product      string
	Version      string
	Action       string
	AfterReboot  bool
	Status       AttemptStatus
	Outcome      *string
	ExitCode     *int
	Error        *string
	LogPath      *string
	ResultFolder *string
	StartedAt    time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AttemptResult holds the fields written when an attempt completes.
type AttemptResult struct {
	Status   AttemptStatus
	Outcome  string
	ExitCode int
	Error    string
	LogPath  string
}

// ContinuationTask is the persisted view of a one-shot after-reboot task.
type ContinuationTask struct {
	Name        string
	AttemptID   *string
	Backend     string
	ScriptPath  string
	CommandLine string
	State       string
	ExitCode    int
	Output      *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Event is a timestamped note attached to an attempt.
type Event struct {
	ID        int64
	AttemptID *string
	Level     EventLevel
	Message   string
	Details   *string
	Timestamp time.Time
}

// Store defines the persistence operations of the installer history.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	CreateAttempt(ctx context.Context, attempt *Attempt) error
	GetAttempt(ctx context.Context, id string) (*Attempt, error)
	CompleteAttempt(ctx context.Context, id string, result AttemptResult) error
	ListAttempts(ctx context.Context, limit, offset int) ([]*Attempt, error)

	UpsertContinuationTask(ctx context.Context, task *ContinuationTask) error
	ListContinuationTasks(ctx context.Context, attemptID *string) ([]*ContinuationTask, error)

	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, attemptID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	HealthCheck(ctx context.Context) error
}

// nullString converts an empty string to a SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
