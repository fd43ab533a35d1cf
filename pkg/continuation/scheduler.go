// Package continuation schedules a deployment to resume after a host restart.
//
// When the engine reports that a reboot is needed, the scheduler writes a
// one-shot script that repeats the deploy call with --after-reboot, registers
// it with the native OS scheduler to run at the next system start, and then
// restarts the host. The script removes its own registration and deletes
// itself on first run. If that cleanup fails the task leaks, which is
// tolerated.
package continuation

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/installer/pkg/outcome"
)

// Task is a continuation registered (or attempted) with the OS scheduler.
type Task struct {
	Name        string    `json:"name"`
	AttemptID   string    `json:"attempt_id,omitempty"`
	Backend     string    `json:"backend"`
	ScriptPath  string    `json:"script_path"`
	CommandLine string    `json:"command_line"`
	State       State     `json:"state"`
	ExitCode    int       `json:"exit_code"`
	Output      string    `json:"output,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (t *Task) transition(to State) error {
	if !t.State.CanTransitionTo(to) {
		return fmt.Errorf("invalid continuation transition %s -> %s", t.State, to)
	}
	t.State = to
	return nil
}

// Recorder persists continuation tasks. Recording failures are logged only.
type Recorder interface {
	RecordContinuationTask(ctx context.Context, task *Task) error
	UpdateContinuationTask(ctx context.Context, task *Task) error
}

// Rebooter restarts the host.
type Rebooter interface {
	Reboot(ctx context.Context) error
}

// CommandRebooter restarts the host with the shutdown command.
type CommandRebooter struct {
	Runner CommandRunner
	GOOS   string
}

// Reboot implements Rebooter.
func (r CommandRebooter) Reboot(ctx context.Context) error {
	runner := r.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	args := []string{"-r", "now"}
	if r.GOOS == "windows" {
		args = []string{"/r", "/t", "0"}
	}
	if out, err := runner.Run(ctx, "shutdown", args...); err != nil {
		return fmt.Errorf("shutdown failed: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Config configures a Scheduler.
type Config struct {
	Backend  Backend
	Rebooter Rebooter
	Recorder Recorder

	// ScriptDir receives continuation scripts. Required; it must survive a
	// host restart.
	ScriptDir string

	// Exit terminates the process after the restart was requested. Defaults to os.Exit.
	Exit func(code int)

	Logger zerolog.Logger
	Tracer trace.Tracer
	Now    func() time.Time
}

// Scheduler registers reboot continuations.
type Scheduler struct {
	backend   Backend
	rebooter  Rebooter
	recorder  Recorder
	scriptDir string
	exit      func(code int)
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	// mu serializes name generation with the clock so names stay unique
	// even when the clock does not advance between calls.
	mu       sync.Mutex
	lastName string
}

// NewScheduler creates a scheduler. When cfg.Backend is nil the backend for
// the running OS is used.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.ScriptDir == "" {
		return nil, fmt.Errorf("script directory is required")
	}

	s := &Scheduler{
		backend:   cfg.Backend,
		rebooter:  cfg.Rebooter,
		recorder:  cfg.Recorder,
		scriptDir: cfg.ScriptDir,
		exit:      cfg.Exit,
		logger:    cfg.Logger.With().Str("component", "continuation").Logger(),
		tracer:    cfg.Tracer,
		now:       cfg.Now,
	}
	if s.backend == nil {
		b, err := NewBackend(runtime.GOOS, ExecRunner{}, BackendOptions{})
		if err != nil {
			return nil, err
		}
		s.backend = b
	}
	if s.rebooter == nil {
		s.rebooter = CommandRebooter{GOOS: s.backend.GOOS()}
	}
	if s.exit == nil {
		s.exit = os.Exit
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("froyo-installer/continuation")
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Backend returns the scheduler backend.
func (s *Scheduler) Backend() Backend {
	return s.backend
}

// NewTaskName returns "afterReboot-<unixnano>-<8 hex>". The random suffix
// keeps names distinct when the clock resolution is coarse.
func NewTaskName(at time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("afterReboot-%d-%s", at.UnixNano(), hex.EncodeToString(id[:4]))
}

func (s *Scheduler) nextName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		name := NewTaskName(s.now())
		if name != s.lastName {
			s.lastName = name
			return name
		}
	}
}

// Schedule writes the continuation script and registers it. It returns the
// exit code of the registration command; any non-zero code leaves the task in
// StateSchedulingFailed, removes the script, and returns a scheduling error.
func (s *Scheduler) Schedule(ctx context.Context, attemptID string, inv Invocation) (*Task, int, error) {
	ctx, span := s.tracer.Start(ctx, "continuation.schedule", trace.WithAttributes(
		attribute.String("backend", s.backend.Name()),
		attribute.String("product", inv.Product),
		attribute.String("version", inv.Version),
	))
	defer span.End()

	if inv.Executable == "" || inv.Product == "" || inv.Version == "" {
		err := outcome.NewArgumentError("continuation requires executable, product and version", nil)
		span.RecordError(err)
		return nil, -1, err
	}

	name := s.nextName()
	task := &Task{
		Name:        name,
		AttemptID:   attemptID,
		Backend:     s.backend.Name(),
		ScriptPath:  filepath.Join(s.scriptDir, name+s.backend.ScriptExt()),
		CommandLine: inv.CommandLine(s.backend.GOOS()),
		State:       StateIdle,
		CreatedAt:   s.now(),
	}
	_ = task.transition(StateScheduling)

	logger := s.loggerFrom(ctx).With().Str("task", task.Name).Str("backend", task.Backend).Logger()

	script := s.backend.RenderScript(task, task.CommandLine)
	if err := os.MkdirAll(s.scriptDir, 0o755); err != nil {
		return s.fail(ctx, span, logger, task, -1, fmt.Errorf("failed to create script directory: %w", err))
	}
	if err := os.WriteFile(task.ScriptPath, []byte(script), 0o755); err != nil {
		return s.fail(ctx, span, logger, task, -1, fmt.Errorf("failed to write continuation script: %w", err))
	}

	s.record(ctx, logger, task)

	out, err := s.backend.Register(ctx, task)
	task.Output = strings.TrimSpace(string(out))
	task.ExitCode = ExitCodeOf(err)
	logger.Info().
		Int("exit_code", task.ExitCode).
		Str("output", task.Output).
		Msg("Task registration finished")

	if task.ExitCode != 0 {
		return s.fail(ctx, span, logger, task, task.ExitCode, err)
	}

	_ = task.transition(StateScheduled)
	s.update(ctx, logger, task)
	logger.Info().Str("script", task.ScriptPath).Msg("Continuation scheduled")
	return task, 0, nil
}

func (s *Scheduler) fail(ctx context.Context, span trace.Span, logger zerolog.Logger, task *Task, code int, cause error) (*Task, int, error) {
	task.ExitCode = code
	_ = task.transition(StateSchedulingFailed)
	s.Cleanup(task)
	s.update(ctx, logger, task)

	err := outcome.NewSchedulingError(
		fmt.Sprintf("can't create task %s (exit code %d)", task.Name, code), cause,
	).WithCode(outcome.ErrCodeRegistration)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error().Err(err).Msg("Continuation scheduling failed")
	return task, code, err
}

// ScheduleAndReboot schedules the continuation and, when registration
// succeeds, calls beforeReboot(0), restarts the host, and exits the process.
// When registration fails the host is not restarted and the registration
// exit code is returned. The return value is only observable with a
// non-terminating Exit func.
func (s *Scheduler) ScheduleAndReboot(ctx context.Context, attemptID string, inv Invocation, beforeReboot func(code int)) int {
	task, code, err := s.Schedule(ctx, attemptID, inv)
	if err != nil {
		if code == 0 {
			code = -1
		}
		return code
	}
	return s.Reboot(ctx, task, beforeReboot)
}

// Reboot restarts the host for a scheduled task and exits the process.
// beforeReboot runs first with exit code 0; nothing runs after the exit.
func (s *Scheduler) Reboot(ctx context.Context, task *Task, beforeReboot func(code int)) int {
	if beforeReboot != nil {
		beforeReboot(outcome.ExitOK)
	}

	if err := task.transition(StateRebooting); err != nil {
		s.logger.Warn().Err(err).Str("task", task.Name).Msg("Unexpected continuation state")
	}
	s.update(ctx, s.logger, task)

	s.logger.Warn().Str("task", task.Name).Msg("Restarting host")
	if err := s.rebooter.Reboot(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Host restart request failed")
	}

	s.exit(outcome.ExitOK)
	return outcome.ExitOK
}

// loggerFrom returns the logger attached to ctx with zerolog's WithContext,
// falling back to the scheduler logger.
func (s *Scheduler) loggerFrom(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l.With().Str("component", "continuation").Logger()
	}
	return s.logger
}

// Cleanup removes the script of a task. Missing files are ignored.
func (s *Scheduler) Cleanup(task *Task) {
	if task == nil || task.ScriptPath == "" {
		return
	}
	if err := os.Remove(task.ScriptPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("script", task.ScriptPath).Msg("Failed to remove continuation script")
	}
}

func (s *Scheduler) record(ctx context.Context, logger zerolog.Logger, task *Task) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordContinuationTask(ctx, task); err != nil {
		logger.Warn().Err(err).Msg("Failed to record continuation task")
	}
}

func (s *Scheduler) update(ctx context.Context, logger zerolog.Logger, task *Task) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.UpdateContinuationTask(ctx, task); err != nil {
		logger.Warn().Err(err).Msg("Failed to update continuation task")
	}
}
