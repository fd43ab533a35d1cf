package continuation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/installer/pkg/outcome"
)

type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e *exitError) ExitCode() int { return e.code }

type fakeCommandRunner struct {
	mu     sync.Mutex
	calls  []string
	output string
	err    error
}

func (f *fakeCommandRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := name
	if len(args) > 0 {
		cmd += " " + strings.Join(args, " ")
	}
	f.calls = append(f.calls, cmd)
	return []byte(f.output), f.err
}

type fakeRebooter struct {
	calls int
	err   error
}

func (f *fakeRebooter) Reboot(context.Context) error {
	f.calls++
	return f.err
}

type fakeRecorder struct {
	recorded []Task
	updated  []Task
}

func (f *fakeRecorder) RecordContinuationTask(_ context.Context, task *Task) error {
	f.recorded = append(f.recorded, *task)
	return nil
}

func (f *fakeRecorder) UpdateContinuationTask(_ context.Context, task *Task) error {
	f.updated = append(f.updated, *task)
	return nil
}

type harness struct {
	scheduler *Scheduler
	runner    *fakeCommandRunner
	rebooter  *fakeRebooter
	recorder  *fakeRecorder
	exits     []int
	dir       string
}

func setupScheduler(t *testing.T, runner *fakeCommandRunner, now func() time.Time) *harness {
	t.Helper()
	h := &harness{
		runner:   runner,
		rebooter: &fakeRebooter{},
		recorder: &fakeRecorder{},
		dir:      t.TempDir(),
	}
	backend, err := NewBackend("windows", runner, BackendOptions{})
	require.NoError(t, err)

	h.scheduler, err = NewScheduler(Config{
		Backend:   backend,
		Rebooter:  h.rebooter,
		Recorder:  h.recorder,
		ScriptDir: h.dir,
		Exit:      func(code int) { h.exits = append(h.exits, code) },
		Logger:    zerolog.Nop(),
		Now:       now,
	})
	require.NoError(t, err)
	return h
}

func testInvocation() Invocation {
	return Invocation{
		Executable:   `C:\Program Files\froyo\froyo-installer.exe`,
		Product:      "productX",
		Version:      "1.0.0",
		ResultFolder: `C:\results`,
	}
}

func TestScheduleSuccess(t *testing.T) {
	h := setupScheduler(t, &fakeCommandRunner{output: "SUCCESS: task created"}, nil)

	task, code, err := h.scheduler.Schedule(context.Background(), "attempt-1", testInvocation())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, StateScheduled, task.State)
	assert.Equal(t, "SUCCESS: task created", task.Output)
	assert.Equal(t, "attempt-1", task.AttemptID)

	require.Len(t, h.runner.calls, 1)
	call := h.runner.calls[0]
	assert.True(t, strings.HasPrefix(call, "schtasks /Create /ru System /tn "+task.Name+" /sc ONSTART /tr "))
	assert.True(t, strings.HasSuffix(call, "/rl highest"))

	script, err := os.ReadFile(task.ScriptPath)
	require.NoError(t, err)
	body := string(script)
	assert.Contains(t, body, `"C:\Program Files\froyo\froyo-installer.exe" deploy productX 1.0.0 --after-reboot --silent --result-folder C:\results`)
	assert.Contains(t, body, "schtasks /delete /tn "+task.Name+" /f")
	assert.Contains(t, body, `(goto) 2>nul & del "%~f0"`)

	require.Len(t, h.recorder.recorded, 1)
	assert.Equal(t, StateScheduling, h.recorder.recorded[0].State)
	require.NotEmpty(t, h.recorder.updated)
	assert.Equal(t, StateScheduled, h.recorder.updated[len(h.recorder.updated)-1].State)
}

func TestScheduleFailureDoesNotReboot(t *testing.T) {
	runner := &fakeCommandRunner{output: "ERROR: Access is denied.", err: &exitError{code: 5}}
	h := setupScheduler(t, runner, nil)

	code := h.scheduler.ScheduleAndReboot(context.Background(), "attempt-2", testInvocation(), func(int) {
		t.Fatal("beforeReboot must not run when registration fails")
	})
	assert.Equal(t, 5, code)
	assert.Zero(t, h.rebooter.calls)
	assert.Empty(t, h.exits)

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed registration removes the script")

	last := h.recorder.updated[len(h.recorder.updated)-1]
	assert.Equal(t, StateSchedulingFailed, last.State)
	assert.Equal(t, 5, last.ExitCode)
}

func TestScheduleFailureError(t *testing.T) {
	runner := &fakeCommandRunner{err: &exitError{code: 1}}
	h := setupScheduler(t, runner, nil)

	task, code, err := h.scheduler.Schedule(context.Background(), "", testInvocation())
	require.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Equal(t, StateSchedulingFailed, task.State)
	assert.True(t, outcome.IsScheduling(err))
}

func TestScheduleCommandNotFound(t *testing.T) {
	runner := &fakeCommandRunner{err: errors.New("executable file not found")}
	h := setupScheduler(t, runner, nil)

	_, code, err := h.scheduler.Schedule(context.Background(), "", testInvocation())
	require.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestScheduleAndRebootOrder(t *testing.T) {
	h := setupScheduler(t, &fakeCommandRunner{}, nil)

	var order []string
	h.scheduler.rebooter = rebootFunc(func(context.Context) error {
		order = append(order, "reboot")
		return nil
	})
	h.scheduler.exit = func(code int) {
		order = append(order, fmt.Sprintf("exit %d", code))
	}

	code := h.scheduler.ScheduleAndReboot(context.Background(), "a", testInvocation(), func(code int) {
		order = append(order, fmt.Sprintf("before %d", code))
	})
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"before 0", "reboot", "exit 0"}, order)

	last := h.recorder.updated[len(h.recorder.updated)-1]
	assert.Equal(t, StateRebooting, last.State)
}

func TestScheduleAndRebootExitsWhenRestartFails(t *testing.T) {
	h := setupScheduler(t, &fakeCommandRunner{}, nil)
	h.rebooter.err = errors.New("privilege not held")

	code := h.scheduler.ScheduleAndReboot(context.Background(), "a", testInvocation(), nil)
	assert.Equal(t, 0, code)
	assert.Equal(t, 1, h.rebooter.calls)
	assert.Equal(t, []int{0}, h.exits)
}

type rebootFunc func(context.Context) error

func (f rebootFunc) Reboot(ctx context.Context) error { return f(ctx) }

func TestTaskNamesDistinctWithFrozenClock(t *testing.T) {
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := setupScheduler(t, &fakeCommandRunner{}, func() time.Time { return frozen })

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		task, _, err := h.scheduler.Schedule(context.Background(), "", testInvocation())
		require.NoError(t, err)
		assert.False(t, seen[task.Name], "duplicate task name %s", task.Name)
		seen[task.Name] = true
		assert.True(t, strings.HasPrefix(task.Name, fmt.Sprintf("afterReboot-%d-", frozen.UnixNano())))
	}
}

func TestScheduleLogsToContextLogger(t *testing.T) {
	h := setupScheduler(t, &fakeCommandRunner{}, nil)

	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())
	_, _, err := h.scheduler.Schedule(ctx, "a", testInvocation())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Continuation scheduled")
	assert.Contains(t, buf.String(), `"component":"continuation"`)
}

func TestNewSchedulerRequiresScriptDir(t *testing.T) {
	backend, err := NewBackend("linux", &fakeCommandRunner{}, BackendOptions{UnitDir: t.TempDir()})
	require.NoError(t, err)

	_, err = NewScheduler(Config{Backend: backend, Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestScheduleRejectsIncompleteInvocation(t *testing.T) {
	h := setupScheduler(t, &fakeCommandRunner{}, nil)

	_, _, err := h.scheduler.Schedule(context.Background(), "", Invocation{Product: "p", Version: "1"})
	assert.True(t, outcome.IsArgument(err))
	assert.Empty(t, h.runner.calls)
}

func TestCommandRebooter(t *testing.T) {
	runner := &fakeCommandRunner{}
	require.NoError(t, CommandRebooter{Runner: runner, GOOS: "windows"}.Reboot(context.Background()))
	require.NoError(t, CommandRebooter{Runner: runner, GOOS: "linux"}.Reboot(context.Background()))
	assert.Equal(t, []string{"shutdown /r /t 0", "shutdown -r now"}, runner.calls)

	runner.err = &exitError{code: 1}
	assert.Error(t, CommandRebooter{Runner: runner, GOOS: "linux"}.Reboot(context.Background()))
}

func TestScriptIsWrittenToScriptDir(t *testing.T) {
	h := setupScheduler(t, &fakeCommandRunner{}, nil)
	task, _, err := h.scheduler.Schedule(context.Background(), "", testInvocation())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.dir, task.Name+".bat"), task.ScriptPath)
}

func TestRebootAfterSeparateSchedule(t *testing.T) {
	h := setupScheduler(t, &fakeCommandRunner{}, nil)

	task, code, err := h.scheduler.Schedule(context.Background(), "a", testInvocation())
	require.NoError(t, err)
	require.Equal(t, 0, code)
	assert.Equal(t, 0, h.rebooter.calls)

	var before []int
	assert.Equal(t, 0, h.scheduler.Reboot(context.Background(), task, func(code int) { before = append(before, code) }))
	assert.Equal(t, []int{0}, before)
	assert.Equal(t, 1, h.rebooter.calls)
	assert.Equal(t, []int{0}, h.exits)
	assert.Equal(t, StateRebooting, task.State)
}
