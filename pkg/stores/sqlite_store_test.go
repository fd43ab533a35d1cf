package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: MemoryPath,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newAttempt(id string) *Attempt {
	return &Attempt{
		ID:      id,
		Product: "productX",
		Version: "1.0.0",
		Action:  "deploy",
		Status:  AttemptStatusRunning,
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: MemoryPath,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}

	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestMigrateBeforeInit(t *testing.T) {
	store, _ := NewSQLiteStore(Config{Path: MemoryPath})
	if err := store.Migrate(context.Background()); err == nil {
		t.Fatal("expected error when migrating an unopened store")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"attempts", "continuation_tasks", "events"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations again is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}

func TestFileStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "installer.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	if err := store.CreateAttempt(ctx, newAttempt("a-1")); err != nil {
		t.Fatalf("failed to create attempt: %v", err)
	}
	_ = store.Close()

	reopened, _ := NewSQLiteStore(Config{Path: path})
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()
	if err := reopened.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate reopened store: %v", err)
	}

	if _, err := reopened.GetAttempt(ctx, "a-1"); err != nil {
		t.Errorf("attempt lost after reopen: %v", err)
	}
}

// TestAttemptCRUD tests attempt create, complete, and list
func TestAttemptCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	attempt := newAttempt("attempt-1")
	folder := "/tmp/result"
	attempt.ResultFolder = &folder
	attempt.AfterReboot = true
	if err := store.CreateAttempt(ctx, attempt); err != nil {
		t.Fatalf("failed to create attempt: %v", err)
	}

	got, err := store.GetAttempt(ctx, "attempt-1")
	if err != nil {
		t.Fatalf("failed to get attempt: %v", err)
	}
	if got.Product != "productX" || got.Version != "1.0.0" || !got.AfterReboot {
		t.Errorf("unexpected attempt: %+v", got)
	}
	if got.Status != AttemptStatusRunning {
		t.Errorf("Status = %s, want running", got.Status)
	}
	if got.ResultFolder == nil || *got.ResultFolder != folder {
		t.Errorf("ResultFolder = %v, want %s", got.ResultFolder, folder)
	}
	if got.CompletedAt != nil || got.ExitCode != nil {
		t.Error("running attempt must not have completion fields")
	}

	err = store.CompleteAttempt(ctx, "attempt-1", AttemptResult{
		Status:   AttemptStatusFailed,
		Outcome:  "FAILURE",
		ExitCode: 1,
		Error:    "boom",
		LogPath:  "/logs/deploy.log",
	})
	if err != nil {
		t.Fatalf("failed to complete attempt: %v", err)
	}

	got, err = store.GetAttempt(ctx, "attempt-1")
	if err != nil {
		t.Fatalf("failed to get attempt: %v", err)
	}
	if got.Status != AttemptStatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
	if got.Outcome == nil || *got.Outcome != "FAILURE" {
		t.Errorf("Outcome = %v", got.Outcome)
	}
	if got.ExitCode == nil || *got.ExitCode != 1 {
		t.Errorf("ExitCode = %v", got.ExitCode)
	}
	if got.LogPath == nil || *got.LogPath != "/logs/deploy.log" {
		t.Errorf("LogPath = %v", got.LogPath)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	if err := store.CompleteAttempt(ctx, "missing", AttemptResult{Status: AttemptStatusSucceeded}); err == nil {
		t.Error("expected error completing missing attempt")
	}
	if err := store.CompleteAttempt(ctx, "attempt-1", AttemptResult{Status: AttemptStatusRunning}); err == nil {
		t.Error("expected error for non-terminal status")
	}
	if _, err := store.GetAttempt(ctx, "missing"); err == nil {
		t.Error("expected error for missing attempt")
	}
}

func TestCreateAttemptValidatesStatus(t *testing.T) {
	store := setupTestStore(t)
	attempt := newAttempt("bad")
	attempt.Status = "paused"
	if err := store.CreateAttempt(context.Background(), attempt); err == nil {
		t.Fatal("expected error for invalid status")
	}
}

func TestListAttemptsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		a := newAttempt(id)
		a.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.CreateAttempt(ctx, a); err != nil {
			t.Fatalf("failed to create attempt: %v", err)
		}
	}

	attempts, err := store.ListAttempts(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("got %d attempts, want 2", len(attempts))
	}
	if attempts[0].ID != "third" || attempts[1].ID != "second" {
		t.Errorf("order = %s, %s", attempts[0].ID, attempts[1].ID)
	}

	attempts, err = store.ListAttempts(ctx, 10, 2)
	if err != nil {
		t.Fatalf("failed to list attempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].ID != "first" {
		t.Errorf("unexpected page: %v", attempts)
	}
}

func TestContinuationTaskUpsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	attemptID := "attempt-1"
	if err := store.CreateAttempt(ctx, newAttempt(attemptID)); err != nil {
		t.Fatalf("failed to create attempt: %v", err)
	}

	task := &ContinuationTask{
		Name:        "afterReboot-1",
		AttemptID:   &attemptID,
		Backend:     "systemd",
		ScriptPath:  "/var/lib/installer/afterReboot-1.sh",
		CommandLine: "froyo-installer deploy productX 1.0.0 --after-reboot",
		State:       "scheduling",
	}
	if err := store.UpsertContinuationTask(ctx, task); err != nil {
		t.Fatalf("failed to insert task: %v", err)
	}

	output := "Created symlink"
	task.State = "scheduled"
	task.Output = &output
	if err := store.UpsertContinuationTask(ctx, task); err != nil {
		t.Fatalf("failed to update task: %v", err)
	}

	tasks, err := store.ListContinuationTasks(ctx, &attemptID)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	got := tasks[0]
	if got.State != "scheduled" {
		t.Errorf("State = %s, want scheduled", got.State)
	}
	if got.Output == nil || *got.Output != output {
		t.Errorf("Output = %v", got.Output)
	}
	if got.Backend != "systemd" || got.ScriptPath != task.ScriptPath {
		t.Errorf("unexpected task: %+v", got)
	}

	other := "other"
	tasks, err = store.ListContinuationTasks(ctx, &other)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("got %d tasks for other attempt, want 0", len(tasks))
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	attemptID := "attempt-1"
	if err := store.CreateAttempt(ctx, newAttempt(attemptID)); err != nil {
		t.Fatalf("failed to create attempt: %v", err)
	}

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	events := []*Event{
		{AttemptID: &attemptID, Message: "started", Timestamp: base},
		{AttemptID: &attemptID, Level: EventLevelWarn, Message: "reboot required", Timestamp: base.Add(time.Second)},
		{Message: "unrelated", Timestamp: base.Add(2 * time.Second)},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == 0 {
			t.Error("event ID not set")
		}
	}
	if events[0].Level != EventLevelInfo {
		t.Errorf("default level = %s, want info", events[0].Level)
	}

	got, err := store.GetEvents(ctx, &attemptID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Message != "started" || got[1].Message != "reboot required" {
		t.Errorf("unexpected order: %s, %s", got[0].Message, got[1].Message)
	}

	warn := EventLevelWarn
	got, err = store.GetEvents(ctx, nil, &warn, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(got) != 1 || got[0].Message != "reboot required" {
		t.Errorf("level filter returned %v", got)
	}
}

func TestAttemptStatus(t *testing.T) {
	tests := []struct {
		status   AttemptStatus
		valid    bool
		terminal bool
	}{
		{AttemptStatusRunning, true, false},
		{AttemptStatusSucceeded, true, true},
		{AttemptStatusFailed, true, true},
		{AttemptStatusContinued, true, true},
		{AttemptStatus("unknown"), false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if err := tt.status.Validate(); (err == nil) != tt.valid {
				t.Errorf("Validate() error = %v, valid %v", err, tt.valid)
			}
			if tt.status.IsTerminal() != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", tt.status.IsTerminal(), tt.terminal)
			}
		})
	}
}
