package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/installer/pkg/stores"
)

func writeConfig(t *testing.T, site string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "installer.yaml")
	content := "site_data_dir: " + site + "\nengine:\n  command: /opt/froyo/engine\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func seedAttempt(t *testing.T, dbPath string) string {
	t.Helper()
	ctx := context.Background()

	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	require.NoError(t, err)
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	defer store.Close()

	id := "3f2b8c1e-5d7a-4e0b-9c62-1a2b3c4d5e6f"
	require.NoError(t, store.CreateAttempt(ctx, &stores.Attempt{
		ID:        id,
		Product:   "productX",
		Version:   "1.0.0",
		Action:    "deploy",
		Status:    stores.AttemptStatusRunning,
		StartedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.CompleteAttempt(ctx, id, stores.AttemptResult{
		Status:   stores.AttemptStatusFailed,
		Outcome:  "FAILED",
		ExitCode: 2,
		Error:    "deploying failed",
		LogPath:  "/var/log/froyo/run.log",
	}))
	details := "exit code 2"
	require.NoError(t, store.AppendEvent(ctx, &stores.Event{
		AttemptID: &id,
		Level:     stores.EventLevelError,
		Message:   "productX-1.0.0 deploying failed",
		Details:   &details,
	}))
	return id
}

func TestHistoryShowsAttemptEvents(t *testing.T) {
	site := t.TempDir()
	id := seedAttempt(t, filepath.Join(site, "installer.db"))

	code, stdout, _ := runCommand(t, "history", id, "--config", writeConfig(t, site))
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "productX-1.0.0")
	assert.Contains(t, stdout, "log    /var/log/froyo/run.log")
	assert.Contains(t, stdout, "error  deploying failed")
	assert.Contains(t, stdout, "productX-1.0.0 deploying failed (exit code 2)")
}

func TestHistoryUnknownAttempt(t *testing.T) {
	site := t.TempDir()
	seedAttempt(t, filepath.Join(site, "installer.db"))

	code, _, _ := runCommand(t, "history", "missing", "--config", writeConfig(t, site))
	assert.Equal(t, 2, code)
}
