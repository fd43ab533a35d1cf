package exitchannel

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is used when the watcher misses an event or cannot be created.
const DefaultPollInterval = 2 * time.Second

// Waiter blocks until a result folder receives its exit code.
type Waiter struct {
	logger       zerolog.Logger
	pollInterval time.Duration
}

// NewWaiter creates a waiter. A non-positive interval selects DefaultPollInterval.
func NewWaiter(logger zerolog.Logger, pollInterval time.Duration) *Waiter {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Waiter{
		logger:       logger.With().Str("component", "exit-waiter").Logger(),
		pollInterval: pollInterval,
	}
}

// Wait returns the exit code once exitcode.txt exists in folder. The folder
// does not have to exist yet. Filesystem notifications are used when the
// folder can be watched; the poll ticker covers everything else.
func (w *Waiter) Wait(ctx context.Context, folder string) (int, error) {
	if code, err := ReadExitCode(folder); !errors.Is(err, ErrNoExitCode) {
		return code, err
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn().Err(err).Msg("Failed to create watcher, polling only")
	} else {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(folder); err != nil {
			w.logger.Debug().Err(err).Str("folder", folder).Msg("Folder not watchable yet, polling")
		} else {
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	target := filepath.Clean(filepath.Join(folder, ExitCodeFile))

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if code, err := ReadExitCode(folder); !errors.Is(err, ErrNoExitCode) {
				return code, err
			}

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			w.logger.Warn().Err(err).Msg("Watcher error")

		case <-ticker.C:
			if code, err := ReadExitCode(folder); !errors.Is(err, ErrNoExitCode) {
				return code, err
			}
			if events == nil && watcher != nil {
				if err := watcher.Add(folder); err == nil {
					events = watcher.Events
					watchErrs = watcher.Errors
				}
			}
		}
	}
}

// Wait blocks with a default waiter.
func Wait(ctx context.Context, folder string, logger zerolog.Logger) (int, error) {
	return NewWaiter(logger, 0).Wait(ctx, folder)
}
