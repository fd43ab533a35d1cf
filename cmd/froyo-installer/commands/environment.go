package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/installer/pkg/config"
	"github.com/openfroyo/installer/pkg/continuation"
	"github.com/openfroyo/installer/pkg/engine"
	"github.com/openfroyo/installer/pkg/installer"
	"github.com/openfroyo/installer/pkg/progress"
	"github.com/openfroyo/installer/pkg/stores"
	"github.com/openfroyo/installer/pkg/telemetry"
)

// environment is everything a command needs to talk to the engine.
type environment struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	store     *stores.SQLiteStore
	engine    *engine.ProcessEngine
	streams   *progress.Streams
}

func newEnvironment(ctx context.Context, opts *globalOptions, streams *progress.Streams, info BuildInfo) (*environment, error) {
	settings, err := config.Load(config.LoadOptions{Path: opts.configPath})
	if err != nil {
		return nil, err
	}

	tcfg := settings.Telemetry(info.Version)
	tel, err := telemetry.NewTelemetry(tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if tcfg.Logging.Output == "" || tcfg.Logging.Output == "stderr" {
		// A running attempt captures installer logs together with the engine output.
		tel.Logger = telemetry.NewLoggerTo(streams.Stderr(), tcfg.Logging)
	}

	env := &environment{
		settings:  settings,
		telemetry: tel,
		logger:    tel.Logger.Zerolog(),
		streams:   streams,
	}

	if err := os.MkdirAll(settings.SiteDataDir, 0o755); err != nil {
		env.close(ctx)
		return nil, fmt.Errorf("failed to create working folder: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: settings.DatabasePath})
	if err != nil {
		env.close(ctx)
		return nil, err
	}
	env.store = store
	if err := store.Init(ctx); err != nil {
		env.close(ctx)
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		env.close(ctx)
		return nil, err
	}
	if err := store.HealthCheck(ctx); err != nil {
		env.close(ctx)
		return nil, err
	}

	env.engine, err = engine.NewProcessEngine(engine.ProcessConfig{
		Command:        settings.Engine.Command,
		Args:           settings.Engine.Args,
		SiteDataDir:    settings.SiteDataDir,
		PortableDir:    settings.PortableDir,
		ProductListURL: settings.ProductListURL,
		Logger:         env.logger,
		Tracer:         tel.Tracer.Tracer(),
	})
	if err != nil {
		env.close(ctx)
		return nil, err
	}

	return env, nil
}

func (e *environment) scheduler() (*continuation.Scheduler, error) {
	runner := continuation.ExecRunner{}
	backend, err := continuation.NewBackend(runtime.GOOS, runner, continuation.BackendOptions{
		LegacyScheduler: e.settings.LegacyScheduler,
	})
	if err != nil {
		return nil, err
	}
	return continuation.NewScheduler(continuation.Config{
		Backend:   backend,
		Rebooter:  continuation.CommandRebooter{Runner: runner, GOOS: runtime.GOOS},
		Recorder:  installer.TaskRecorder{Store: e.store},
		ScriptDir: e.settings.ScriptDir,
		Exit:      e.exit,
		Logger:    e.logger,
		Tracer:    e.telemetry.Tracer.Tracer(),
	})
}

func (e *environment) runner() *progress.Runner {
	return progress.NewRunner(progress.Config{
		LogsDir: e.settings.LogsDir,
		Streams: e.streams,
		Logger:  e.logger,
		Tracer:  e.telemetry.Tracer.Tracer(),
	})
}

// exit flushes telemetry before the process is terminated by the scheduler.
func (e *environment) exit(code int) {
	e.close(context.Background())
	os.Exit(code)
}

func (e *environment) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var errs []error
	if e.store != nil {
		errs = append(errs, e.store.Close())
		e.store = nil
	}
	if e.telemetry != nil {
		errs = append(errs, e.telemetry.Shutdown(ctx))
		e.telemetry = nil
	}
	if err := errors.Join(errs...); err != nil {
		e.logger.Warn().Err(err).Msg("Shutdown incomplete")
	}
}
