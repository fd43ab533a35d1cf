package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/installer/pkg/continuation"
	"github.com/openfroyo/installer/pkg/engine"
	"github.com/openfroyo/installer/pkg/exitchannel"
	"github.com/openfroyo/installer/pkg/outcome"
	"github.com/openfroyo/installer/pkg/progress"
	"github.com/openfroyo/installer/pkg/stores"
	"github.com/openfroyo/installer/pkg/telemetry"
	"github.com/openfroyo/installer/pkg/ui"
)

// Config configures an Installer.
type Config struct {
	Engine    engine.Engine
	Runner    *progress.Runner
	Scheduler *continuation.Scheduler

	// Store keeps the attempt history. Optional.
	Store stores.Store

	// Metrics defaults to a disabled collector.
	Metrics *telemetry.Metrics

	// Presenter shows the interactive dialog. Nil runs every attempt headless.
	Presenter Presenter

	// Executable is the path of this binary, used for continuations.
	Executable string

	// ProductName prefixes the dialog title.
	ProductName string

	// Stdout and Stderr receive the final result line. They must not be
	// writers redirected by the runner.
	Stdout io.Writer
	Stderr io.Writer

	// Logger defaults to a logger that discards everything.
	Logger *telemetry.Logger
	Tracer *telemetry.Tracer
}

// Installer runs one download, deploy, or undeploy attempt end to end.
type Installer struct {
	engine    engine.Engine
	runner    *progress.Runner
	scheduler *continuation.Scheduler
	store     stores.Store
	metrics   *telemetry.Metrics
	presenter Presenter
	exe       string
	title     string
	stdout    io.Writer
	stderr    io.Writer
	logger    *telemetry.Logger
	tracer    *telemetry.Tracer
}

// New creates an installer.
func New(cfg Config) (*Installer, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}

	i := &Installer{
		engine:    cfg.Engine,
		runner:    cfg.Runner,
		scheduler: cfg.Scheduler,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		presenter: cfg.Presenter,
		exe:       cfg.Executable,
		title:     cfg.ProductName,
		stdout:    cfg.Stdout,
		stderr:    cfg.Stderr,
		tracer:    cfg.Tracer,
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewLoggerTo(io.Discard, telemetry.LoggingConfig{})
	}
	i.logger = logger.NewComponentLogger("installer")
	if i.metrics == nil {
		i.metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	if i.stdout == nil {
		i.stdout = io.Discard
	}
	if i.stderr == nil {
		i.stderr = io.Discard
	}
	if i.tracer == nil {
		tracer, err := telemetry.NewTracer(telemetry.TracingConfig{}, "froyo-installer", "", "")
		if err != nil {
			return nil, err
		}
		i.tracer = tracer
	}
	return i, nil
}

// Execute runs req and returns the process exit code. For a scheduled
// continuation the process is terminated by the scheduler and Execute only
// returns when the scheduler's exit func does.
func (i *Installer) Execute(ctx context.Context, req Request) int {
	if err := req.Validate(); err != nil {
		_, _ = fmt.Fprintln(i.stderr, "error: "+err.Error())
		i.metrics.RecordError(string(outcome.ClassOf(err)), errorCode(err))
		code := outcome.ExitCodeFor(err)
		i.metrics.RecordExitCode(code)
		if req.ResultFolder != "" {
			if rerr := exitchannel.Report(req.ResultFolder, code, "error: "+err.Error(), i.logger.Zerolog()); rerr != nil {
				zl := i.logger.Zerolog()
				zl.Warn().Err(rerr).Msg("Failed to publish exit code")
			}
		}
		return code
	}

	attempt, err := outcome.NewAttempt(req.Action, req.Product, req.Version, req.AfterReboot)
	if err != nil {
		_, _ = fmt.Fprintln(i.stderr, "error: "+err.Error())
		return outcome.ExitCodeFor(err)
	}

	ctx, span := i.tracer.StartAttemptSpan(ctx, attempt.ID, string(attempt.Action), attempt.Product, attempt.Version)
	defer span.End()

	r := &run{
		inst:    i,
		req:     req,
		attempt: attempt,
		span:    span,
		timer:   telemetry.NewTimer(),
		logger: i.logger.
			WithAttemptID(attempt.ID).
			WithProduct(attempt.Product, attempt.Version).
			Zerolog().With().Str("action", string(attempt.Action)).Logger(),
	}

	if req.ResultFolder != "" {
		ch, err := exitchannel.Open(req.ResultFolder, r.logger)
		if err != nil {
			return r.complete(ctx, outcome.RouteError(outcome.NewInternalError("failed to open result folder", err)))
		}
		r.channel = ch
		defer func() {
			if err := ch.Close(); err != nil {
				r.logger.Debug().Err(err).Msg("Failed to close result folder")
			}
		}()
	}

	r.begin(ctx)

	if req.Silent || i.presenter == nil {
		return r.headless(ctx)
	}
	return r.interactive(ctx)
}

// run is the state of one attempt.
type run struct {
	inst    *Installer
	req     Request
	attempt *outcome.Attempt
	channel *exitchannel.Channel
	span    trace.Span
	timer   *telemetry.Timer
	logger  zerolog.Logger

	// reported is written by the worker and read after it finished.
	reported outcome.Outcome
	logPath  string

	once sync.Once
	code int
}

func (r *run) begin(ctx context.Context) {
	ev := r.logger.Info().Bool("after_reboot", r.attempt.AfterReboot)
	if id := telemetry.TraceID(ctx); id != "" {
		ev = ev.Str("trace_id", id)
	}
	ev.Msg("Attempt started")
	r.inst.metrics.RecordAttemptStarted(string(r.attempt.Action), r.attempt.AfterReboot)

	if r.inst.store == nil {
		return
	}
	rec := &stores.Attempt{
		ID:          r.attempt.ID,
		Product:     r.attempt.Product,
		Version:     r.attempt.Version,
		Action:      string(r.attempt.Action),
		AfterReboot: r.attempt.AfterReboot,
		Status:      stores.AttemptStatusRunning,
		StartedAt:   r.attempt.StartedAt.UTC(),
	}
	if r.req.ResultFolder != "" {
		folder := r.req.ResultFolder
		rec.ResultFolder = &folder
	}
	if err := r.inst.store.CreateAttempt(ctx, rec); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to record attempt")
		return
	}
	r.event(ctx, stores.EventLevelInfo, r.attempt.Action.Label()+" "+r.attempt.ProductAndVersion(), "")
}

func (r *run) label() string {
	return r.attempt.Action.Label() + " " + r.attempt.ProductAndVersion()
}

// work is executed by the progress runner; everything it writes is captured.
func (r *run) work(ctx context.Context, out io.Writer) error {
	header := telemetry.NewLoggerTo(out, telemetry.LoggingConfig{Level: "info"}).Zerolog()
	header.Info().
		Bool("after_reboot", r.attempt.AfterReboot).
		Str("attempt_id", r.attempt.ID).
		Msg(r.label())

	e := r.inst.engine
	switch r.attempt.Action {
	case outcome.ActionDownload:
		return e.Download(ctx, out, r.attempt.Product, r.attempt.Version)
	case outcome.ActionUndeploy:
		o, err := e.Undeploy(ctx, out, r.attempt.Product, r.attempt.Version)
		r.reported = o
		return err
	default:
		o, err := e.Deploy(ctx, out, r.attempt.Product, r.attempt.Version)
		r.reported = o
		return err
	}
}

func (r *run) options() []progress.Option {
	var opts []progress.Option
	if r.channel != nil {
		opts = append(opts, progress.WithTee(r.channel.Stdout()), progress.WithErrTee(r.channel.Stderr()))
	}
	return opts
}

// route turns a finished run into a decision.
func (r *run) route(res *progress.Result) outcome.Decision {
	r.logPath = res.LogPath
	if res.Panicked {
		return outcome.RouteError(outcome.NewInternalError("unexpected failure", res.Err).WithCode(outcome.ErrCodePanic))
	}
	if res.Err != nil {
		return outcome.RouteError(res.Err)
	}
	if r.attempt.Action == outcome.ActionDownload {
		return outcome.RouteDownload(nil)
	}

	dec, err := outcome.Route(r.reported)
	if err != nil {
		return outcome.RouteError(err)
	}
	if r.attempt.Action == outcome.ActionUndeploy {
		switch dec.Outcome {
		case outcome.Ok:
			dec.Message = "undeployed successfully"
		case outcome.Failed:
			dec.Message = "undeploying failed"
		}
	}
	return dec
}

func (r *run) invocation() continuation.Invocation {
	return continuation.Invocation{
		Executable:   r.inst.exe,
		Action:       string(r.attempt.Action),
		Product:      r.attempt.Product,
		Version:      r.attempt.Version,
		ResultFolder: r.req.ResultFolder,
		Plain:        r.req.Plain,
		Stacktrace:   r.req.Stacktrace,
		ConfigPath:   r.req.ConfigPath,
	}
}

func (r *run) headless(ctx context.Context) int {
	opts := r.options()
	if !r.req.Silent {
		stdout := r.inst.stdout
		opts = append(opts, progress.WithSink(func(line string) {
			_, _ = fmt.Fprintln(stdout, line)
		}))
	}

	res, err := r.inst.runner.Run(ctx, r.label(), r.work, opts...)
	if err != nil {
		return r.complete(ctx, outcome.RouteError(outcome.NewInternalError("failed to start attempt", err)))
	}

	dec := r.route(res)
	if !dec.Continuation {
		return r.complete(ctx, dec)
	}

	code := r.inst.scheduler.ScheduleAndReboot(ctx, r.attempt.ID, r.invocation(), func(code int) {
		r.complete(ctx, dec.Finalize(code))
	})
	return r.complete(ctx, dec.Finalize(code))
}

func (r *run) interactive(ctx context.Context) int {
	h, err := r.inst.runner.RunAsync(ctx, r.label(), r.work, r.options()...)
	if err != nil {
		return r.complete(ctx, outcome.RouteError(outcome.NewInternalError("failed to start attempt", err)))
	}

	// The dialog owns the terminal until Present returns, so scheduler logs
	// are held back and written afterwards.
	var held bytes.Buffer
	dialogCtx := ctx
	if level := r.logger.GetLevel(); level != zerolog.Disabled {
		dialogCtx = telemetry.NewLoggerTo(&held, telemetry.LoggingConfig{Level: level.String()}).Zerolog().WithContext(ctx)
	}

	var (
		finishOnce sync.Once
		dec        outcome.Decision
		task       *continuation.Task
	)
	finish := func() ui.Dialog {
		finishOnce.Do(func() {
			dec = r.route(h.Wait())
			if dec.Continuation {
				t, code, err := r.inst.scheduler.Schedule(dialogCtx, r.attempt.ID, r.invocation())
				if err == nil {
					task = t
				}
				dec = dec.Finalize(code)
			}
		})
		return r.dialog(dec)
	}

	title := r.label()
	if r.inst.title != "" {
		title = r.inst.title + ": " + title
	}
	if err := r.inst.presenter.Present(title, h.Lines(), finish); err != nil {
		r.logger.Warn().Err(err).Msg("Progress dialog failed")
	}
	finish()
	if held.Len() > 0 {
		_, _ = r.inst.stderr.Write(held.Bytes())
	}

	if task != nil {
		return r.inst.scheduler.Reboot(ctx, task, func(int) {
			r.complete(ctx, dec)
		})
	}
	return r.complete(ctx, dec)
}

func (r *run) dialog(dec outcome.Decision) ui.Dialog {
	d := ui.Dialog{Severity: dec.Severity, Message: dec.Line(r.attempt.ProductAndVersion())}
	if dec.Err != nil {
		d.Detail = ErrorChain(dec.Err)
	} else if !dec.Succeeded() && r.logPath != "" {
		d.Detail = "Log: " + r.logPath
	}
	return d
}

// complete reports dec exactly once and returns the exit code. The exit
// channel is written last.
func (r *run) complete(ctx context.Context, dec outcome.Decision) int {
	r.once.Do(func() {
		r.code = r.finish(ctx, dec)
	})
	return r.code
}

func (r *run) finish(ctx context.Context, dec outcome.Decision) int {
	code := dec.ExitCode
	if r.req.Plain {
		code = dec.PlainExitCode()
	}

	line := dec.Line(r.attempt.ProductAndVersion())
	var chain string
	if dec.Err != nil && r.req.Stacktrace {
		chain = ErrorChain(dec.Err)
	}

	out, chOut := r.inst.stdout, io.Writer(nil)
	if !dec.Succeeded() {
		out = r.inst.stderr
	}
	if r.channel != nil {
		chOut = r.channel.Stdout()
		if !dec.Succeeded() {
			chOut = r.channel.Stderr()
		}
	}
	for _, w := range []io.Writer{out, chOut} {
		if w == nil {
			continue
		}
		_, _ = fmt.Fprintln(w, line)
		if chain != "" {
			_, _ = fmt.Fprintln(w, chain)
		}
	}

	ev := r.logger.Info()
	switch dec.Severity {
	case outcome.SeverityWarning:
		ev = r.logger.Warn()
	case outcome.SeverityError:
		ev = r.logger.Error().Err(dec.Err)
	}
	ev.Str("outcome", string(dec.Outcome)).
		Int("exit_code", code).
		Bool("continuation", dec.Continuation).
		Str("log", r.logPath).
		Msg(line)

	status := attemptStatus(dec)
	r.record(ctx, dec, status, code)

	m := r.inst.metrics
	if dec.Outcome != "" {
		m.RecordOutcome(string(dec.Outcome))
	}
	if dec.Continuation {
		m.RecordContinuation(r.inst.scheduler.Backend().Name(), dec.ExitCode == outcome.ExitOK)
	}
	if dec.Err != nil {
		m.RecordError(string(outcome.ClassOf(dec.Err)), errorCode(dec.Err))
	}
	m.RecordAttemptCompleted(string(r.attempt.Action), string(status), r.timer.Duration())
	m.RecordExitCode(code)

	r.span.SetAttributes(
		telemetry.AttrOutcome.String(string(dec.Outcome)),
		telemetry.AttrExitCode.Int(code),
	)
	if dec.Err != nil {
		r.span.SetAttributes(
			telemetry.AttrErrorClass.String(string(outcome.ClassOf(dec.Err))),
			telemetry.AttrErrorCode.String(errorCode(dec.Err)),
		)
		telemetry.RecordError(r.span, dec.Err)
	} else if code != outcome.ExitOK {
		r.span.SetStatus(codes.Error, dec.Message)
	} else {
		telemetry.RecordSuccess(r.span)
	}

	if r.channel != nil {
		r.channel.Write(code)
	}
	return code
}

func (r *run) record(ctx context.Context, dec outcome.Decision, status stores.AttemptStatus, code int) {
	if r.inst.store == nil {
		return
	}
	// The attempt is finished even if the caller's context is cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	result := stores.AttemptResult{
		Status:   status,
		Outcome:  string(dec.Outcome),
		ExitCode: code,
		LogPath:  r.logPath,
	}
	switch {
	case dec.Err != nil:
		result.Error = dec.Err.Error()
	case !dec.Succeeded():
		result.Error = dec.Message
	}
	if err := r.inst.store.CompleteAttempt(ctx, r.attempt.ID, result); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to record attempt result")
		return
	}

	level := stores.EventLevelInfo
	switch dec.Severity {
	case outcome.SeverityWarning:
		level = stores.EventLevelWarn
	case outcome.SeverityError:
		level = stores.EventLevelError
	}
	r.event(ctx, level, dec.Line(r.attempt.ProductAndVersion()), "exit code "+strconv.Itoa(code))
}

func (r *run) event(ctx context.Context, level stores.EventLevel, message, details string) {
	id := r.attempt.ID
	ev := &stores.Event{AttemptID: &id, Level: level, Message: message}
	if details != "" {
		ev.Details = &details
	}
	if err := r.inst.store.AppendEvent(ctx, ev); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to record attempt event")
	}
}

func attemptStatus(dec outcome.Decision) stores.AttemptStatus {
	switch {
	case dec.Continuation && dec.Succeeded():
		return stores.AttemptStatusContinued
	case dec.Succeeded():
		return stores.AttemptStatusSucceeded
	default:
		return stores.AttemptStatusFailed
	}
}

func errorCode(err error) string {
	var ce *outcome.ClassifiedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
