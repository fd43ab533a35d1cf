// Package progress runs one long attempt on a worker goroutine while
// capturing everything it prints.
//
// Every captured line goes to a durable per-run log file named
// "<timestamp>-<label>.log" and to any extra durable writers, and only then
// to an optional live sink. The live sink sees only lines that look like log
// records (see IsLogLine). The run reports exactly one terminal Result: the
// work's error, a recovered panic, or success.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LogTimeFormat is the timestamp prefix of durable log file names.
const LogTimeFormat = "2006.01.02-15.04.05"

// Work is the unit of work executed by a runner. Everything written to out
// is captured.
type Work func(ctx context.Context, out io.Writer) error

// Result is the terminal state of one run.
type Result struct {
	Label      string        `json:"label"`
	LogPath    string        `json:"log_path"`
	Lines      int           `json:"lines"`
	Err        error         `json:"-"`
	Panicked   bool          `json:"panicked"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// Succeeded returns true if the work returned without error or panic.
func (r *Result) Succeeded() bool {
	return r.Err == nil
}

// Config configures a Runner.
type Config struct {
	// LogsDir receives one log file per run. Created on demand.
	LogsDir string

	// Streams, if set, is redirected into the capture for the duration of the run.
	Streams *Streams

	Logger zerolog.Logger
	Tracer trace.Tracer

	// Now overrides the clock used for log file names.
	Now func() time.Time
}

// Runner executes work with output capture.
type Runner struct {
	logsDir string
	streams *Streams
	logger  zerolog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewRunner creates a runner.
func NewRunner(cfg Config) *Runner {
	r := &Runner{
		logsDir: cfg.LogsDir,
		streams: cfg.Streams,
		logger:  cfg.Logger.With().Str("component", "progress").Logger(),
		tracer:  cfg.Tracer,
		now:     cfg.Now,
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("froyo-installer/progress")
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Option customizes a single run.
type Option func(*runOptions)

type runOptions struct {
	tees    []io.Writer
	errTees []io.Writer
	sink    LineSink
}

// WithTee adds a durable writer that receives every output line.
func WithTee(w io.Writer) Option {
	return func(o *runOptions) {
		if w != nil {
			o.tees = append(o.tees, w)
		}
	}
}

// WithErrTee adds a durable writer for error-stream lines and the captured failure.
func WithErrTee(w io.Writer) Option {
	return func(o *runOptions) {
		if w != nil {
			o.errTees = append(o.errTees, w)
		}
	}
}

// WithSink sets the live sink.
func WithSink(sink LineSink) Option {
	return func(o *runOptions) {
		o.sink = sink
	}
}

// Handle tracks a run started with RunAsync.
type Handle struct {
	lines  chan string
	done   chan struct{}
	result *Result
}

// Lines returns the live lines of the run. The channel is closed when the
// run finishes. Lines are dropped, never blocked on, when the consumer
// falls behind; the durable log keeps all of them.
func (h *Handle) Lines() <-chan string {
	return h.lines
}

// Done is closed when the result is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finishes.
func (h *Handle) Wait() *Result {
	<-h.done
	return h.result
}

// Run executes work on a worker goroutine and waits for it. The returned
// error reports runner defects only; failures of work are in Result.Err.
func (r *Runner) Run(ctx context.Context, label string, work Work, opts ...Option) (*Result, error) {
	h, err := r.start(ctx, label, work, nil, opts...)
	if err != nil {
		return nil, err
	}
	return h.Wait(), nil
}

// RunAsync starts work and returns immediately. Live lines are delivered on
// the handle's channel; a sink passed with WithSink is called as well.
func (r *Runner) RunAsync(ctx context.Context, label string, work Work, opts ...Option) (*Handle, error) {
	return r.start(ctx, label, work, make(chan string, 1024), opts...)
}

func (r *Runner) start(ctx context.Context, label string, work Work, lines chan string, opts ...Option) (*Handle, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	startedAt := r.now()
	logFile, logPath, err := r.openLog(label, startedAt)
	if err != nil {
		if lines != nil {
			close(lines)
		}
		return nil, err
	}

	sink := o.sink
	if lines != nil {
		userSink := sink
		sink = func(line string) {
			if userSink != nil {
				userSink(line)
			}
			select {
			case lines <- line:
			default:
			}
		}
	}

	outW := newLineWriter(sink, append([]io.Writer{logFile}, o.tees...)...)
	errW := newLineWriter(sink, append([]io.Writer{logFile}, o.errTees...)...)

	h := &Handle{lines: lines, done: make(chan struct{})}
	if h.lines == nil {
		h.lines = make(chan string)
	}

	// The worker does not observe caller cancellation once started.
	workCtx := context.WithoutCancel(ctx)

	logger := r.logger.With().Str("label", label).Str("log", logPath).Logger()
	logger.Debug().Msg("Run started")

	go func() {
		res := &Result{Label: label, LogPath: logPath, StartedAt: startedAt}

		defer func() {
			if err := logFile.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close log file")
			}
			res.FinishedAt = r.now()
			res.Duration = res.FinishedAt.Sub(res.StartedAt)
			h.result = res
			close(h.lines)
			close(h.done)
		}()

		res.Panicked, res.Err = r.execute(workCtx, label, work, outW, errW)

		outW.Flush()
		errW.Flush()
		if res.Err != nil {
			_, _ = fmt.Fprintln(errW, res.Err.Error())
		}
		res.Lines = outW.Lines() + errW.Lines()

		if err := outW.Err(); err != nil {
			logger.Warn().Err(err).Msg("Durable write failed")
		}
		if err := errW.Err(); err != nil {
			logger.Warn().Err(err).Msg("Durable error write failed")
		}

		ev := logger.Debug()
		if res.Err != nil {
			ev = logger.Warn().Err(res.Err).Bool("panicked", res.Panicked)
		}
		ev.Int("lines", res.Lines).Msg("Run finished")
	}()

	return h, nil
}

// execute runs work with the streams redirected. The redirection is undone
// on every path, including a panic inside work.
func (r *Runner) execute(ctx context.Context, label string, work Work, outW, errW io.Writer) (panicked bool, err error) {
	ctx, span := r.tracer.Start(ctx, "progress.run", trace.WithAttributes(attribute.String("label", label)))
	defer span.End()

	if r.streams != nil {
		restore := r.streams.Redirect(outW, errW)
		defer restore()
	}

	defer func() {
		if rec := recover(); rec != nil {
			panicked = true
			err = fmt.Errorf("panic: %v", rec)
			_, _ = fmt.Fprintln(errW, strings.TrimSpace(string(debug.Stack())))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if work == nil {
		return false, nil
	}
	return false, work(ctx, outW)
}

func (r *Runner) openLog(label string, at time.Time) (*os.File, string, error) {
	dir := r.logsDir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create logs directory: %w", err)
	}

	path := filepath.Join(dir, LogFileName(at, label))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open log file: %w", err)
	}
	return f, path, nil
}

// LogFileName returns "<timestamp>-<label>.log" with path separators and
// spaces in label replaced.
func LogFileName(at time.Time, label string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, label)
	return at.Format(LogTimeFormat) + "-" + safe + ".log"
}
