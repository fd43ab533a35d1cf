package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/installer/pkg/engine/protocol"
	"github.com/openfroyo/installer/pkg/outcome"
)

// Environment variables passed to the engine process.
const (
	EnvSiteDataDir    = "FROYO_SITE_DATA_DIR"
	EnvProductListURL = "FROYO_PRODUCT_LIST_URL"
	EnvPortableDir    = "FROYO_PORTABLE_DIR"
)

// ProcessConfig configures a ProcessEngine.
type ProcessConfig struct {
	// Command is the engine executable and Args its fixed arguments. The
	// operation itself travels in the CMD message.
	Command string
	Args    []string

	// SiteDataDir is the engine's working folder and the process directory.
	SiteDataDir    string
	PortableDir    string
	ProductListURL string

	// Env holds extra "KEY=value" entries.
	Env []string

	Logger zerolog.Logger
	Tracer trace.Tracer
}

// ProcessEngine runs the engine executable once per call and talks to it
// with the JSON-lines protocol.
type ProcessEngine struct {
	cfg    ProcessConfig
	logger zerolog.Logger
	tracer trace.Tracer
}

var _ Engine = (*ProcessEngine)(nil)

// NewProcessEngine creates a process engine.
func NewProcessEngine(cfg ProcessConfig) (*ProcessEngine, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("engine command is required")
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("froyo-installer/engine")
	}
	return &ProcessEngine{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "engine").Logger(),
		tracer: tracer,
	}, nil
}

// Download implements Engine.
func (e *ProcessEngine) Download(ctx context.Context, out io.Writer, product, version string) error {
	return e.call(ctx, out, protocol.CommandTypeDownload, protocol.ProductParams{Product: product, Version: version}, nil)
}

// Deploy implements Engine.
func (e *ProcessEngine) Deploy(ctx context.Context, out io.Writer, product, version string) (outcome.Outcome, error) {
	return e.callOutcome(ctx, out, protocol.CommandTypeDeploy, product, version)
}

// Undeploy implements Engine.
func (e *ProcessEngine) Undeploy(ctx context.Context, out io.Writer, product, version string) (outcome.Outcome, error) {
	return e.callOutcome(ctx, out, protocol.CommandTypeUndeploy, product, version)
}

// ListProducts implements Engine.
func (e *ProcessEngine) ListProducts(ctx context.Context, out io.Writer) ([]string, error) {
	var res protocol.ProductsResult
	if err := e.call(ctx, out, protocol.CommandTypeListProducts, nil, &res); err != nil {
		return nil, err
	}
	return res.Products, nil
}

// ListProductVersions implements Engine.
func (e *ProcessEngine) ListProductVersions(ctx context.Context, out io.Writer, product string) (map[string]bool, error) {
	var res protocol.VersionsResult
	if err := e.call(ctx, out, protocol.CommandTypeListVersions, protocol.ProductParams{Product: product}, &res); err != nil {
		return nil, err
	}
	if res.Versions == nil {
		res.Versions = map[string]bool{}
	}
	return res.Versions, nil
}

// MapDeployedProducts implements Engine.
func (e *ProcessEngine) MapDeployedProducts(ctx context.Context, out io.Writer) (map[string]string, error) {
	var res protocol.DeployedResult
	if err := e.call(ctx, out, protocol.CommandTypeDeployedProducts, nil, &res); err != nil {
		return nil, err
	}
	if res.Deployed == nil {
		res.Deployed = map[string]string{}
	}
	return res.Deployed, nil
}

func (e *ProcessEngine) callOutcome(ctx context.Context, out io.Writer, typ protocol.CommandType, product, version string) (outcome.Outcome, error) {
	var res protocol.DeployResult
	err := e.call(ctx, out, typ, protocol.ProductParams{Product: product, Version: version}, &res)
	if err != nil {
		if errors.Is(err, outcome.ErrUnknownOutcome) {
			return "", outcome.NewInternalError("invalid result", err).WithCode(outcome.ErrCodeUnknownOutcome)
		}
		return "", err
	}
	if res.Outcome == "" {
		return "", outcome.NewInternalError("invalid result", fmt.Errorf("%w: engine reported no outcome", outcome.ErrUnknownOutcome)).
			WithCode(outcome.ErrCodeUnknownOutcome)
	}
	return res.Outcome, nil
}

// call runs one engine process. Engine stderr and EVENT messages are written
// to out; the DONE payload is decoded into result when result is not nil.
func (e *ProcessEngine) call(ctx context.Context, out io.Writer, typ protocol.CommandType, params interface{}, result interface{}) (err error) {
	if out == nil {
		out = io.Discard
	}
	// Engine stderr is copied on its own goroutine.
	out = &lockedWriter{w: out}

	cmdID := uuid.New().String()
	ctx, span := e.tracer.Start(ctx, "engine."+string(typ), trace.WithAttributes(
		attribute.String("command_id", cmdID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	msg := &protocol.CommandMessage{ID: cmdID, Type: typ}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = raw
	}

	cmd := exec.CommandContext(ctx, e.cfg.Command, e.cfg.Args...)
	cmd.Dir = e.cfg.SiteDataDir
	cmd.Env = e.environ()
	cmd.Stderr = out

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open engine stdout: %w", err)
	}

	logger := e.logger.With().Str("command_id", cmdID).Str("type", string(typ)).Logger()
	logger.Debug().Str("command", e.cfg.Command).Msg("Starting engine")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return outcome.NewEngineError("failed to start engine", err)
	}

	encErr := protocol.WriteCommand(stdin, msg)
	_ = stdin.Close()

	terminal, readErr := e.readMessages(protocol.NewReader(stdout), out, result)

	// Drain whatever the engine still prints so Wait does not block on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	logger.Debug().
		Dur("duration", time.Since(start)).
		Bool("terminal", terminal != nil).
		Msg("Engine exited")

	switch {
	case readErr != nil:
		return readErr
	case terminal != nil:
		return terminal.err
	case encErr != nil:
		return outcome.NewEngineError("failed to send command to engine", encErr)
	case waitErr != nil:
		return outcome.NewEngineError("engine exited without a result", waitErr)
	default:
		return outcome.NewEngineError("engine exited without a result", nil)
	}
}

type terminalMessage struct {
	err error
}

// readMessages consumes messages until DONE, ERROR, or end of stream.
func (e *ProcessEngine) readMessages(replies *protocol.Reader, out io.Writer, result interface{}) (*terminalMessage, error) {
	for {
		msg, err := replies.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			var lineErr *protocol.LineError
			if errors.As(err, &lineErr) {
				_, _ = fmt.Fprintln(out, lineErr.Line)
				continue
			}
			return nil, outcome.NewEngineError("failed to read engine output", err)
		}

		switch msg.Type {
		case protocol.MessageTypeReady:
			var ready protocol.ReadyMessage
			if err := protocol.ParseData(msg.Data, &ready); err == nil {
				e.logger.Debug().Str("version", ready.Version).Int("api_version", ready.APIVersion).Msg("Engine ready")
			}

		case protocol.MessageTypeEvent:
			var evt protocol.EventMessage
			if err := protocol.ParseData(msg.Data, &evt); err != nil {
				e.logger.Warn().Err(err).Msg("Malformed engine event")
				continue
			}
			_, _ = fmt.Fprintln(out, FormatEvent(msg.Timestamp, &evt))

		case protocol.MessageTypeDone:
			var done protocol.DoneMessage
			if err := protocol.ParseData(msg.Data, &done); err != nil {
				return &terminalMessage{err: outcome.NewEngineError("malformed DONE message", err)}, nil
			}
			if result != nil {
				if err := protocol.ParseData(done.Result, result); err != nil {
					return &terminalMessage{err: fmt.Errorf("failed to decode engine result: %w", err)}, nil
				}
			}
			return &terminalMessage{}, nil

		case protocol.MessageTypeError:
			var em protocol.ErrorMessage
			if err := protocol.ParseData(msg.Data, &em); err != nil {
				return &terminalMessage{err: outcome.NewEngineError("malformed ERROR message", err)}, nil
			}
			return &terminalMessage{err: outcome.NewEngineError("engine failed", &em).WithCode(em.Code)}, nil

		default:
			e.logger.Debug().Str("type", string(msg.Type)).Msg("Ignoring engine message")
		}
	}
}

func (e *ProcessEngine) environ() []string {
	env := os.Environ()
	if e.cfg.SiteDataDir != "" {
		env = append(env, EnvSiteDataDir+"="+e.cfg.SiteDataDir)
	}
	if e.cfg.PortableDir != "" {
		env = append(env, EnvPortableDir+"="+e.cfg.PortableDir)
	}
	if e.cfg.ProductListURL != "" {
		env = append(env, EnvProductListURL+"="+e.cfg.ProductListURL)
	}
	return append(env, e.cfg.Env...)
}

// FormatEvent renders an engine event as a log line with a "15:04:05" prefix.
func FormatEvent(ts time.Time, evt *protocol.EventMessage) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.WriteString(ts.Local().Format("15:04:05"))
	b.WriteByte(' ')
	b.WriteString(levelTag(evt.Level))
	b.WriteByte(' ')
	b.WriteString(evt.Message)
	if p := evt.Progress; p != nil && p.Total > 0 {
		fmt.Fprintf(&b, " (%d/%d %s)", p.Current, p.Total, p.Unit)
	}
	return b.String()
}

func levelTag(level string) string {
	switch level {
	case "debug":
		return "DBG"
	case "warn":
		return "WRN"
	case "error":
		return "ERR"
	default:
		return "INF"
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
