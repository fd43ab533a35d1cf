// Package exitchannel persists the final status of a headless invocation into
// a result folder chosen by the caller.
//
// A supervising process that started the installer without a console reads
// three files from the folder once the run is over:
//
//	stdout.txt    captured standard output, written while the run progresses
//	stderr.txt    captured error output
//	exitcode.txt  the decimal process exit code, no trailing newline
//
// exitcode.txt is always written last, so its presence marks a finished run.
package exitchannel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// File names inside the result folder.
const (
	StdoutFile   = "stdout.txt"
	StderrFile   = "stderr.txt"
	ExitCodeFile = "exitcode.txt"
)

// ErrNoExitCode is returned when the result folder has no exitcode.txt yet.
var ErrNoExitCode = errors.New("exit code not written")

// Channel is an open result folder.
type Channel struct {
	folder string
	logger zerolog.Logger

	mu      sync.Mutex
	stdout  *os.File
	stderr  *os.File
	written bool
}

// Open creates the result folder if needed and truncates the capture files.
// A previous exitcode.txt is removed so a retry never exposes a stale code.
func Open(folder string, logger zerolog.Logger) (*Channel, error) {
	if folder == "" {
		return nil, fmt.Errorf("result folder is required")
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create result folder: %w", err)
	}
	if err := os.Remove(filepath.Join(folder, ExitCodeFile)); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove previous exit code: %w", err)
	}

	stdout, err := os.Create(filepath.Join(folder, StdoutFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", StdoutFile, err)
	}
	stderr, err := os.Create(filepath.Join(folder, StderrFile))
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("failed to create %s: %w", StderrFile, err)
	}

	return &Channel{
		folder: folder,
		logger: logger.With().Str("component", "exit-channel").Str("folder", folder).Logger(),
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// Stdout returns the writer backing stdout.txt.
func (c *Channel) Stdout() io.Writer {
	return c.stdout
}

// Stderr returns the writer backing stderr.txt.
func (c *Channel) Stderr() io.Writer {
	return c.stderr
}

// Write closes the capture files and records the exit code. It must be the
// last thing a headless run does. Failures are logged and otherwise ignored:
// the process exit code stays authoritative.
func (c *Channel) Write(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeFiles()

	tmp := filepath.Join(c.folder, "."+ExitCodeFile+".tmp")
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(code)), 0o644); err != nil {
		c.logger.Error().Err(err).Int("exit_code", code).Msg("Failed to write exit code")
		return
	}
	if err := os.Rename(tmp, filepath.Join(c.folder, ExitCodeFile)); err != nil {
		_ = os.Remove(tmp)
		c.logger.Error().Err(err).Int("exit_code", code).Msg("Failed to publish exit code")
		return
	}

	c.written = true
	c.logger.Debug().Int("exit_code", code).Msg("Exit code written")
}

// Report publishes the result of an invocation that ended before its run
// started: message goes to stderr.txt and code to exitcode.txt.
func Report(folder string, code int, message string, logger zerolog.Logger) error {
	ch, err := Open(folder, logger)
	if err != nil {
		return err
	}
	if message != "" {
		_, _ = fmt.Fprintln(ch.Stderr(), message)
	}
	ch.Write(code)
	if !ch.Written() {
		return fmt.Errorf("failed to publish %s in %s", ExitCodeFile, folder)
	}
	return nil
}

// Written reports whether Write published an exit code.
func (c *Channel) Written() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

// Close releases the capture files without writing an exit code.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeFiles()
}

func (c *Channel) closeFiles() error {
	var errs []error
	if c.stdout != nil {
		errs = append(errs, c.stdout.Close())
		c.stdout = nil
	}
	if c.stderr != nil {
		errs = append(errs, c.stderr.Close())
		c.stderr = nil
	}
	return errors.Join(errs...)
}

// Record is the persisted status of a finished headless invocation.
type Record struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// ReadExitCode parses exitcode.txt from the result folder.
func ReadExitCode(folder string) (int, error) {
	data, err := os.ReadFile(filepath.Join(folder, ExitCodeFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNoExitCode
		}
		return 0, fmt.Errorf("failed to read exit code: %w", err)
	}

	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid exit code %q: %w", string(data), err)
	}
	return code, nil
}

// Read loads the full record from the result folder. Missing capture files
// are treated as empty.
func Read(folder string) (*Record, error) {
	code, err := ReadExitCode(folder)
	if err != nil {
		return nil, err
	}

	rec := &Record{ExitCode: code}
	if rec.Stdout, err = readOptional(filepath.Join(folder, StdoutFile)); err != nil {
		return nil, err
	}
	if rec.Stderr, err = readOptional(filepath.Join(folder, StderrFile)); err != nil {
		return nil, err
	}
	return rec, nil
}

func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return string(data), nil
}
