package progress

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"sync"
)

var (
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

	// logLineShape matches the time-like prefixes of the log formats we emit:
	// "15:04:05", RFC3339 "2006-01-02T15:04:05" and zerolog's console default "3:04PM".
	logLineShape = regexp.MustCompile(`^\s*(\d{2}:\d{2}:\d{2}|\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}|\d{1,2}:\d{2}(AM|PM))`)
)

// IsLogLine reports whether line carries a recognized log-line prefix.
// Color escapes are ignored.
func IsLogLine(line string) bool {
	return logLineShape.MatchString(ansiEscape.ReplaceAllString(line, ""))
}

// LineSink receives lines accepted for live display.
type LineSink func(line string)

// lineWriter splits output on '\n' and fans each line out, durable writers
// first and the live sink last.
type lineWriter struct {
	mu      sync.Mutex
	buf     []byte
	durable []io.Writer
	sink    LineSink
	lines   int
	err     error
}

func newLineWriter(sink LineSink, durable ...io.Writer) *lineWriter {
	return &lineWriter{durable: durable, sink: sink}
}

// Write implements io.Writer. Durable write failures are remembered and
// reported by Err; the caller's output is never rejected.
func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(w.buf[:i])
		w.buf = w.buf[i+1:]
		w.emit(line)
	}
	return len(p), nil
}

// Flush emits a trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
}

func (w *lineWriter) flushLocked() {
	if len(w.buf) == 0 {
		return
	}
	line := string(w.buf)
	w.buf = nil
	w.emit(line)
}

func (w *lineWriter) emit(line string) {
	line = strings.TrimSuffix(line, "\r")
	for _, d := range w.durable {
		if _, err := io.WriteString(d, line+"\n"); err != nil && w.err == nil {
			w.err = err
		}
	}
	w.lines++

	if w.sink != nil && IsLogLine(line) {
		w.sink(line)
	}
}

// Lines returns the number of lines emitted so far.
func (w *lineWriter) Lines() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

// Err returns the first durable write error.
func (w *lineWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
