package progress

import (
	"io"
	"sync"
)

// Streams is a redirectable pair of output writers. Code that cannot take a
// writer argument (loggers created before the run started) writes through
// Stdout and Stderr; a runner points them at its capture while the work runs.
//
// Only one redirection may be active at a time. Redirect blocks until the
// previous lease is restored.
type Streams struct {
	lease sync.Mutex

	mu     sync.RWMutex
	stdout io.Writer
	stderr io.Writer
}

// NewStreams creates streams that initially write to stdout and stderr.
func NewStreams(stdout, stderr io.Writer) *Streams {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &Streams{stdout: stdout, stderr: stderr}
}

// Stdout returns a writer that always forwards to the current stdout target.
func (s *Streams) Stdout() io.Writer {
	return streamWriter{s: s, err: false}
}

// Stderr returns a writer that always forwards to the current stderr target.
func (s *Streams) Stderr() io.Writer {
	return streamWriter{s: s, err: true}
}

// Current returns the active targets.
func (s *Streams) Current() (stdout, stderr io.Writer) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stdout, s.stderr
}

// Redirect takes the exclusive lease and swaps both targets. The returned
// function restores the previous targets and releases the lease; it is safe
// to call more than once.
func (s *Streams) Redirect(stdout, stderr io.Writer) (restore func()) {
	s.lease.Lock()

	s.mu.Lock()
	prevOut, prevErr := s.stdout, s.stderr
	s.stdout, s.stderr = stdout, stderr
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.stdout, s.stderr = prevOut, prevErr
			s.mu.Unlock()
			s.lease.Unlock()
		})
	}
}

type streamWriter struct {
	s   *Streams
	err bool
}

func (w streamWriter) Write(p []byte) (int, error) {
	out, errOut := w.s.Current()
	if w.err {
		return errOut.Write(p)
	}
	return out.Write(p)
}
