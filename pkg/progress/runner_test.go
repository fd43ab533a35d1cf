package progress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRunner(t *testing.T, streams *Streams) (*Runner, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "logs")
	clock := time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)
	r := NewRunner(Config{
		LogsDir: dir,
		Streams: streams,
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return clock },
	})
	return r, dir
}

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSink) add(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *recordingSink) get() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestRunDurableLogAndLiveFilter(t *testing.T) {
	r, dir := setupRunner(t, nil)
	sink := &recordingSink{}

	input := []string{
		"12:00:01 INF resolving productX",
		"plain progress text",
		"2024-03-01T10:20:31Z downloading artifact",
		"   ... 42%",
		"3:04PM INF deployed",
		"\x1b[90m12:00:05\x1b[0m \x1b[32mINF\x1b[0m colored",
	}

	res, err := r.Run(context.Background(), "Deploying", func(ctx context.Context, out io.Writer) error {
		for _, line := range input {
			if _, err := fmt.Fprintln(out, line); err != nil {
				return err
			}
		}
		return nil
	}, WithSink(sink.add))
	require.NoError(t, err)
	require.True(t, res.Succeeded())

	assert.Equal(t, filepath.Join(dir, "2024.03.01-10.20.30-Deploying.log"), res.LogPath)
	assert.Equal(t, input, readLines(t, res.LogPath))
	assert.Equal(t, len(input), res.Lines)
	assert.Equal(t, []string{input[0], input[2], input[4], input[5]}, sink.get())
}

func TestRunSplitsAcrossWrites(t *testing.T) {
	r, _ := setupRunner(t, nil)

	res, err := r.Run(context.Background(), "Downloading", func(ctx context.Context, out io.Writer) error {
		_, _ = io.WriteString(out, "10:00:00 first ")
		_, _ = io.WriteString(out, "half\n10:00:01 second\r\n10:00:02 trailing")
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"10:00:00 first half",
		"10:00:01 second",
		"10:00:02 trailing",
	}, readLines(t, res.LogPath))
}

func TestRunCapturesError(t *testing.T) {
	r, _ := setupRunner(t, nil)
	boom := errors.New("engine exploded")

	res, err := r.Run(context.Background(), "Deploying", func(ctx context.Context, out io.Writer) error {
		_, _ = fmt.Fprintln(out, "10:00:00 starting")
		return boom
	})
	require.NoError(t, err, "work failures are not runner errors")
	assert.ErrorIs(t, res.Err, boom)
	assert.False(t, res.Panicked)

	lines := readLines(t, res.LogPath)
	assert.Equal(t, "engine exploded", lines[len(lines)-1])
}

func TestRunRecoversPanic(t *testing.T) {
	r, _ := setupRunner(t, nil)

	res, err := r.Run(context.Background(), "Deploying", func(ctx context.Context, out io.Writer) error {
		panic("nil engine")
	})
	require.NoError(t, err)
	require.Error(t, res.Err)
	assert.True(t, res.Panicked)
	assert.Contains(t, res.Err.Error(), "nil engine")
}

func TestStreamsRestoredOnEveryPath(t *testing.T) {
	tests := []struct {
		name string
		work Work
	}{
		{"success", func(ctx context.Context, out io.Writer) error { return nil }},
		{"error", func(ctx context.Context, out io.Writer) error { return errors.New("failed") }},
		{"panic", func(ctx context.Context, out io.Writer) error { panic("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			streams := NewStreams(&stdout, &stderr)
			r, _ := setupRunner(t, streams)

			_, err := r.Run(context.Background(), "Deploying", tt.work)
			require.NoError(t, err)

			out, errOut := streams.Current()
			assert.Same(t, &stdout, out)
			assert.Same(t, &stderr, errOut)

			_, _ = io.WriteString(streams.Stdout(), "after\n")
			assert.Equal(t, "after\n", stdout.String())
		})
	}
}

func TestStreamsRedirectedDuringRun(t *testing.T) {
	var stdout bytes.Buffer
	streams := NewStreams(&stdout, io.Discard)
	r, _ := setupRunner(t, streams)
	logger := zerolog.New(streams.Stdout())

	res, err := r.Run(context.Background(), "Deploying", func(ctx context.Context, out io.Writer) error {
		logger.Info().Msg("from logger")
		_, _ = io.WriteString(streams.Stderr(), "from stderr\n")
		return nil
	})
	require.NoError(t, err)

	assert.Empty(t, stdout.String())
	data, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "from logger")
	assert.Contains(t, string(data), "from stderr")
}

func TestRunTees(t *testing.T) {
	var stdout, stderr bytes.Buffer
	streams := NewStreams(io.Discard, io.Discard)
	r, _ := setupRunner(t, streams)

	res, err := r.Run(context.Background(), "Deploying", func(ctx context.Context, out io.Writer) error {
		_, _ = fmt.Fprintln(out, "10:00:00 out line")
		_, _ = fmt.Fprintln(streams.Stderr(), "warn line")
		return errors.New("bad")
	}, WithTee(&stdout), WithErrTee(&stderr))
	require.NoError(t, err)
	require.Error(t, res.Err)

	assert.Equal(t, "10:00:00 out line\n", stdout.String())
	assert.Equal(t, "warn line\nbad\n", stderr.String())
}

func TestRunIgnoresCallerCancellation(t *testing.T) {
	r, _ := setupRunner(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Run(ctx, "Deploying", func(ctx context.Context, out io.Writer) error {
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.NoError(t, res.Err)
}

func TestRunAsyncDeliversLines(t *testing.T) {
	r, _ := setupRunner(t, nil)
	release := make(chan struct{})

	h, err := r.RunAsync(context.Background(), "Deploying", func(ctx context.Context, out io.Writer) error {
		_, _ = fmt.Fprintln(out, "10:00:00 one")
		_, _ = fmt.Fprintln(out, "not a log line")
		<-release
		_, _ = fmt.Fprintln(out, "10:00:01 two")
		return nil
	})
	require.NoError(t, err)

	first := <-h.Lines()
	assert.Equal(t, "10:00:00 one", first)
	close(release)

	var rest []string
	for line := range h.Lines() {
		rest = append(rest, line)
	}
	assert.Equal(t, []string{"10:00:01 two"}, rest)

	res := h.Wait()
	assert.True(t, res.Succeeded())
	assert.Equal(t, 3, res.Lines)
}

func TestRunLogDirFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	r := NewRunner(Config{LogsDir: filepath.Join(blocker, "logs"), Logger: zerolog.Nop()})
	_, err := r.Run(context.Background(), "Deploying", nil)
	assert.Error(t, err)
}

func TestIsLogLine(t *testing.T) {
	assert.True(t, IsLogLine("23:59:59 message"))
	assert.True(t, IsLogLine("2024-01-02 03:04:05 message"))
	assert.True(t, IsLogLine("11:15AM INF message"))
	assert.False(t, IsLogLine("message 12:00:00"))
	assert.False(t, IsLogLine(""))
	assert.False(t, IsLogLine("1:2:3"))
}

func TestLogFileName(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "2024.01.02-03.04.05-Deploying.log", LogFileName(at, "Deploying"))
	assert.Equal(t, "2024.01.02-03.04.05-a_b_c.log", LogFileName(at, "a/b c"))
}
