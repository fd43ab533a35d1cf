package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// maxLineSize bounds one line of engine output.
const maxLineSize = 4 << 20

// WriteCommand writes cmd as a single CMD line. The engine handles exactly one
// command per process, so the caller closes w afterwards.
func WriteCommand(w io.Writer, cmd *CommandMessage) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	line, err := json.Marshal(Message{
		Type:      MessageTypeCommand,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

// Reader reads the replies of an engine process line by line.
type Reader struct {
	sc *bufio.Scanner
}

// NewReader creates a reader over the engine's standard output.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	return &Reader{sc: sc}
}

// Next returns the next message. Blank lines are skipped and io.EOF marks the
// end of the output. A line that is not a message yields a *LineError and the
// reader stays usable.
func (r *Reader) Next() (*Message, error) {
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, &LineError{Line: string(line), Err: fmt.Errorf("not a protocol message: %w", err)}
		}
		if err := msg.Type.Validate(); err != nil {
			return nil, &LineError{Line: string(line), Err: err}
		}
		return &msg, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read engine output: %w", err)
	}
	return nil, io.EOF
}

// LineError reports an output line that is not a protocol message. Callers
// pass Line through as plain engine output.
type LineError struct {
	Line string
	Err  error
}

func (e *LineError) Error() string { return e.Err.Error() }
func (e *LineError) Unwrap() error { return e.Err }

// ParseData decodes a message payload into target.
func ParseData(data json.RawMessage, target interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("message has no data")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}
	return nil
}
