package continuation

import (
	"context"
	"errors"
	"os/exec"
)

// CommandRunner runs an external command and returns its combined output.
// A non-zero exit is reported as an error that exposes ExitCode.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// exitCoder is satisfied by *exec.ExitError and by test doubles.
type exitCoder interface {
	ExitCode() int
}

// ExitCodeOf extracts the process exit code from a CommandRunner error.
// It returns 0 for nil and -1 when the command could not be started.
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ec exitCoder
	if errors.As(err, &ec) {
		if code := ec.ExitCode(); code != 0 {
			return code
		}
	}
	return -1
}
