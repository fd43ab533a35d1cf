package installer

import (
	"errors"
	"strings"

	"github.com/openfroyo/installer/pkg/outcome"
)

// Request is one installer invocation as parsed from the command line.
type Request struct {
	Action  outcome.Action
	Product string
	Version string

	// ResultFolder enables the file-based exit channel.
	ResultFolder string

	// Silent suppresses the interactive dialog. Requires ResultFolder.
	Silent bool

	// AfterReboot marks the resumption of a deployment after restart.
	AfterReboot bool

	// Stacktrace prints the full error chain of a captured failure.
	Stacktrace bool

	// Plain reports any deploy outcome other than Ok with exit code 3.
	Plain bool

	// ConfigPath is the explicit settings file, forwarded to continuations.
	ConfigPath string
}

// Validate checks the request before anything reaches the engine.
func (r Request) Validate() error {
	if err := r.Action.Validate(); err != nil {
		return err
	}
	if r.Product == "" {
		return outcome.NewArgumentError("product is required", nil).WithCode(outcome.ErrCodeMissingArgument)
	}
	if r.Version == "" {
		return outcome.NewArgumentError("version is required", nil).WithCode(outcome.ErrCodeMissingArgument)
	}
	if r.Silent && r.ResultFolder == "" {
		return outcome.NewArgumentError("silent mode requires a result folder", nil).WithCode(outcome.ErrCodeSilentNoResult)
	}
	return nil
}

// ErrorChain renders err and each of its causes on its own line.
func ErrorChain(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			b.WriteString("\ncaused by: ")
		}
		b.WriteString(err.Error())
		err = errors.Unwrap(err)
	}
	return b.String()
}
