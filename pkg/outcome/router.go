package outcome

import "fmt"

// Severity selects how a decision is presented to an interactive caller.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Decision is the routed result of one attempt.
type Decision struct {
	// Outcome is the engine value the decision was routed from. Empty for
	// download attempts and captured errors.
	Outcome Outcome `json:"outcome,omitempty"`

	// ExitCode is the process exit code. For continuation decisions it is
	// provisional until Finalize is called with the registration result.
	ExitCode int `json:"exit_code"`

	// Message is the user-visible text without the product prefix.
	Message string `json:"message"`

	// Continuation is true when a reboot continuation must be scheduled.
	Continuation bool `json:"continuation"`

	// Severity is the dialog class for interactive callers.
	Severity Severity `json:"severity"`

	// Err is the captured error, if any.
	Err error `json:"-"`
}

// Route maps an engine outcome to a decision. Every arm is independent; an
// unrecognized value is a violated engine contract and returns an internal
// error instead of an exit code.
func Route(o Outcome) (Decision, error) {
	switch o {
	case Ok:
		return Decision{Outcome: o, ExitCode: ExitOK, Message: "deployed successfully", Severity: SeverityInfo}, nil
	case AlreadyInstalled:
		return Decision{Outcome: o, ExitCode: ExitOK, Message: "is already installed", Severity: SeverityInfo}, nil
	case NewerVersionExists:
		return Decision{Outcome: o, ExitCode: ExitOK, Message: "is not installed, a newer version already exists", Severity: SeverityInfo}, nil
	case NeedReboot:
		return Decision{Outcome: o, ExitCode: ExitOK, Message: "needs a reboot before deployment can proceed", Continuation: true, Severity: SeverityWarning}, nil
	case RebootContinue:
		return Decision{Outcome: o, ExitCode: ExitOK, Message: "deployment continues after reboot", Continuation: true, Severity: SeverityWarning}, nil
	case Failed:
		return Decision{Outcome: o, ExitCode: ExitFailure, Message: "deploying failed", Severity: SeverityError}, nil
	case IncompatibleApiVersion:
		return Decision{Outcome: o, ExitCode: ExitFailure, Message: "deploying failed: incompatible engine API version", Severity: SeverityError}, nil
	default:
		return Decision{}, NewInternalError("invalid result", fmt.Errorf("%w: %q", ErrUnknownOutcome, string(o))).
			WithCode(ErrCodeUnknownOutcome)
	}
}

// Finalize resolves a continuation decision with the exit code of the task
// registration command. Decisions without a continuation are returned as is.
func (d Decision) Finalize(registrationExitCode int) Decision {
	if !d.Continuation {
		return d
	}
	if registrationExitCode == 0 {
		d.ExitCode = ExitOK
		d.Message = "installation will be successful after reboot"
		d.Severity = SeverityWarning
		return d
	}
	d.ExitCode = ExitArgument
	d.Message = fmt.Sprintf("can't create task to exec after reboot, task FAILED (exit code %d)", registrationExitCode)
	d.Severity = SeverityError
	return d
}

// RouteDownload maps the result of a download attempt.
func RouteDownload(err error) Decision {
	if err != nil {
		return RouteError(err)
	}
	return Decision{ExitCode: ExitOK, Message: "downloaded successfully", Severity: SeverityInfo}
}

// RouteError maps an error captured while running an attempt.
func RouteError(err error) Decision {
	return Decision{
		ExitCode: ExitCodeFor(err),
		Message:  "failed: " + err.Error(),
		Severity: SeverityError,
		Err:      err,
	}
}

// Line renders the decision with the product prefix, e.g. "app-1.0.0 is already installed".
func (d Decision) Line(productAndVersion string) string {
	if productAndVersion == "" {
		return d.Message
	}
	return productAndVersion + " " + d.Message
}

// Succeeded returns true if the decision maps to a zero exit code.
func (d Decision) Succeeded() bool {
	return d.ExitCode == ExitOK
}

// PlainExitCode is the exit code used by the plain CLI variant: any deploy
// outcome other than Ok is reported as ExitNotOK, errors keep their code.
func (d Decision) PlainExitCode() int {
	if d.Err != nil {
		return d.ExitCode
	}
	if d.Outcome != "" && d.Outcome != Ok {
		return ExitNotOK
	}
	return d.ExitCode
}
