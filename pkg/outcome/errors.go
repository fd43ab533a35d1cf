package outcome

import (
	"errors"
	"fmt"
)

// Process exit codes shared by every caller.
const (
	// ExitOK is returned for every success-class outcome, including a
	// successfully scheduled reboot continuation.
	ExitOK = 0

	// ExitArgument is returned for malformed invocations and scheduling failures.
	ExitArgument = 1

	// ExitFailure is returned for deployment failures and uncaught errors.
	ExitFailure = 2

	// ExitNotOK is returned by the plain CLI variant for any deploy result other than Ok.
	ExitNotOK = 3
)

// ErrUnknownOutcome is returned when the engine reports a value outside the contract.
var ErrUnknownOutcome = errors.New("invalid deployment result")

// ErrorClass represents the classification of an error for exit-code selection.
type ErrorClass string

const (
	// ErrorClassArgument indicates a malformed invocation that never reached the engine.
	ErrorClassArgument ErrorClass = "argument"

	// ErrorClassScheduling indicates the continuation task could not be registered.
	ErrorClassScheduling ErrorClass = "scheduling"

	// ErrorClassEngine indicates the engine failed or raised an error.
	ErrorClassEngine ErrorClass = "engine"

	// ErrorClassInternal indicates a defect in this program or a violated engine contract.
	ErrorClassInternal ErrorClass = "internal"
)

// ClassifiedError represents an error with a class and optional code.
type ClassifiedError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *ClassifiedError) Is(target error) bool {
	t, ok := target.(*ClassifiedError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithCode adds an error code to an error.
func (e *ClassifiedError) WithCode(code string) *ClassifiedError {
	e.Code = code
	return e
}

// NewArgumentError creates an error for a malformed invocation.
func NewArgumentError(message string, err error) *ClassifiedError {
	return &ClassifiedError{Class: ErrorClassArgument, Message: message, Err: err}
}

// NewSchedulingError creates an error for a failed continuation registration.
func NewSchedulingError(message string, err error) *ClassifiedError {
	return &ClassifiedError{Class: ErrorClassScheduling, Message: message, Err: err}
}

// NewEngineError creates an error for an engine failure.
func NewEngineError(message string, err error) *ClassifiedError {
	return &ClassifiedError{Class: ErrorClassEngine, Message: message, Err: err}
}

// NewInternalError creates an error for a defect.
func NewInternalError(message string, err error) *ClassifiedError {
	return &ClassifiedError{Class: ErrorClassInternal, Message: message, Err: err}
}

// ClassOf returns the class of the first ClassifiedError in the chain.
// Unclassified errors are treated as engine errors.
func ClassOf(err error) ErrorClass {
	var e *ClassifiedError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassEngine
}

// IsArgument returns true if the error is classified as an argument error.
func IsArgument(err error) bool {
	return err != nil && ClassOf(err) == ErrorClassArgument
}

// IsScheduling returns true if the error is classified as a scheduling error.
func IsScheduling(err error) bool {
	return err != nil && ClassOf(err) == ErrorClassScheduling
}

// ExitCodeFor maps an error to the process exit code. A nil error maps to ExitOK.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	switch ClassOf(err) {
	case ErrorClassArgument, ErrorClassScheduling:
		return ExitArgument
	default:
		return ExitFailure
	}
}

// Common error codes.
const (
	ErrCodeMissingArgument = "MISSING_ARGUMENT"
	ErrCodeSilentNoResult  = "SILENT_WITHOUT_RESULT_FOLDER"
	ErrCodeRegistration    = "TASK_REGISTRATION_FAILED"
	ErrCodeUnknownOutcome  = "UNKNOWN_OUTCOME"
	ErrCodePanic           = "PANIC"
)
