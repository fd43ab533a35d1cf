// Package outcome classifies the result of a single deployment attempt.
//
// The deployment engine reports exactly one Outcome per attempt. Route maps
// that outcome to the process exit code, the message shown to the caller and
// whether a reboot continuation has to be scheduled. Interactive and headless
// callers both go through Route so they never disagree about success.
package outcome

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome is the closed set of results the deployment engine can return.
type Outcome string

const (
	// Ok indicates the product was deployed.
	Ok Outcome = "OK"

	// AlreadyInstalled indicates the requested version is already deployed.
	AlreadyInstalled Outcome = "ALREADY_INSTALLED"

	// NewerVersionExists indicates a newer version is already deployed.
	NewerVersionExists Outcome = "NEWER_VERSION_EXISTS"

	// NeedReboot indicates the host must restart before the engine can proceed.
	NeedReboot Outcome = "NEED_REBOOT"

	// RebootContinue indicates a deployment that is half done and resumes after restart.
	RebootContinue Outcome = "REBOOT_CONTINUE"

	// Failed indicates a terminal deployment failure.
	Failed Outcome = "FAILED"

	// IncompatibleApiVersion indicates an engine/product contract mismatch.
	IncompatibleApiVersion Outcome = "INCOMPATIBLE_API_VERSION"
)

// All lists every known outcome in declaration order.
var All = []Outcome{
	Ok, AlreadyInstalled, NewerVersionExists,
	NeedReboot, RebootContinue,
	Failed, IncompatibleApiVersion,
}

// Validate checks if the outcome is one of the known values.
func (o Outcome) Validate() error {
	switch o {
	case Ok, AlreadyInstalled, NewerVersionExists,
		NeedReboot, RebootContinue,
		Failed, IncompatibleApiVersion:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOutcome, string(o))
	}
}

// Parse converts the wire form of an outcome. Matching is case-insensitive
// and accepts '-' in place of '_'.
func Parse(s string) (Outcome, error) {
	o := Outcome(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if err := o.Validate(); err != nil {
		return "", err
	}
	return o, nil
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(o))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := Parse(str)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Action is the operation an attempt performs against the engine.
type Action string

const (
	ActionDownload Action = "download"
	ActionDeploy   Action = "deploy"
	ActionUndeploy Action = "undeploy"
)

// Validate checks if the action is valid.
func (a Action) Validate() error {
	switch a {
	case ActionDownload, ActionDeploy, ActionUndeploy:
		return nil
	default:
		return NewArgumentError(fmt.Sprintf("unknown command: %s", a), nil)
	}
}

// Label returns the progress label used for log file names and dialog titles.
func (a Action) Label() string {
	switch a {
	case ActionDownload:
		return "Downloading"
	case ActionDeploy:
		return "Deploying"
	case ActionUndeploy:
		return "Undeploying"
	default:
		return string(a)
	}
}

// Attempt is one (product, version, action) invocation of the engine.
type Attempt struct {
	// ID uniquely identifies the attempt.
	ID string `json:"id"`

	Product string `json:"product"`
	Version string `json:"version"`
	Action  Action `json:"action"`

	// AfterReboot is set when this attempt resumes a deployment after restart.
	AfterReboot bool `json:"after_reboot"`

	StartedAt time.Time `json:"started_at"`
}

// NewAttempt creates an attempt with a fresh id.
func NewAttempt(action Action, product, version string, afterReboot bool) (*Attempt, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}
	if product == "" {
		return nil, NewArgumentError("product is required", nil)
	}
	if version == "" {
		return nil, NewArgumentError("version is required", nil)
	}
	return &Attempt{
		ID:          uuid.New().String(),
		Product:     product,
		Version:     version,
		Action:      action,
		AfterReboot: afterReboot,
		StartedAt:   time.Now(),
	}, nil
}

// ProductAndVersion returns the "<product>-<version>" form used in messages.
func (a *Attempt) ProductAndVersion() string {
	return a.Product + "-" + a.Version
}
