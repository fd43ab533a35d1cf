package continuation

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle state of a continuation task.
type State string

const (
	// StateIdle is the state of a task that has not been registered yet.
	StateIdle State = "idle"

	// StateScheduling indicates the script was written and registration is running.
	StateScheduling State = "scheduling"

	// StateScheduled indicates the OS accepted the task.
	StateScheduled State = "scheduled"

	// StateRebooting indicates the restart was requested. Nothing runs afterwards.
	StateRebooting State = "rebooting"

	// StateSchedulingFailed indicates the registration command failed.
	StateSchedulingFailed State = "scheduling_failed"
)

// Validate checks if the state is valid.
func (s State) Validate() error {
	switch s {
	case StateIdle, StateScheduling, StateScheduled, StateRebooting, StateSchedulingFailed:
		return nil
	default:
		return fmt.Errorf("invalid continuation state: %s", s)
	}
}

// IsTerminal returns true if no further transition is allowed.
func (s State) IsTerminal() bool {
	return s == StateRebooting || s == StateSchedulingFailed
}

// CanTransitionTo checks if a transition from s to target is allowed.
func (s State) CanTransitionTo(target State) bool {
	switch s {
	case StateIdle:
		return target == StateScheduling
	case StateScheduling:
		return target == StateScheduled || target == StateSchedulingFailed
	case StateScheduled:
		return target == StateRebooting
	default:
		return false
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	state := State(str)
	if err := state.Validate(); err != nil {
		return err
	}
	*s = state
	return nil
}
