package outcome

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"argument", NewArgumentError("missing product", nil), ExitArgument},
		{"scheduling", NewSchedulingError("schtasks failed", nil), ExitArgument},
		{"engine", NewEngineError("download failed", nil), ExitFailure},
		{"internal", NewInternalError("bad result", nil), ExitFailure},
		{"unclassified", errors.New("plain"), ExitFailure},
		{"wrapped argument", fmt.Errorf("parse: %w", NewArgumentError("bad flag", nil)), ExitArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
		})
	}
}

func TestClassifiedErrorChain(t *testing.T) {
	cause := errors.New("access denied")
	err := NewSchedulingError("register task", cause).WithCode(ErrCodeRegistration)

	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.Is(err, &ClassifiedError{Class: ErrorClassScheduling, Code: ErrCodeRegistration}))
	assert.False(t, errors.Is(err, &ClassifiedError{Class: ErrorClassEngine, Code: ErrCodeRegistration}))
	assert.Equal(t, "[scheduling] register task: access denied", err.Error())
	assert.True(t, IsScheduling(err))
	assert.False(t, IsArgument(err))
}
