package outcome

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteTable(t *testing.T) {
	tests := []struct {
		outcome      Outcome
		exitCode     int
		continuation bool
		severity     Severity
	}{
		{Ok, 0, false, SeverityInfo},
		{AlreadyInstalled, 0, false, SeverityInfo},
		{NewerVersionExists, 0, false, SeverityInfo},
		{NeedReboot, 0, true, SeverityWarning},
		{RebootContinue, 0, true, SeverityWarning},
		{Failed, 2, false, SeverityError},
		{IncompatibleApiVersion, 2, false, SeverityError},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			d, err := Route(tt.outcome)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.Equal(t, tt.exitCode, d.ExitCode)
			assert.Equal(t, tt.continuation, d.Continuation)
			assert.Equal(t, tt.severity, d.Severity)
			assert.NotEmpty(t, d.Message)
		})
	}
}

func TestRouteCoversAllOutcomes(t *testing.T) {
	for _, o := range All {
		_, err := Route(o)
		assert.NoError(t, err, "outcome %s must be routable", o)
	}
}

func TestRouteKeepsDistinctSuccessMessages(t *testing.T) {
	ok, err := Route(Ok)
	require.NoError(t, err)
	already, err := Route(AlreadyInstalled)
	require.NoError(t, err)
	newer, err := Route(NewerVersionExists)
	require.NoError(t, err)

	assert.NotEqual(t, ok.Message, already.Message)
	assert.NotEqual(t, ok.Message, newer.Message)
	assert.NotEqual(t, already.Message, newer.Message)
}

func TestRouteUnknownOutcome(t *testing.T) {
	d, err := Route(Outcome("EXPLODED"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownOutcome)
	assert.Equal(t, ErrorClassInternal, ClassOf(err))
	assert.Equal(t, Decision{}, d)
}

func TestFinalize(t *testing.T) {
	for _, o := range []Outcome{NeedReboot, RebootContinue} {
		d, err := Route(o)
		require.NoError(t, err)

		scheduled := d.Finalize(0)
		assert.Equal(t, ExitOK, scheduled.ExitCode)
		assert.Contains(t, scheduled.Message, "after reboot")

		failed := d.Finalize(5)
		assert.Equal(t, ExitArgument, failed.ExitCode)
		assert.Equal(t, SeverityError, failed.Severity)
		assert.Contains(t, failed.Message, "task FAILED")
	}

	d, err := Route(Failed)
	require.NoError(t, err)
	assert.Equal(t, d, d.Finalize(0), "non-continuation decisions are unchanged")
}

func TestRouteDownload(t *testing.T) {
	assert.Equal(t, ExitOK, RouteDownload(nil).ExitCode)

	d := RouteDownload(errors.New("connection refused"))
	assert.Equal(t, ExitFailure, d.ExitCode)
	assert.Contains(t, d.Message, "connection refused")
}

func TestPlainExitCode(t *testing.T) {
	ok, _ := Route(Ok)
	assert.Equal(t, ExitOK, ok.PlainExitCode())

	already, _ := Route(AlreadyInstalled)
	assert.Equal(t, ExitNotOK, already.PlainExitCode())

	failed, _ := Route(Failed)
	assert.Equal(t, ExitNotOK, failed.PlainExitCode())

	captured := RouteError(errors.New("boom"))
	assert.Equal(t, ExitFailure, captured.PlainExitCode())

	assert.Equal(t, ExitOK, RouteDownload(nil).PlainExitCode())
}

func TestDecisionLine(t *testing.T) {
	d, _ := Route(AlreadyInstalled)
	assert.Equal(t, "app-1.0.0 is already installed", d.Line("app-1.0.0"))
	assert.Equal(t, "is already installed", d.Line(""))
}

func TestParseOutcome(t *testing.T) {
	o, err := Parse("reboot-continue")
	require.NoError(t, err)
	assert.Equal(t, RebootContinue, o)

	_, err = Parse("maybe")
	assert.ErrorIs(t, err, ErrUnknownOutcome)
}

func TestOutcomeJSON(t *testing.T) {
	var o Outcome
	require.NoError(t, json.Unmarshal([]byte(`"already_installed"`), &o))
	assert.Equal(t, AlreadyInstalled, o)

	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &o))
}

func TestNewAttempt(t *testing.T) {
	a, err := NewAttempt(ActionDeploy, "productX", "1.0.0", false)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "productX-1.0.0", a.ProductAndVersion())

	b, err := NewAttempt(ActionDeploy, "productX", "1.0.0", false)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = NewAttempt(Action("install"), "productX", "1.0.0", false)
	assert.True(t, IsArgument(err))

	_, err = NewAttempt(ActionDownload, "", "1.0.0", false)
	assert.True(t, IsArgument(err))
}
