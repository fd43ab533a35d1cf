package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/installer/pkg/outcome"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func TestModelReadsLinesUntilClosed(t *testing.T) {
	source := make(chan string, 2)
	source <- "10:00:00 first"
	close(source)

	calls := 0
	m := NewModel("Deploying productX-1.0.0", source, func() Dialog {
		calls++
		return Dialog{Severity: outcome.SeverityInfo, Message: "productX-1.0.0 deployed successfully"}
	})

	msg := waitForLine(source)()
	assert.Equal(t, lineMsg("10:00:00 first"), msg)
	m, cmd := update(t, m, msg)
	require.NotNil(t, cmd)
	assert.Equal(t, []string{"10:00:00 first"}, m.lines)

	msg = cmd()
	assert.Equal(t, linesClosedMsg{}, msg)
	m, cmd = update(t, m, msg)
	require.NotNil(t, cmd)

	m, _ = update(t, m, cmd())
	assert.Equal(t, 1, calls)
	assert.False(t, m.running)
	require.NotNil(t, m.Result())
	assert.Contains(t, m.View(), "deployed successfully")
	assert.Contains(t, m.View(), "Press enter")
}

func TestModelCannotQuitWhileRunning(t *testing.T) {
	m := NewModel("Deploying", make(chan string), func() Dialog { return Dialog{} })

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd)
	assert.True(t, m.running)
	assert.True(t, m.interrupted)
	assert.Contains(t, m.View(), "Cannot cancel")
}

func TestModelQuitsOnAcknowledge(t *testing.T) {
	m := NewModel("Deploying", make(chan string), func() Dialog { return Dialog{} })
	m, _ = update(t, m, finishedMsg{dialog: Dialog{Severity: outcome.SeverityError, Message: "deploying failed", Detail: "engine failed: boom"}})

	view := m.View()
	assert.Contains(t, view, "Error")
	assert.Contains(t, view, "engine failed: boom")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.quitting)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModelShowsOnlyTail(t *testing.T) {
	m := NewModel("Deploying", make(chan string), func() Dialog { return Dialog{} })
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 13})
	require.Equal(t, 3, m.visible)

	for i := 0; i < 20; i++ {
		m, _ = update(t, m, lineMsg(strings.Repeat("x", i+1)))
	}
	assert.Equal(t, []string{strings.Repeat("x", 18), strings.Repeat("x", 19), strings.Repeat("x", 20)}, m.tail())
	assert.LessOrEqual(t, len(m.lines), 4*m.visible)
}

func TestSeverityTitles(t *testing.T) {
	assert.Equal(t, "Information", severityTitle(outcome.SeverityInfo))
	assert.Equal(t, "Warning", severityTitle(outcome.SeverityWarning))
	assert.Equal(t, "Error", severityTitle(outcome.SeverityError))
}
