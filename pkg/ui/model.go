// Package ui renders the interactive progress dialog: a spinner with the
// most recent log lines while an attempt runs, then a modal result dialog
// that stays open until the user acknowledges it.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/openfroyo/installer/pkg/outcome"
)

// DefaultVisibleLines is the number of log lines shown while running.
const DefaultVisibleLines = 12

// Dialog is the modal shown when an attempt finishes.
type Dialog struct {
	Severity outcome.Severity
	Message  string
	// Detail is shown below the message, typically the captured error chain.
	Detail string
}

// Messages.
type lineMsg string
type linesClosedMsg struct{}
type finishedMsg struct{ dialog Dialog }

// Model is the progress dialog model.
type Model struct {
	title   string
	spinner spinner.Model
	lines   []string
	visible int
	width   int

	source <-chan string
	finish func() Dialog

	running  bool
	dialog   *Dialog
	quitting bool
	// interrupted is set when the user tried to quit while running.
	interrupted bool
}

// NewModel creates a dialog titled title that shows lines from source.
// When source is closed finish is called once to obtain the result dialog.
func NewModel(title string, source <-chan string, finish func() Dialog) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styleTitle.UnsetMarginBottom()

	return Model{
		title:   title,
		spinner: s,
		visible: DefaultVisibleLines,
		source:  source,
		finish:  finish,
		running: true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForLine(m.source))
}

func waitForLine(source <-chan string) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-source
		if !ok {
			return linesClosedMsg{}
		}
		return lineMsg(line)
	}
}

func finishCmd(finish func() Dialog) tea.Cmd {
	return func() tea.Msg {
		return finishedMsg{dialog: finish()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if msg.Height > 10 {
			m.visible = msg.Height - 10
		}
		return m, nil

	case lineMsg:
		m.lines = append(m.lines, string(msg))
		if len(m.lines) > 4*m.visible {
			m.lines = append([]string(nil), m.lines[len(m.lines)-m.visible:]...)
		}
		return m, waitForLine(m.source)

	case linesClosedMsg:
		return m, finishCmd(m.finish)

	case finishedMsg:
		m.running = false
		d := msg.dialog
		m.dialog = &d
		return m, nil

	case tea.KeyMsg:
		if m.running {
			// The attempt cannot be cancelled once started.
			if msg.String() == "ctrl+c" {
				m.interrupted = true
			}
			return m, nil
		}
		switch msg.String() {
		case "enter", "esc", "q", " ", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	if m.running {
		b.WriteString(m.spinner.View() + " " + styleTitle.Render(m.title))
	} else {
		b.WriteString(styleTitle.Render(m.title))
	}
	b.WriteString("\n")

	if tail := m.tail(); len(tail) > 0 {
		logView := styleLog
		if m.width > 4 {
			logView = logView.Width(m.width - 4)
		}
		b.WriteString(logView.Render(strings.Join(tail, "\n")))
		b.WriteString("\n")
	}

	if m.running {
		if m.interrupted {
			b.WriteString(styleDim.Render("Cannot cancel while running, please wait."))
		} else {
			b.WriteString(styleDim.Render("Please wait..."))
		}
		return b.String()
	}

	if m.dialog != nil {
		b.WriteString(renderDialog(*m.dialog))
		b.WriteString("\n")
		b.WriteString(styleDim.Render("Press enter to close."))
	}
	return b.String()
}

func renderDialog(d Dialog) string {
	body := severityStyle(d.Severity).Render(severityTitle(d.Severity)) + "\n\n" + d.Message
	if d.Detail != "" {
		body += "\n\n" + styleDim.Render(d.Detail)
	}
	return styleDialog.BorderForeground(severityColor(d.Severity)).Render(body)
}

func (m Model) tail() []string {
	if len(m.lines) <= m.visible {
		return m.lines
	}
	return m.lines[len(m.lines)-m.visible:]
}

// Result returns the dialog shown to the user, or nil if none was shown.
func (m Model) Result() *Dialog {
	return m.dialog
}

// Run shows the dialog until the user acknowledges the result and returns
// the dialog that was displayed.
func Run(title string, source <-chan string, finish func() Dialog, opts ...tea.ProgramOption) (Dialog, error) {
	p := tea.NewProgram(NewModel(title, source, finish), opts...)
	final, err := p.Run()
	if err != nil {
		return Dialog{}, fmt.Errorf("failed to run progress dialog: %w", err)
	}
	m, ok := final.(Model)
	if !ok || m.dialog == nil {
		return Dialog{}, fmt.Errorf("progress dialog closed without a result")
	}
	return *m.dialog, nil
}
