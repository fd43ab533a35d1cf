package installer

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/openfroyo/installer/pkg/ui"
)

// Presenter shows the progress of an interactive attempt. Present returns
// once the user acknowledged the dialog built by finish. finish blocks until
// the attempt has finished and must be called at most once.
type Presenter interface {
	Present(title string, lines <-chan string, finish func() ui.Dialog) error
}

// TerminalPresenter renders the progress dialog in the terminal.
type TerminalPresenter struct {
	Options []tea.ProgramOption
}

// Present implements Presenter.
func (p TerminalPresenter) Present(title string, lines <-chan string, finish func() ui.Dialog) error {
	_, err := ui.Run(title, lines, finish, p.Options...)
	return err
}
