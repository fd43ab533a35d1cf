package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/openfroyo/installer/pkg/outcome"
)

var (
	colorAccent  = lipgloss.Color("#7B68EE")
	colorSuccess = lipgloss.Color("#50C878")
	colorWarning = lipgloss.Color("#FFB347")
	colorError   = lipgloss.Color("#FF6961")
	colorMuted   = lipgloss.Color("#808080")
	colorBorder  = lipgloss.Color("#3A3A5C")
)

var (
	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			MarginBottom(1)

	styleLog = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	styleDim = lipgloss.NewStyle().Foreground(colorMuted)

	styleDialog = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(1, 2).
			MarginTop(1)
)

// severityStyle returns the dialog accent for a decision severity.
func severityStyle(s outcome.Severity) lipgloss.Style {
	switch s {
	case outcome.SeverityError:
		return lipgloss.NewStyle().Foreground(colorError).Bold(true)
	case outcome.SeverityWarning:
		return lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	}
}

func severityColor(s outcome.Severity) lipgloss.Color {
	switch s {
	case outcome.SeverityError:
		return colorError
	case outcome.SeverityWarning:
		return colorWarning
	default:
		return colorSuccess
	}
}

func severityTitle(s outcome.Severity) string {
	switch s {
	case outcome.SeverityError:
		return "Error"
	case outcome.SeverityWarning:
		return "Warning"
	default:
		return "Information"
	}
}
