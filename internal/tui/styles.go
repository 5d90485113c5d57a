package tui

import "github.com/charmbracelet/lipgloss"

// Color palette - Dracula theme inspired.
var (
	colorPurple   = lipgloss.Color("#bd93f9")
	colorGreen    = lipgloss.Color("#50fa7b")
	colorYellow   = lipgloss.Color("#f1fa8c")
	colorOrange   = lipgloss.Color("#ffb86c")
	colorRed      = lipgloss.Color("#ff5555")
	colorWhite    = lipgloss.Color("#f8f8f2")
	colorGray     = lipgloss.Color("#6272a4")
	colorDarkGray = lipgloss.Color("#44475a")
)

// Styles holds all the lipgloss styles for the TUI.
type Styles struct {
	Header lipgloss.Style
	Box    lipgloss.Style

	// Outcome styles
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style

	// Help line
	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

// DefaultStyles returns the default style configuration.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPurple).
			MarginBottom(1),

		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDarkGray).
			Padding(1, 2),

		Success: lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true),

		Warning: lipgloss.NewStyle().
			Foreground(colorYellow).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(colorGray),

		HelpKey: lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true),

		HelpText: lipgloss.NewStyle().
			Foreground(colorGray),
	}
}

// PlainStyles returns styles without colors or borders.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:   plain.MarginBottom(1),
		Box:      plain,
		Success:  plain,
		Warning:  plain,
		Error:    plain,
		Muted:    plain,
		HelpKey:  plain,
		HelpText: plain,
	}
}

// spinnerColor is the accent used for the loading indicator.
var spinnerColor lipgloss.TerminalColor = colorOrange

// statusColor is the foreground used for a status name in tables.
func statusColor(name string) lipgloss.TerminalColor {
	switch name {
	case "SUCCEEDED":
		return colorGreen
	case "CANCELLED":
		return colorYellow
	case "TIMED_OUT", "POPUP_BLOCKED":
		return colorRed
	default:
		return colorWhite
	}
}
