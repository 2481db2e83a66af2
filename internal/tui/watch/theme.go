// Package watch is the terminal monitor for a running jsoon-bridge: bridge
// health, a live invocation table and the raw event stream.
package watch

import "github.com/charmbracelet/lipgloss"

// Palette entries adapt to light and dark terminals.
var (
	colorGood    = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#5FD75F"}
	colorBusy    = lipgloss.AdaptiveColor{Light: "#B58900", Dark: "#FFD75F"}
	colorBad     = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#FF5F5F"}
	colorAccent  = lipgloss.AdaptiveColor{Light: "#5E35B1", Dark: "#875FFF"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#8A8A8A"}
	colorFaint   = lipgloss.AdaptiveColor{Light: "#BDBDBD", Dark: "#3A3A3A"}
	colorHeading = lipgloss.AdaptiveColor{Light: "#212121", Dark: "#EEEEEE"}
)

// Theme holds the styles the watch TUI renders with.
type Theme struct {
	StatusOK       lipgloss.Style
	StatusInFlight lipgloss.Style
	StatusFailed   lipgloss.Style

	Panel lipgloss.Style
	Title lipgloss.Style
	Dim   lipgloss.Style

	ActivityOn  lipgloss.Style
	ActivityOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	fg := func(c lipgloss.TerminalColor) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(c)
	}
	return Theme{
		StatusOK:       fg(colorGood),
		StatusInFlight: fg(colorBusy),
		StatusFailed:   fg(colorBad),

		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent),
		Title: fg(colorHeading).Bold(true).Padding(0, 1),
		Dim:   fg(colorMuted),

		ActivityOn:  fg(colorGood).Bold(true),
		ActivityOff: fg(colorFaint),
	}
}
