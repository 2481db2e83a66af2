package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/tom-gora/jsoon-bridge/internal/bridge"
	"github.com/tom-gora/jsoon-bridge/internal/events"
)

const (
	eventLogSize  = 50
	eventViewRows = 8
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	title := theme.Title.Render("EVENT STREAM")
	if len(eventLog) == 0 {
		return theme.Panel.Width(width - 4).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  Waiting for events...")))
	}

	lines := make([]string, 0, eventViewRows)
	for i, e := range eventLog {
		if i >= eventViewRows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}
	body := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	return theme.Panel.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func formatEvent(e events.Event, theme Theme) string {
	var style lipgloss.Style
	switch e.Type {
	case bridge.EventSucceeded:
		style = theme.StatusOK
	case bridge.EventFailed:
		style = theme.StatusFailed
	case bridge.EventStarted:
		style = theme.StatusInFlight
	default:
		style = theme.Dim
	}
	return fmt.Sprintf("%s %s %s",
		theme.Dim.Render(e.At.Local().Format("15:04:05")),
		style.Render(fmt.Sprintf("%-22s", e.Type)),
		describeEvent(e),
	)
}

// describeEvent is a one-line summary of an event payload.
func describeEvent(e events.Event) string {
	var d struct {
		invocationEventData
		Error string `json:"error"`
	}
	if err := json.Unmarshal(e.Data, &d); err != nil || d.InvocationID == "" {
		return ansi.Truncate(string(e.Data), 60, "…")
	}

	id := d.InvocationID
	if len(id) > 8 {
		id = id[:8]
	}
	parts := []string{fmt.Sprintf("[%s]", id), d.Mode}

	switch e.Type {
	case bridge.EventSucceeded:
		parts = append(parts, fmt.Sprintf("%d record(s)", d.Records))
	case bridge.EventFailed:
		parts = append(parts, d.ErrorKind)
		if d.Error != "" {
			parts = append(parts, ansi.Truncate(d.Error, 50, "…"))
		}
	}
	return strings.Join(parts, " ")
}
