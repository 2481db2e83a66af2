package watch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/tom-gora/jsoon-bridge/internal/bridge"
	"github.com/tom-gora/jsoon-bridge/internal/events"
	"github.com/tom-gora/jsoon-bridge/internal/history"
)

const statusRunning = "running"

// InvocationState is one row of the invocation table.
type InvocationState struct {
	ID        string
	Mode      string
	URLCount  int
	Status    string
	ErrorKind string
	Records   int
	StartedAt time.Time
	Duration  time.Duration
}

// invocationLog keeps invocations newest first, capped at limit.
type invocationLog struct {
	byID  map[string]*InvocationState
	order []string
	limit int
}

func newInvocationLog(limit int) *invocationLog {
	return &invocationLog{byID: make(map[string]*InvocationState), limit: limit}
}

// get returns the row for id, creating it at the top when new.
func (l *invocationLog) get(id string) *InvocationState {
	inv, ok := l.byID[id]
	if !ok {
		inv = &InvocationState{ID: id}
		l.byID[id] = inv
		l.order = append([]string{id}, l.order...)
		l.trim()
	}
	return inv
}

func (l *invocationLog) trim() {
	for len(l.order) > l.limit {
		last := l.order[len(l.order)-1]
		delete(l.byID, last)
		l.order = l.order[:len(l.order)-1]
	}
}

// rows returns invocations newest first.
func (l *invocationLog) rows() []*InvocationState {
	out := make([]*InvocationState, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

// running counts invocations started but not yet finished.
func (l *invocationLog) running() int {
	n := 0
	for _, inv := range l.byID {
		if inv.Status == statusRunning {
			n++
		}
	}
	return n
}

// seed appends history entries (newest first) behind the rows already
// known. Rows that live events created are left alone.
func (l *invocationLog) seed(entries []history.Entry) {
	for _, e := range entries {
		if _, ok := l.byID[e.ID]; ok {
			continue
		}
		l.byID[e.ID] = &InvocationState{
			ID:        e.ID,
			Mode:      e.Mode,
			URLCount:  e.URLCount,
			Status:    e.Status,
			ErrorKind: e.ErrorKind,
			Records:   e.RecordCount,
			StartedAt: e.StartedAt,
			Duration:  time.Duration(e.DurationMS) * time.Millisecond,
		}
		l.order = append(l.order, e.ID)
	}
	l.trim()
}

type invocationEventData struct {
	InvocationID string `json:"invocation_id"`
	Mode         string `json:"mode"`
	URLCount     int    `json:"url_count"`
	ErrorKind    string `json:"error_kind"`
	Records      int    `json:"records"`
	DurationMS   int64  `json:"duration_ms"`
}

// apply updates the log from one lifecycle event. Unknown events are ignored.
func (l *invocationLog) apply(e events.Event) {
	var d invocationEventData
	if err := json.Unmarshal(e.Data, &d); err != nil || d.InvocationID == "" {
		return
	}

	switch e.Type {
	case bridge.EventStarted:
		inv := l.get(d.InvocationID)
		inv.Mode = d.Mode
		inv.URLCount = d.URLCount
		inv.Status = statusRunning
		inv.StartedAt = e.At
	case bridge.EventSucceeded:
		inv := l.get(d.InvocationID)
		inv.Mode = d.Mode
		inv.Status = bridge.StatusSucceeded
		inv.Records = d.Records
		inv.Duration = time.Duration(d.DurationMS) * time.Millisecond
	case bridge.EventFailed:
		inv := l.get(d.InvocationID)
		inv.Mode = d.Mode
		inv.Status = bridge.StatusFailed
		inv.ErrorKind = d.ErrorKind
		inv.Duration = time.Duration(d.DurationMS) * time.Millisecond
	}
}

func newInvocationTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "ID", Width: 10},
			{Title: "Mode", Width: 6},
			{Title: "Started", Width: 8},
			{Title: "Duration", Width: 9},
			{Title: "Records", Width: 7},
			{Title: "Error", Width: 18},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func invocationRows(invs []*InvocationState) []table.Row {
	rows := make([]table.Row, 0, len(invs))
	for _, inv := range invs {
		id := inv.ID
		if len(id) > 8 {
			id = id[:8]
		}
		started := "-"
		if !inv.StartedAt.IsZero() {
			started = inv.StartedAt.Local().Format("15:04:05")
		}
		duration := "-"
		if inv.Status != statusRunning && inv.Duration > 0 {
			duration = formatDuration(inv.Duration)
		}
		records := "-"
		if inv.Status == bridge.StatusSucceeded {
			records = fmt.Sprintf("%d", inv.Records)
		}
		mode := inv.Mode
		if mode == string(bridge.ModeURLs) && inv.URLCount > 0 {
			mode = fmt.Sprintf("url×%d", inv.URLCount)
		}
		rows = append(rows, table.Row{
			statusIcon(inv.Status),
			id,
			mode,
			started,
			duration,
			records,
			inv.ErrorKind,
		})
	}
	return rows
}

func statusIcon(status string) string {
	switch status {
	case statusRunning:
		return "▶"
	case bridge.StatusSucceeded:
		return "✓"
	case bridge.StatusFailed:
		return "✗"
	default:
		return "?"
	}
}

func renderInvocations(t table.Model, running int, theme Theme, width int) string {
	title := theme.Title.Render(fmt.Sprintf("INVOCATIONS (%d running)", running))
	body := t.View()
	if len(t.Rows()) == 0 {
		body = theme.Dim.Render("  No invocations yet")
	}
	return theme.Panel.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}
