package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tom-gora/jsoon-bridge/internal/events"
)

const (
	historyLimit    = 50
	healthInterval  = 5 * time.Second
	reconnectDelay  = 3 * time.Second
	refreshInterval = time.Second
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	client *Client
	keys   KeyMap
	theme  Theme

	width  int
	height int

	health      HealthState
	invocations *invocationLog
	eventLog    []events.Event
	lastEventID int64
	activity    Activity
	table       table.Model

	hubEvents chan events.Event
	lastError string

	now func() time.Time
}

// New creates a watch model for the bridge at apiURL.
func New(apiURL, apiKey string) *Model {
	return &Model{
		client:      NewClient(apiURL, apiKey),
		keys:        DefaultKeyMap,
		theme:       NewDefaultTheme(),
		invocations: newInvocationLog(historyLimit),
		eventLog:    make([]events.Event, 0, eventLogSize),
		table:       newInvocationTable(),
		hubEvents:   make(chan events.Event, 100),
		now:         time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.Subscribe(0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.FetchHealth,
		func() tea.Msg { return m.client.FetchInvocations(historyLimit) },
		tick(),
		tea.EnterAltScreen,
	)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, func() tea.Msg { return m.client.FetchInvocations(historyLimit) }
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(3, msg.Height-24))

	case tickMsg:
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		if e.ID > 0 && e.ID <= m.lastEventID {
			return m, receiveNextEvent(m.hubEvents)
		}
		if e.ID > 0 {
			m.lastEventID = e.ID
		}

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}
		m.activity.OnEvent(m.now())
		m.invocations.apply(e)
		m.table.SetRows(invocationRows(m.invocations.rows()))

		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case invocationsMsg:
		m.invocations.seed(msg)
		m.table.SetRows(invocationRows(m.invocations.rows()))

	case healthMsg:
		m.health.update(msg, m.now())
		m.lastError = ""
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.client.FetchHealth() })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel.
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.client.Subscribe(m.lastEventID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.client.FetchHealth() })
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to jsoon-bridge..."
	}
	now := m.now()

	parts := []string{
		renderHeader(m.health, m.activity, m.theme, m.width, now),
		renderInvocations(m.table, m.invocations.running(), m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(helpLine(m.keys)))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
