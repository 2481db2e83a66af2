package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks bridge health from /healthz polling.
type HealthState struct {
	Status           string
	UptimeSeconds    int64
	WorkerPath       string
	WorkerFound      bool
	InFlight         int64
	MaxConcurrent    int
	EventSubscribers int
	HistoryEnabled   bool
	Connected        bool
	LastCheck        time.Time
}

func (h *HealthState) update(msg healthMsg, now time.Time) {
	h.Status = msg.Status
	h.UptimeSeconds = msg.UptimeSeconds
	h.WorkerPath = msg.WorkerPath
	h.WorkerFound = msg.WorkerFound
	h.InFlight = msg.InFlight
	h.MaxConcurrent = msg.MaxConcurrent
	h.EventSubscribers = msg.EventSubscribers
	h.HistoryEnabled = msg.HistoryEnabled
	h.Connected = true
	h.LastCheck = now
}

// Activity lights up on events and fades over ten seconds.
type Activity struct {
	lastEvent time.Time
}

func (a *Activity) OnEvent(now time.Time) {
	a.lastEvent = now
}

// Level returns 0..5, five meaning an event in the last two seconds.
func (a Activity) Level(now time.Time) int {
	if a.lastEvent.IsZero() {
		return 0
	}
	elapsed := now.Sub(a.lastEvent)
	if elapsed > 10*time.Second {
		return 0
	}
	return 5 - int(elapsed/(2*time.Second))
}

func (a Activity) Render(theme Theme, now time.Time) string {
	level := a.Level(now)
	var b strings.Builder
	for i := range 5 {
		if i < level {
			b.WriteString(theme.ActivityOn.Render("●"))
		} else {
			b.WriteString(theme.ActivityOff.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(health HealthState, activity Activity, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	switch {
	case !health.Connected:
		statusText = theme.StatusFailed.Render("CONNECTING")
	case health.Status != "ok" && health.Status != "":
		statusText = theme.StatusFailed.Render(strings.ToUpper(health.Status))
	}

	worker := theme.StatusOK.Render("worker ok")
	if health.Connected && !health.WorkerFound {
		worker = theme.StatusFailed.Render("worker missing")
	}

	lastEvent := "never"
	if !activity.lastEvent.IsZero() {
		lastEvent = fmt.Sprintf("%s ago", now.Sub(activity.lastEvent).Round(time.Second))
	}

	clock := theme.Dim.Render(now.Format("15:04:05"))
	title := " JSOON-BRIDGE WATCH"
	pad := max(1, innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  %s  ⏱ %s  In flight: %d/%d  Subscribers: %d",
		statusText,
		worker,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.InFlight, health.MaxConcurrent,
		health.EventSubscribers,
	)

	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, activity.Render(theme, now))
	if health.WorkerPath != "" {
		activityLine += theme.Dim.Render("  " + health.WorkerPath)
	}

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Panel.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
