package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks bridge health from /healthz polling.
type HealthState struct {
	Status         string
	UptimeSeconds  int64
	InFlight       int
	Waiting        int
	Conversations  int
	MaxConcurrent  int
	JournalEnabled bool
	Connected      bool
	LastCheck      time.Time
}

func (h *HealthState) apply(msg healthMsg) {
	h.Status = msg.Status
	h.UptimeSeconds = msg.UptimeSeconds
	h.InFlight = msg.InFlight
	h.Waiting = msg.Waiting
	h.Conversations = msg.Conversations
	h.MaxConcurrent = msg.MaxConcurrent
	h.JournalEnabled = msg.JournalEnabled
	h.Connected = true
	h.LastCheck = time.Now()
}

func renderHeader(health HealthState, activity Activity, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.Succeeded.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.Failed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.Failed.Render("DEGRADED")
	}

	lastEvent := "never"
	if !activity.Last().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", time.Since(activity.Last()).Round(time.Second))
	}

	title := " AGENTBRIDGE WATCH"
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := theme.Highlight.Render(title) + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  Running: %d/%d  Waiting: %d  Conversations: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.InFlight, health.MaxConcurrent,
		health.Waiting,
		health.Conversations,
	)
	if !health.JournalEnabled {
		statsLine += theme.Dim.Render("  (journal off)")
	}

	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, activity.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
