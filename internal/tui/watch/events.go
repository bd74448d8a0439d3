package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/agentbridge/internal/events"
)

const visibleEvents = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render("EVENT STREAM")

	if len(eventLog) == 0 {
		return theme.Border.Width(innerWidth).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  Waiting for events...")),
		)
	}

	n := min(len(eventLog), visibleEvents)
	lines := make([]string, 0, n)
	for _, e := range eventLog[:n] {
		lines = append(lines, formatEvent(e, theme))
	}

	body := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))
	typeName := eventStyle(e, theme).Render(fmt.Sprintf("%-18s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

func eventStyle(e events.Event, theme Theme) lipgloss.Style {
	switch e.Type {
	case events.TypeRequestCompleted:
		var p events.RequestPayload
		_ = json.Unmarshal(e.Data, &p)
		return theme.ForStatus(p.Status)
	case events.TypeReplySent:
		return theme.Succeeded
	case events.TypeReplyFailed:
		return theme.Failed
	case events.TypeRequestStarted:
		return theme.Running
	case events.TypeRequestSubmitted, events.TypeMessageIgnored:
		return theme.Waiting
	case events.TypeJournalPruned, events.TypeChannelStatus:
		return theme.Highlight
	default:
		return theme.Dim
	}
}

// describeEvent renders the interesting payload fields on one line.
func describeEvent(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if id, ok := data["request_id"].(string); ok {
		parts = append(parts, fmt.Sprintf("[%s]", truncate(id, 8)))
	}
	for _, key := range []string{"conversation_id", "channel", "status", "state", "error"} {
		if v, ok := data[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	if v, ok := data["deleted"].(float64); ok {
		parts = append(parts, fmt.Sprintf("deleted=%d", int64(v)))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
