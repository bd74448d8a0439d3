package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/agentbridge/internal/events"
)

const maxTrackedRequests = 200

// RequestState tracks one agent request seen on the event stream.
type RequestState struct {
	ID             string
	ConversationID string
	Status         string
	Reply          string
	Submitted      time.Time
	Started        time.Time
	Ended          time.Time
}

// updateRequestState applies one event to the tracked requests.
func updateRequestState(requests map[string]*RequestState, e events.Event) {
	var p events.RequestPayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.RequestID == "" {
		return
	}

	r, ok := requests[p.RequestID]
	if !ok {
		r = &RequestState{ID: p.RequestID, ConversationID: p.ConversationID, Submitted: e.At}
		requests[p.RequestID] = r
	}

	switch e.Type {
	case events.TypeRequestSubmitted:
		if r.Status == "" {
			r.Status = "queued"
		}
	case events.TypeRequestStarted:
		r.Status = "running"
		r.Started = e.At
	case events.TypeRequestCompleted:
		r.Status = p.Status
		r.Ended = e.At
	case events.TypeReplySent:
		r.Reply = "sent"
	case events.TypeReplyFailed:
		r.Reply = "failed"
	}

	if len(requests) > maxTrackedRequests {
		evictOldest(requests)
	}
}

// evictOldest drops the oldest finished request.
func evictOldest(requests map[string]*RequestState) {
	var oldest *RequestState
	for _, r := range requests {
		if r.Ended.IsZero() {
			continue
		}
		if oldest == nil || r.Submitted.Before(oldest.Submitted) {
			oldest = r
		}
	}
	if oldest != nil {
		delete(requests, oldest.ID)
	}
}

// sortedRequests returns requests newest first.
func sortedRequests(requests map[string]*RequestState) []*RequestState {
	out := make([]*RequestState, 0, len(requests))
	for _, r := range requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].ID > out[j].ID
		}
		return out[i].Submitted.After(out[j].Submitted)
	})
	return out
}

func newRequestTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Conversation", Width: 24},
			{Title: "Request", Width: 10},
			{Title: "Status", Width: 12},
			{Title: "Reply", Width: 7},
			{Title: "Duration", Width: 9},
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

func requestRows(requests map[string]*RequestState, now time.Time) []table.Row {
	sorted := sortedRequests(requests)
	rows := make([]table.Row, 0, len(sorted))
	for _, r := range sorted {
		rows = append(rows, table.Row{
			statusIcon(r.Status),
			truncate(r.ConversationID, 24),
			truncate(r.ID, 8),
			r.Status,
			r.Reply,
			requestDuration(r, now),
		})
	}
	return rows
}

func renderRequests(t table.Model, count int, theme Theme, width int) string {
	title := theme.Title.Render(fmt.Sprintf("REQUESTS (%d)", count))
	body := t.View()
	if count == 0 {
		body = theme.Dim.Render("  No requests yet")
	}
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func statusIcon(status string) string {
	switch status {
	case "queued":
		return "·"
	case "running":
		return "▶"
	case "succeeded":
		return "✓"
	case "cancelled":
		return "-"
	default:
		return "✗"
	}
}

func requestDuration(r *RequestState, now time.Time) string {
	if r.Started.IsZero() {
		return ""
	}
	end := r.Ended
	if end.IsZero() {
		end = now
	}
	return formatDuration(end.Sub(r.Started))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
