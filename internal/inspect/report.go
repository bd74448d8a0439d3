// Package inspect renders the journaled history of a single agent request.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/agentbridge/internal/journal"
)

// conversationWindow is how many neighbouring requests of the same
// conversation a report includes.
const conversationWindow = 10

// Source reads journal entries. *journal.Journal satisfies it.
type Source interface {
	Get(ctx context.Context, id string) (*journal.Entry, error)
	List(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
}

// Report is the structured JSON representation of a request report.
type Report struct {
	RequestID      string    `json:"request_id"`
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	TextLength     int       `json:"text_length"`
	SubmittedAt    time.Time `json:"submitted_at"`
	// QueueWaitMS is the time between submission and process start.
	QueueWaitMS *int64     `json:"queue_wait_ms,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Stderr      string     `json:"stderr,omitempty"`
	Reply       string     `json:"reply,omitempty"`
	ReplyError  string     `json:"reply_error,omitempty"`
	RepliedAt   *time.Time `json:"replied_at,omitempty"`

	Conversation []Neighbour `json:"conversation"`
}

// Neighbour is one recent request of the same conversation.
type Neighbour struct {
	RequestID   string    `json:"request_id"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
	Reply       string    `json:"reply,omitempty"`
	Current     bool      `json:"current,omitempty"`
}

// BuildReport renders a terminal-friendly report for one request.
func BuildReport(ctx context.Context, src Source, requestID string) (string, error) {
	report, err := gatherReportData(ctx, src, requestID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Request Report\n")
	fmt.Fprintf(&out, "Request ID   : %s\n", report.RequestID)
	fmt.Fprintf(&out, "Conversation : %s\n", report.ConversationID)
	fmt.Fprintf(&out, "Status       : %s\n", report.Status)
	fmt.Fprintf(&out, "Text length  : %d\n", report.TextLength)
	fmt.Fprintf(&out, "Submitted    : %s\n", report.SubmittedAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "Started      : %s\n", renderTime(report.StartedAt))
	fmt.Fprintf(&out, "Completed    : %s\n", renderTime(report.CompletedAt))
	fmt.Fprintf(&out, "Queue wait   : %s\n", renderMS(report.QueueWaitMS))
	fmt.Fprintf(&out, "Duration     : %s\n", renderMS(report.DurationMS))
	if report.ExitCode != nil {
		fmt.Fprintf(&out, "Exit code    : %d\n", *report.ExitCode)
	} else {
		fmt.Fprintf(&out, "Exit code    : <none>\n")
	}
	fmt.Fprintf(&out, "Reason       : %s\n", renderUnset(report.Reason, "<none>"))
	fmt.Fprintf(&out, "Reply        : %s\n", renderUnset(report.Reply, "<pending>"))
	if report.ReplyError != "" {
		fmt.Fprintf(&out, "Reply error  : %s\n", report.ReplyError)
	}

	if report.Stderr != "" {
		fmt.Fprintf(&out, "\nstderr:\n")
		for _, line := range strings.Split(strings.TrimRight(report.Stderr, "\n"), "\n") {
			fmt.Fprintf(&out, "  %s\n", line)
		}
	}

	fmt.Fprintf(&out, "\nConversation history (newest first)\n")
	for _, n := range report.Conversation {
		marker := " "
		if n.Current {
			marker = ">"
		}
		fmt.Fprintf(&out, "%s %s  %s  %-12s reply=%s\n",
			marker, n.SubmittedAt.Format(time.RFC3339), n.RequestID, n.Status, renderUnset(n.Reply, "-"))
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON request report.
func BuildJSONReport(ctx context.Context, src Source, requestID string) (string, error) {
	report, err := gatherReportData(ctx, src, requestID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Source, requestID string) (*Report, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, fmt.Errorf("request id is required")
	}

	e, err := src.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("lookup request %q: %w", requestID, err)
	}

	report := &Report{
		RequestID:      e.ID,
		ConversationID: e.ConversationID,
		Status:         string(e.Status),
		TextLength:     e.TextLength,
		SubmittedAt:    e.SubmittedAt,
		StartedAt:      e.StartedAt,
		CompletedAt:    e.CompletedAt,
		ExitCode:       e.ExitCode,
		Reason:         deref(e.Reason),
		Stderr:         deref(e.Stderr),
		Reply:          deref(e.ReplyStatus),
		ReplyError:     deref(e.ReplyError),
		RepliedAt:      e.RepliedAt,
	}
	if e.StartedAt != nil {
		wait := e.StartedAt.Sub(e.SubmittedAt).Milliseconds()
		report.QueueWaitMS = &wait
	}
	if e.Duration != nil {
		ms := e.Duration.Milliseconds()
		report.DurationMS = &ms
	}

	history, err := src.List(ctx, journal.Filter{ConversationID: e.ConversationID, Limit: conversationWindow})
	if err != nil {
		return nil, fmt.Errorf("load conversation history: %w", err)
	}
	report.Conversation = make([]Neighbour, 0, len(history))
	for _, h := range history {
		report.Conversation = append(report.Conversation, Neighbour{
			RequestID:   h.ID,
			Status:      string(h.Status),
			SubmittedAt: h.SubmittedAt,
			Reply:       deref(h.ReplyStatus),
			Current:     h.ID == e.ID,
		})
	}

	return report, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func renderTime(t *time.Time) string {
	if t == nil {
		return "<none>"
	}
	return t.Format(time.RFC3339Nano)
}

func renderMS(ms *int64) string {
	if ms == nil {
		return "<none>"
	}
	return (time.Duration(*ms) * time.Millisecond).String()
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
