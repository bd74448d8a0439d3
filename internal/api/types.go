package api

import (
	"time"

	"github.com/mattjoyce/agentbridge/internal/journal"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string         `json:"status"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	InFlight       int            `json:"in_flight"`
	Waiting        int            `json:"waiting"`
	Conversations  int            `json:"conversations"`
	MaxConcurrent  int            `json:"max_concurrent"`
	JournalEnabled bool           `json:"journal_enabled"`
	Requests       map[string]int `json:"requests,omitempty"`
}

// RequestView is the JSON form of a journaled request.
type RequestView struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Status         string     `json:"status"`
	TextLength     int        `json:"text_length"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ExitCode       *int       `json:"exit_code,omitempty"`
	DurationMS     *int64     `json:"duration_ms,omitempty"`
	Reason         *string    `json:"reason,omitempty"`
	Stderr         *string    `json:"stderr,omitempty"`
	ReplyStatus    *string    `json:"reply_status,omitempty"`
	ReplyError     *string    `json:"reply_error,omitempty"`
	RepliedAt      *time.Time `json:"replied_at,omitempty"`
}

// RequestListResponse is returned by GET /requests.
type RequestListResponse struct {
	Requests []RequestView `json:"requests"`
}

func toView(e journal.Entry, withStderr bool) RequestView {
	v := RequestView{
		ID:             e.ID,
		ConversationID: e.ConversationID,
		Status:         string(e.Status),
		TextLength:     e.TextLength,
		SubmittedAt:    e.SubmittedAt,
		StartedAt:      e.StartedAt,
		CompletedAt:    e.CompletedAt,
		ExitCode:       e.ExitCode,
		Reason:         e.Reason,
		ReplyStatus:    e.ReplyStatus,
		ReplyError:     e.ReplyError,
		RepliedAt:      e.RepliedAt,
	}
	if e.Duration != nil {
		ms := e.Duration.Milliseconds()
		v.DurationMS = &ms
	}
	if withStderr {
		v.Stderr = e.Stderr
	}
	return v
}
