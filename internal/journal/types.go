package journal

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a journaled request. The terminal values
// mirror worker.Status; abandoned marks rows orphaned by a crash.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusRunning     Status = "running"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusSpawnFailed Status = "spawn_failed"
	StatusTimedOut    Status = "timed_out"
	StatusCancelled   Status = "cancelled"
	StatusAbandoned   Status = "abandoned"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s != StatusQueued && s != StatusRunning
}

// Reply delivery outcomes.
const (
	ReplySent   = "sent"
	ReplyFailed = "failed"
)

// Entry is one agent_request row. Message and reply text are not stored.
type Entry struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Status         Status         `json:"status"`
	TextLength     int            `json:"text_length"`
	SubmittedAt    time.Time      `json:"submitted_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ExitCode       *int           `json:"exit_code,omitempty"`
	Duration       *time.Duration `json:"duration_ns,omitempty"`
	Reason         *string        `json:"reason,omitempty"`
	Stderr         *string        `json:"stderr,omitempty"`
	ReplyStatus    *string        `json:"reply_status,omitempty"`
	ReplyError     *string        `json:"reply_error,omitempty"`
	RepliedAt      *time.Time     `json:"replied_at,omitempty"`
}

// Filter narrows List. Zero values mean no constraint; Limit defaults to 50.
type Filter struct {
	ConversationID string
	Status         Status
	Limit          int
}

var ErrNotFound = errors.New("request not found")
