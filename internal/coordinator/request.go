package coordinator

import (
	"time"

	"github.com/google/uuid"
)

// Request is one message accepted for agent invocation.
type Request struct {
	ID             string
	ConversationID string
	Text           string
	SubmittedAt    time.Time
}

// NewRequest creates a Request with a fresh correlation id.
func NewRequest(conversationID, text string) Request {
	return Request{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Text:           text,
		SubmittedAt:    time.Now().UTC(),
	}
}

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	InFlight      int `json:"in_flight"`
	Waiting       int `json:"waiting"`
	Conversations int `json:"conversations"`
	MaxConcurrent int `json:"max_concurrent"`
}
