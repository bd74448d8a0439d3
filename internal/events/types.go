package events

// Event types published by the bridge.
const (
	TypeRequestSubmitted = "request.submitted"
	TypeRequestStarted   = "request.started"
	TypeRequestCompleted = "request.completed"
	TypeReplySent        = "reply.sent"
	TypeReplyFailed      = "reply.failed"
	TypeMessageIgnored   = "message.ignored"
	TypeJournalPruned    = "journal.pruned"
	TypeChannelStatus    = "channel.status"
)

// RequestPayload describes one agent request. Message and reply text are
// never included.
type RequestPayload struct {
	RequestID      string `json:"request_id"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status,omitempty"`
	ExitCode       *int   `json:"exit_code,omitempty"`
	DurationMS     int64  `json:"duration_ms,omitempty"`
	Error          string `json:"error,omitempty"`
}

// MessagePayload describes an inbound message that was not turned into a request.
type MessagePayload struct {
	ConversationID string `json:"conversation_id"`
	Channel        string `json:"channel,omitempty"`
}

// PrunePayload reports a journal retention pass.
type PrunePayload struct {
	Deleted   int64  `json:"deleted"`
	Retention string `json:"retention"`
}

// ChannelPayload reports a chat transport state change.
type ChannelPayload struct {
	Channel string `json:"channel"`
	State   string `json:"state"`
}
