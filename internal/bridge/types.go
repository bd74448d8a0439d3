package bridge

import (
	"context"
	"errors"

	"github.com/mattjoyce/agentbridge/internal/coordinator"
	"github.com/mattjoyce/agentbridge/internal/worker"
)

//go:generate mockgen -destination=mocks/mock_bridge.go -package=mocks github.com/mattjoyce/agentbridge/internal/bridge Submitter,Replier,Observer

// ErrReplyDelivery wraps errors returned by a Replier.
var ErrReplyDelivery = errors.New("reply delivery failed")

// InboundMessage is one chat message delivered by a channel.
type InboundMessage struct {
	ConversationID string
	Text           string
	IsBroadcast    bool

	// Channel and MessageID are informational and only used for logging.
	Channel   string
	MessageID string
}

// Handler consumes inbound messages. It must return promptly.
type Handler func(InboundMessage)

// Replier sends text back to a conversation.
type Replier interface {
	Reply(ctx context.Context, conversationID, text string) error
}

// Channel is a chat transport: an inbound event source plus its reply path.
type Channel interface {
	Replier
	Name() string
	// Start delivers inbound messages to handle until ctx is cancelled or the
	// transport ends. Reply keeps working after Start returns until Close.
	Start(ctx context.Context, handle Handler) error
	Close() error
}

// Submitter accepts agent requests. *coordinator.Coordinator satisfies it.
type Submitter interface {
	Submit(req coordinator.Request) <-chan worker.Result
}

// Observer receives dispatcher-level notifications.
type Observer interface {
	MessageIgnored(msg InboundMessage)
	ReplyDelivered(req coordinator.Request, err error)
}

type noopObserver struct{}

func (noopObserver) MessageIgnored(InboundMessage)              {}
func (noopObserver) ReplyDelivered(coordinator.Request, error) {}
