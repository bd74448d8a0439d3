package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/agentbridge/internal/bridge"
	"github.com/mattjoyce/agentbridge/internal/coordinator"
	"github.com/mattjoyce/agentbridge/internal/events"
	"github.com/mattjoyce/agentbridge/internal/journal"
	"github.com/mattjoyce/agentbridge/internal/worker"
)

const (
	journalWriteTimeout = 5 * time.Second
	journalBacklog      = 1024
)

// journalWriter is the part of *journal.Journal the observer records to.
type journalWriter interface {
	Submitted(ctx context.Context, id, conversationID string, textLength int, at time.Time) error
	Started(ctx context.Context, id string, at time.Time) error
	Completed(ctx context.Context, id string, result worker.Result, at time.Time) error
	ReplyDelivered(ctx context.Context, id string, deliveryErr error, at time.Time) error
}

type journalWrite struct {
	req   coordinator.Request
	step  string
	write func(ctx context.Context) error
}

// observer fans coordinator and dispatcher notifications out to the event hub
// and, when enabled, the request journal. Journal writes are queued to a single
// writer goroutine in call order; failures are logged and never reach the
// request path.
type observer struct {
	journal journalWriter
	hub     *events.Hub
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	closed  bool
	writes  chan journalWrite
	flushed chan struct{}
}

var (
	_ coordinator.Observer = (*observer)(nil)
	_ bridge.Observer      = (*observer)(nil)
)

func newObserver(j *journal.Journal, hub *events.Hub, logger *slog.Logger) *observer {
	var w journalWriter
	if j != nil {
		w = j
	}
	return startObserver(w, hub, logger)
}

func startObserver(w journalWriter, hub *events.Hub, logger *slog.Logger) *observer {
	o := &observer{
		journal: w,
		hub:     hub,
		logger:  logger.With("component", "observer"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if w != nil {
		o.writes = make(chan journalWrite, journalBacklog)
		o.flushed = make(chan struct{})
		go o.writeLoop()
	}
	return o
}

// Close stops accepting journal writes and waits for queued ones to finish.
func (o *observer) Close() {
	o.mu.Lock()
	if o.closed || o.writes == nil {
		o.closed = true
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.writes)
	o.mu.Unlock()
	<-o.flushed
}

func (o *observer) RequestSubmitted(req coordinator.Request) {
	o.record(req, "submitted", func(ctx context.Context) error {
		return o.journal.Submitted(ctx, req.ID, req.ConversationID, len(req.Text), req.SubmittedAt)
	})
	o.hub.Publish(events.TypeRequestSubmitted, events.RequestPayload{
		RequestID:      req.ID,
		ConversationID: req.ConversationID,
		Status:         string(journal.StatusQueued),
	})
}

func (o *observer) RequestStarted(req coordinator.Request) {
	o.record(req, "started", func(ctx context.Context) error {
		return o.journal.Started(ctx, req.ID, o.now())
	})
	o.hub.Publish(events.TypeRequestStarted, events.RequestPayload{
		RequestID:      req.ID,
		ConversationID: req.ConversationID,
		Status:         string(journal.StatusRunning),
	})
}

func (o *observer) RequestCompleted(req coordinator.Request, res worker.Result) {
	o.record(req, "completed", func(ctx context.Context) error {
		return o.journal.Completed(ctx, req.ID, res, o.now())
	})

	payload := events.RequestPayload{
		RequestID:      req.ID,
		ConversationID: req.ConversationID,
		Status:         string(res.Status),
		DurationMS:     res.Duration.Milliseconds(),
	}
	if res.ExitCode >= 0 && (res.Status == worker.StatusSucceeded || res.Status == worker.StatusFailed) {
		code := res.ExitCode
		payload.ExitCode = &code
	}
	if !res.OK() {
		payload.Error = res.Reason
	}
	o.hub.Publish(events.TypeRequestCompleted, payload)
}

func (o *observer) MessageIgnored(msg bridge.InboundMessage) {
	o.hub.Publish(events.TypeMessageIgnored, events.MessagePayload{
		ConversationID: msg.ConversationID,
		Channel:        msg.Channel,
	})
}

func (o *observer) ReplyDelivered(req coordinator.Request, deliveryErr error) {
	o.record(req, "reply", func(ctx context.Context) error {
		return o.journal.ReplyDelivered(ctx, req.ID, deliveryErr, o.now())
	})

	payload := events.RequestPayload{RequestID: req.ID, ConversationID: req.ConversationID}
	if deliveryErr != nil {
		payload.Error = deliveryErr.Error()
		o.hub.Publish(events.TypeReplyFailed, payload)
		return
	}
	o.hub.Publish(events.TypeReplySent, payload)
}

// ChannelState publishes a transport connection change.
func (o *observer) ChannelState(channel, state string) {
	o.logger.Info("channel state changed", "channel", channel, "state", state)
	o.hub.Publish(events.TypeChannelStatus, events.ChannelPayload{Channel: channel, State: state})
}

// record queues a journal write. It never blocks: when the backlog is full
// the write is dropped and logged.
func (o *observer) record(req coordinator.Request, step string, write func(ctx context.Context) error) {
	if o.journal == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		o.logger.Debug("journal closed, skipping write", "step", step, "request_id", req.ID)
		return
	}
	select {
	case o.writes <- journalWrite{req: req, step: step, write: write}:
	default:
		o.logger.Warn("journal backlog full, dropping write",
			"step", step,
			"request_id", req.ID,
			"conversation_id", req.ConversationID,
		)
	}
}

func (o *observer) writeLoop() {
	defer close(o.flushed)
	for w := range o.writes {
		o.apply(w)
	}
}

func (o *observer) apply(w journalWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()

	if err := w.write(ctx); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, journal.ErrNotFound) {
			level = slog.LevelDebug
		}
		o.logger.Log(ctx, level, "journal write failed",
			"step", w.step,
			"request_id", w.req.ID,
			"conversation_id", w.req.ConversationID,
			"error", err,
		)
	}
}
