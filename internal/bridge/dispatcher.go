// Package bridge connects chat channels to the agent: each non-broadcast message
// becomes one agent request and each request produces exactly one reply.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/agentbridge/internal/config"
	"github.com/mattjoyce/agentbridge/internal/coordinator"
	"github.com/mattjoyce/agentbridge/internal/log"
	"github.com/mattjoyce/agentbridge/internal/worker"
)

const defaultReplyTimeout = 30 * time.Second

// Options configures a Dispatcher.
type Options struct {
	// Apology is sent instead of any failure detail.
	Apology      string
	ReplyTimeout time.Duration
	Observer     Observer
	Logger       *slog.Logger
}

// Dispatcher is the single inbound handler for one channel.
type Dispatcher struct {
	submitter Submitter
	replier   Replier
	opts      Options
	logger    *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending int
	idle    chan struct{}
	// tails holds, per conversation, the done channel of the most recent
	// accepted message. Each reply waits for its predecessor's.
	tails map[string]chan struct{}
}

// NewDispatcher creates a Dispatcher that submits to s and replies through r.
func NewDispatcher(s Submitter, r Replier, opts Options) *Dispatcher {
	if opts.Apology == "" {
		opts.Apology = config.DefaultApology
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = defaultReplyTimeout
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Get()
	}
	return &Dispatcher{
		submitter: s,
		replier:   r,
		opts:      opts,
		logger:    logger.With("component", "bridge"),
		tails:     make(map[string]chan struct{}),
	}
}

// Handle accepts one inbound message. It returns immediately; the reply is sent
// from a background goroutine once the agent result arrives.
func (d *Dispatcher) Handle(msg InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic handling inbound message", "panic", r, "conversation_id", msg.ConversationID)
		}
	}()

	if msg.IsBroadcast {
		d.logger.Debug("ignoring broadcast message", "conversation_id", msg.ConversationID, "channel", msg.Channel)
		d.opts.Observer.MessageIgnored(msg)
		return
	}

	req := coordinator.NewRequest(msg.ConversationID, msg.Text)
	logger := d.requestLogger(req)

	d.mu.Lock()
	closed := d.closed
	d.pending++
	prev := d.tails[req.ConversationID]
	done := make(chan struct{})
	d.tails[req.ConversationID] = done
	d.mu.Unlock()

	var results <-chan worker.Result
	if closed {
		logger.Warn("message received during shutdown, replying with apology", "channel", msg.Channel)
		results = resolved(worker.Cancelled())
	} else {
		logger.Info("message received", "channel", msg.Channel, "message_id", msg.MessageID, "chars", len(msg.Text))
		logger.Debug("message text", "text", msg.Text)

		var err error
		results, err = d.submit(req)
		if err != nil {
			logger.Error("failed to submit request", "error", err)
			results = resolved(worker.Failure(worker.StatusFailed, err.Error()))
		}
	}
	go d.await(req, results, prev, done, logger)
}

func resolved(res worker.Result) <-chan worker.Result {
	ch := make(chan worker.Result, 1)
	ch <- res
	return ch
}

func (d *Dispatcher) submit(req coordinator.Request) (results <-chan worker.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("submit panic: %v", r)
		}
	}()
	return d.submitter.Submit(req), nil
}

func (d *Dispatcher) requestLogger(req coordinator.Request) *slog.Logger {
	return d.logger.With("request_id", req.ID, "conversation_id", req.ConversationID)
}

// await sends the reply for req once its result is in and the previous
// message of the same conversation has had its reply attempted.
func (d *Dispatcher) await(req coordinator.Request, results <-chan worker.Result, prev, done chan struct{}, logger *slog.Logger) {
	defer d.release(req.ConversationID, done)

	text := d.replyText(<-results, logger)
	if prev != nil {
		<-prev
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.ReplyTimeout)
	defer cancel()

	err := d.send(ctx, req.ConversationID, text)
	if err != nil {
		logger.Error("failed to deliver reply", "error", err)
	} else {
		logger.Info("reply sent", "chars", len(text))
	}
	d.opts.Observer.ReplyDelivered(req, err)
}

func (d *Dispatcher) release(conversationID string, done chan struct{}) {
	close(done)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tails[conversationID] == done {
		delete(d.tails, conversationID)
	}
	d.pending--
	if d.pending == 0 && d.idle != nil {
		close(d.idle)
		d.idle = nil
	}
}

// replyText maps a result to the user-facing reply. Failure details never
// leave the process; they are logged instead.
func (d *Dispatcher) replyText(res worker.Result, logger *slog.Logger) string {
	if res.OK() {
		logger.Info("agent response received", "duration", res.Duration)
		return res.Text
	}
	logger.Error("agent error",
		"status", string(res.Status),
		"reason", res.Reason,
		"exit_code", res.ExitCode,
		"duration", res.Duration,
	)
	return d.opts.Apology
}

func (d *Dispatcher) send(ctx context.Context, conversationID, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrReplyDelivery, r)
		}
	}()
	if err := d.replier.Reply(ctx, conversationID, text); err != nil {
		return fmt.Errorf("%w: %w", ErrReplyDelivery, err)
	}
	return nil
}

// Close stops submitting new messages to the agent. Messages already accepted
// still get their replies; later ones are answered with the apology.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Wait blocks until every received message has had its reply attempted.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	if d.pending == 0 {
		d.mu.Unlock()
		return
	}
	if d.idle == nil {
		d.idle = make(chan struct{})
	}
	idle := d.idle
	d.mu.Unlock()
	<-idle
}
