// Package coordinator schedules agent requests: strictly sequential within a
// conversation, concurrent across conversations up to a global ceiling.
//
// A request is eligible when it reaches the head of its conversation queue.
// Eligible requests wait for a global slot in one FIFO, so when the ceiling is
// reached they start in the order they became eligible. Requests are never
// merged or deduplicated.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/agentbridge/internal/log"
	"github.com/mattjoyce/agentbridge/internal/worker"
)

// DefaultTimeout applies when Options.Timeout is not positive.
const DefaultTimeout = 120 * time.Second

// Options configures a Coordinator.
type Options struct {
	MaxConcurrent int
	Timeout       time.Duration
	Observer      Observer
}

type pending struct {
	req    Request
	result chan worker.Result
}

// conversation holds the requests of one conversation that are not yet eligible.
// busy is true while the head request is waiting for a slot or running.
type conversation struct {
	queue  []*pending
	busy   bool
	active *pending
}

// Coordinator owns every conversation queue. All state is guarded by mu.
type Coordinator struct {
	invoker  Invoker
	observer Observer
	max      int
	timeout  time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	conversations map[string]*conversation
	ready         []*pending
	inFlight      int
	closed        bool
	drained       chan struct{}
}

// New creates a Coordinator.
func New(invoker Invoker, opts Options) *Coordinator {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		invoker:       invoker,
		observer:      opts.Observer,
		max:           opts.MaxConcurrent,
		timeout:       opts.Timeout,
		logger:        log.WithComponent("coordinator"),
		ctx:           ctx,
		cancel:        cancel,
		conversations: make(map[string]*conversation),
	}
}

// Submit queues a request and returns a channel that receives its result
// exactly once. It never blocks on the invocation itself.
func (c *Coordinator) Submit(req Request) <-chan worker.Result {
	p := &pending{req: req, result: make(chan worker.Result, 1)}
	c.observer.RequestSubmitted(req)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Warn("rejecting request after shutdown", "request_id", req.ID, "conversation_id", req.ConversationID)
		c.resolve(p, worker.Cancelled())
		return p.result
	}

	conv, ok := c.conversations[req.ConversationID]
	if !ok {
		conv = &conversation{}
		c.conversations[req.ConversationID] = conv
	}
	if conv.busy {
		conv.queue = append(conv.queue, p)
	} else {
		conv.busy = true
		c.ready = append(c.ready, p)
	}
	depth := len(conv.queue)
	starts := c.admitLocked()
	c.mu.Unlock()

	c.logger.Debug("request queued", "request_id", req.ID, "conversation_id", req.ConversationID, "conversation_depth", depth)
	c.launch(starts)
	return p.result
}

// admitLocked moves eligible requests into global slots. Callers hold mu and
// must pass the returned requests to launch after unlocking.
func (c *Coordinator) admitLocked() []*pending {
	var starts []*pending
	for c.inFlight < c.max && len(c.ready) > 0 {
		p := c.ready[0]
		c.ready[0] = nil
		c.ready = c.ready[1:]
		c.inFlight++
		c.conversations[p.req.ConversationID].active = p
		c.wg.Add(1)
		starts = append(starts, p)
	}
	return starts
}

func (c *Coordinator) launch(starts []*pending) {
	for _, p := range starts {
		go c.run(p)
	}
}

func (c *Coordinator) run(p *pending) {
	defer c.wg.Done()

	logger := log.WithRequest(p.req.ID, p.req.ConversationID).With("component", "coordinator")
	logger.Debug("invoking agent", "waited", time.Since(p.req.SubmittedAt))
	c.observer.RequestStarted(p.req)

	res := c.invoke(p, logger)

	c.finish(p)
	c.resolve(p, res)
}

func (c *Coordinator) invoke(p *pending, logger *slog.Logger) (res worker.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("agent invocation panicked", "panic", r)
			res = worker.Failure(worker.StatusFailed, fmt.Sprintf("invoker panic: %v", r))
		}
	}()
	return c.invoker.Invoke(c.ctx, p.req.ConversationID, p.req.Text, c.timeout)
}

// finish releases the global slot and makes the conversation's next request eligible.
func (c *Coordinator) finish(p *pending) {
	c.mu.Lock()
	c.inFlight--
	if conv, ok := c.conversations[p.req.ConversationID]; ok {
		conv.active = nil
		if len(conv.queue) > 0 {
			next := conv.queue[0]
			conv.queue[0] = nil
			conv.queue = conv.queue[1:]
			c.ready = append(c.ready, next)
		} else {
			delete(c.conversations, p.req.ConversationID)
		}
	}
	starts := c.admitLocked()
	c.signalIfDrainedLocked()
	c.mu.Unlock()

	c.launch(starts)
}

func (c *Coordinator) resolve(p *pending, res worker.Result) {
	c.observer.RequestCompleted(p.req, res)
	p.result <- res
}

func (c *Coordinator) idleLocked() bool {
	return c.inFlight == 0 && len(c.ready) == 0 && len(c.conversations) == 0
}

func (c *Coordinator) signalIfDrainedLocked() {
	if c.drained != nil && c.idleLocked() {
		close(c.drained)
		c.drained = nil
	}
}

// Stats returns a snapshot of queue depths.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	waiting := len(c.ready)
	for _, conv := range c.conversations {
		waiting += len(conv.queue)
	}
	return Stats{
		InFlight:      c.inFlight,
		Waiting:       waiting,
		Conversations: len(c.conversations),
		MaxConcurrent: c.max,
	}
}

// Shutdown stops accepting requests and waits for queued work to drain. When
// ctx ends first, running invocations are cancelled and every request still
// waiting resolves as cancelled. Shutdown returns once all results are delivered.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	var drained chan struct{}
	if !c.idleLocked() {
		if c.drained == nil {
			c.drained = make(chan struct{})
		}
		drained = c.drained
	}
	c.mu.Unlock()

	var err error
	if drained != nil {
		c.logger.Info("draining agent requests", "in_flight", c.Stats().InFlight)
		select {
		case <-drained:
		case <-ctx.Done():
			err = ctx.Err()
			c.logger.Warn("shutdown deadline reached, cancelling agent requests")
			c.abandonWaiting()
			c.cancel()
		}
	}

	c.cancel()
	c.wg.Wait()
	return err
}

// abandonWaiting resolves every request that has not started as cancelled.
func (c *Coordinator) abandonWaiting() {
	c.mu.Lock()
	var dropped []*pending
	dropped = append(dropped, c.ready...)
	c.ready = nil
	for id, conv := range c.conversations {
		dropped = append(dropped, conv.queue...)
		conv.queue = nil
		if conv.active == nil {
			delete(c.conversations, id)
		}
	}
	c.mu.Unlock()

	for _, p := range dropped {
		c.resolve(p, worker.Cancelled())
	}
}
