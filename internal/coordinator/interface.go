package coordinator

import (
	"context"
	"time"

	"github.com/mattjoyce/agentbridge/internal/worker"
)

//go:generate mockgen -destination=mocks/mock_coordinator.go -package=mocks github.com/mattjoyce/agentbridge/internal/coordinator Invoker,Observer

// Invoker runs the agent for one request. *worker.Invoker satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, conversationID, text string, timeout time.Duration) worker.Result
}

// Observer receives request lifecycle notifications. Calls for one request
// arrive in order Submitted, Started (absent when cancelled while waiting),
// Completed. Implementations must not block for long.
type Observer interface {
	RequestSubmitted(req Request)
	RequestStarted(req Request)
	RequestCompleted(req Request, res worker.Result)
}

type noopObserver struct{}

func (noopObserver) RequestSubmitted(Request)                {}
func (noopObserver) RequestStarted(Request)                  {}
func (noopObserver) RequestCompleted(Request, worker.Result) {}
