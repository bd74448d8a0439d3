package scheduler

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_journal.go -package=mocks github.com/mattjoyce/agentbridge/internal/scheduler JournalService

// JournalService defines the journal operations used by the scheduler.
type JournalService interface {
	RecoverInterrupted(ctx context.Context, at time.Time) (int64, error)
	Prune(ctx context.Context, retention time.Duration, now time.Time) (int64, error)
}
