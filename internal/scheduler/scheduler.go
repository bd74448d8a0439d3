// Package scheduler runs journal housekeeping: crash recovery at startup and
// periodic retention pruning on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mattjoyce/agentbridge/internal/config"
	"github.com/mattjoyce/agentbridge/internal/events"
)

// Scheduler owns the cron runner for journal maintenance.
type Scheduler struct {
	cfg     config.JournalConfig
	journal JournalService
	events  *events.Hub
	logger  *slog.Logger
	cron    *cron.Cron
	now     func() time.Time
}

// ParseSchedule parses a standard five-field cron expression or a descriptor
// such as @hourly.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", expr, err)
	}
	return sched, nil
}

// New creates a new Scheduler instance.
func New(cfg *config.Config, j JournalService, hub *events.Hub, logger *slog.Logger) *Scheduler {
	if hub == nil {
		hub = events.NewHub(32)
	}
	return &Scheduler{
		cfg:     cfg.Journal,
		journal: j,
		events:  hub,
		logger:  logger.With("component", "scheduler"),
		cron:    cron.New(),
		now:     time.Now,
	}
}

// Start performs crash recovery and begins the prune schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler", "prune_schedule", s.cfg.PruneSchedule, "retention", s.cfg.Retention)

	if err := s.recoverInterrupted(ctx); err != nil {
		return fmt.Errorf("journal recovery failed: %w", err)
	}

	sched, err := ParseSchedule(s.cfg.PruneSchedule)
	if err != nil {
		return err
	}
	s.cron.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.Prune(ctx); err != nil {
			s.logger.Error("Journal prune failed", "error", err)
		}
	}))
	s.cron.Start()
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop halts the cron runner and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// Prune deletes journal rows older than the configured retention.
func (s *Scheduler) Prune(ctx context.Context) (int64, error) {
	deleted, err := s.journal.Prune(ctx, s.cfg.Retention, s.now())
	if err != nil {
		return 0, err
	}
	s.logger.Debug("Pruned journal", "deleted", deleted)
	s.events.Publish(events.TypeJournalPruned, events.PrunePayload{
		Deleted:   deleted,
		Retention: s.cfg.Retention.String(),
	})
	return deleted, nil
}

func (s *Scheduler) recoverInterrupted(ctx context.Context) error {
	n, err := s.journal.RecoverInterrupted(ctx, s.now())
	if err != nil {
		return fmt.Errorf("failed to recover interrupted requests: %w", err)
	}
	if n > 0 {
		s.logger.Warn("Marked interrupted requests as abandoned", "count", n)
	}
	return nil
}
