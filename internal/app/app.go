// Package app wires the bridge together and runs it until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/agentbridge/internal/config"
	"github.com/mattjoyce/agentbridge/internal/lock"
)

// App is one running bridge: a single channel feeding the dispatcher.
type App struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger
}

// New creates an App. Nothing is opened until Run.
func New(cfg *config.Config, opts Options) *App {
	return &App{cfg: cfg, opts: opts, logger: newLogger(opts).With("component", "app")}
}

// Run acquires the data directory lock, starts every enabled component and
// blocks until ctx is cancelled or the channel ends. It then drains accepted
// requests before closing the channel. A console session ended by the user
// returns nil.
func (a *App) Run(ctx context.Context) error {
	if err := config.VerifyAgentIntegrity(a.cfg.Agent); err != nil {
		return err
	}

	lockPath := lock.PathFor(a.cfg.Service.DataDir)
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		return fmt.Errorf("failed to acquire PID lock %s: %w", lockPath, err)
	}
	defer pidLock.Release()
	a.logger.Info("acquired PID lock", "path", lockPath)

	c, err := NewContainer(ctx, a.cfg, a.opts)
	if err != nil {
		return fmt.Errorf("failed to initialise bridge: %w", err)
	}
	defer c.Close()

	if c.scheduler != nil {
		if err := c.scheduler.Start(ctx); err != nil {
			return err
		}
		defer c.scheduler.Stop()
		a.logger.Info("journal enabled", "path", a.cfg.Journal.Path)
	}

	// The channel outlives ctx so replies for drained requests still go out.
	channelCtx, cancelChannel := context.WithCancel(context.Background())
	defer cancelChannel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("channel starting", "channel", c.channel.Name())
		if err := c.channel.Start(channelCtx, c.dispatcher.Handle); err != nil {
			return fmt.Errorf("channel %s: %w", c.channel.Name(), err)
		}
		return nil
	})

	if c.api != nil {
		g.Go(func() error {
			if err := c.api.Start(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		a.logger.Info("API server enabled", "listen", a.cfg.API.Listen)
	}

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown(c, cancelChannel)
		return nil
	})

	a.logger.Info("agentbridge running",
		"channel", c.channel.Name(),
		"max_concurrent", a.cfg.Coordinator.MaxConcurrent,
		"agent", a.cfg.Agent.Command,
	)

	err = g.Wait()
	if errors.Is(err, io.EOF) {
		a.logger.Info("session ended")
		return nil
	}
	a.logger.Info("agentbridge stopped")
	return err
}

// shutdown stops intake, drains the coordinator within the configured
// timeout, waits for every accepted message's reply, then closes the channel.
func (a *App) shutdown(c *Container, cancelChannel context.CancelFunc) {
	a.logger.Info("shutting down")
	c.dispatcher.Close()

	// A zero timeout cancels running agents immediately.
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := c.coordinator.Shutdown(ctx); err != nil {
		a.logger.Warn("coordinator did not drain in time", "error", err)
	}
	c.dispatcher.Wait()

	cancelChannel()
	if err := c.channel.Close(); err != nil {
		a.logger.Warn("failed to close channel", "channel", c.channel.Name(), "error", err)
	}
}
