package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"

	"go.uber.org/dig"

	"github.com/mattjoyce/agentbridge/internal/api"
	"github.com/mattjoyce/agentbridge/internal/bridge"
	"github.com/mattjoyce/agentbridge/internal/channel/console"
	"github.com/mattjoyce/agentbridge/internal/channel/whatsapp"
	"github.com/mattjoyce/agentbridge/internal/config"
	"github.com/mattjoyce/agentbridge/internal/coordinator"
	"github.com/mattjoyce/agentbridge/internal/events"
	"github.com/mattjoyce/agentbridge/internal/journal"
	"github.com/mattjoyce/agentbridge/internal/log"
	"github.com/mattjoyce/agentbridge/internal/scheduler"
	"github.com/mattjoyce/agentbridge/internal/storage"
	"github.com/mattjoyce/agentbridge/internal/worker"
)

const hubCapacity = 512

var openSQLite = storage.OpenSQLite

// Options selects the chat transport an App serves.
type Options struct {
	// Console serves the interactive console instead of WhatsApp.
	Console bool
	// ConversationID names the console conversation.
	ConversationID string
	Stdin          io.ReadCloser
	Stdout         io.Writer

	// Channel overrides the configured transport entirely.
	Channel bridge.Channel
	// Invoker overrides the agent process runner.
	Invoker coordinator.Invoker
	Logger  *slog.Logger
}

// Container holds the resolved bridge components.
type Container struct {
	cfg         *config.Config
	logger      *slog.Logger
	hub         *events.Hub
	db          *sql.DB
	journal     *journal.Journal
	observer    *observer
	coordinator *coordinator.Coordinator
	channel     bridge.Channel
	dispatcher  *bridge.Dispatcher
	scheduler   *scheduler.Scheduler
	api         *api.Server
}

func (c *Container) Hub() *events.Hub                      { return c.hub }
func (c *Container) Journal() *journal.Journal             { return c.journal }
func (c *Container) Coordinator() *coordinator.Coordinator { return c.coordinator }
func (c *Container) Channel() bridge.Channel               { return c.channel }
func (c *Container) Dispatcher() *bridge.Dispatcher        { return c.dispatcher }

// NewContainer builds and wires every component from cfg. The journal,
// scheduler and API are nil when disabled.
func NewContainer(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	d := dig.New()

	// Providers run lazily; keep what they open so a later failure can release it.
	var (
		openedDB  *sql.DB
		openedObs *observer
	)
	provides := []any{
		func() *config.Config { return cfg },
		func() Options { return opts },
		func() context.Context { return ctx },
		newLogger,
		newHub,
		func(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
			db, err := newDB(ctx, cfg)
			openedDB = db
			return db, err
		},
		newJournal,
		func(j *journal.Journal, hub *events.Hub, logger *slog.Logger) *observer {
			openedObs = newObserver(j, hub, logger)
			return openedObs
		},
		newInvoker,
		newCoordinator,
		newChannel,
		newDispatcher,
		newScheduler,
		newAPI,
	}
	for _, p := range provides {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		logger *slog.Logger,
		hub *events.Hub,
		db *sql.DB,
		j *journal.Journal,
		obs *observer,
		coord *coordinator.Coordinator,
		ch bridge.Channel,
		disp *bridge.Dispatcher,
		sched *scheduler.Scheduler,
		srv *api.Server,
	) {
		result = &Container{
			cfg:         cfg,
			logger:      logger,
			hub:         hub,
			db:          db,
			journal:     j,
			observer:    obs,
			coordinator: coord,
			channel:     ch,
			dispatcher:  disp,
			scheduler:   sched,
			api:         srv,
		}
	})
	if err != nil {
		if openedObs != nil {
			openedObs.Close()
		}
		if openedDB != nil {
			_ = openedDB.Close()
		}
		return nil, dig.RootCause(err)
	}
	return result, nil
}

// Close flushes pending journal writes and releases the journal database.
func (c *Container) Close() error {
	c.observer.Close()
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func newLogger(opts Options) *slog.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return log.Get()
}

func newHub() *events.Hub {
	return events.NewHub(hubCapacity)
}

func newDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if !cfg.Journal.Enabled {
		return nil, nil
	}
	return openSQLite(ctx, cfg.Journal.Path)
}

func newJournal(db *sql.DB) *journal.Journal {
	if db == nil {
		return nil
	}
	return journal.New(db)
}

func newInvoker(cfg *config.Config, opts Options) coordinator.Invoker {
	if opts.Invoker != nil {
		return opts.Invoker
	}
	return worker.NewFromConfig(cfg)
}

func newCoordinator(cfg *config.Config, inv coordinator.Invoker, obs *observer) *coordinator.Coordinator {
	return coordinator.New(inv, coordinator.Options{
		MaxConcurrent: cfg.Coordinator.MaxConcurrent,
		Timeout:       cfg.Agent.Timeout,
		Observer:      obs,
	})
}

func newChannel(cfg *config.Config, opts Options, obs *observer) (bridge.Channel, error) {
	if opts.Channel != nil {
		return opts.Channel, nil
	}
	if opts.Console {
		conversationID := opts.ConversationID
		if conversationID == "" {
			conversationID = cfg.Console.ConversationID
		}
		return console.New(console.Options{
			ConversationID: conversationID,
			Prompt:         cfg.Console.Prompt,
			HistoryFile:    cfg.Console.HistoryFile,
			Stdin:          opts.Stdin,
			Stdout:         opts.Stdout,
		})
	}
	if !cfg.WhatsApp.Enabled {
		return nil, errors.New("whatsapp channel is disabled and no other channel was selected")
	}
	return whatsapp.NewFromConfig(cfg.WhatsApp, func(state string) {
		obs.ChannelState("whatsapp", state)
	}), nil
}

func newDispatcher(cfg *config.Config, coord *coordinator.Coordinator, ch bridge.Channel, obs *observer, logger *slog.Logger) *bridge.Dispatcher {
	return bridge.NewDispatcher(coord, ch, bridge.Options{
		Apology:      cfg.Replies.Apology,
		ReplyTimeout: cfg.Replies.Timeout,
		Observer:     obs,
		Logger:       logger,
	})
}

func newScheduler(cfg *config.Config, j *journal.Journal, hub *events.Hub, logger *slog.Logger) *scheduler.Scheduler {
	if j == nil {
		return nil
	}
	return scheduler.New(cfg, j, hub, logger)
}

func newAPI(cfg *config.Config, coord *coordinator.Coordinator, j *journal.Journal, hub *events.Hub, logger *slog.Logger) *api.Server {
	if !cfg.API.Enabled {
		return nil
	}
	var store api.RequestStore
	if j != nil {
		store = j
	}
	return api.New(api.Config{Listen: cfg.API.Listen, APIKey: cfg.API.APIKey}, coord, store, hub, logger)
}
