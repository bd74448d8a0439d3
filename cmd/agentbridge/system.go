package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/agentbridge/internal/app"
	"github.com/mattjoyce/agentbridge/internal/log"
	"github.com/mattjoyce/agentbridge/internal/tui/watch"
)

func newSystemCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "system",
		Short: "Bridge lifecycle and live monitoring",
	}
	cmd.AddCommand(newSystemStartCmd(load), newSystemWatchCmd())
	return cmd
}

func newSystemStartCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the bridge in the foreground against the WhatsApp channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if !cfg.WhatsApp.Enabled {
				return fmt.Errorf("whatsapp channel is disabled; enable whatsapp or use 'agentbridge chat'")
			}

			log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
			logger := log.WithComponent("main")
			logger.Info("agentbridge starting", "version", version, "config", cfg.SourcePath)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := app.New(cfg, app.Options{}).Run(ctx); err != nil {
				logger.Error("agentbridge failed", "error", err)
				return err
			}
			return nil
		},
	}
}

func newSystemWatchCmd() *cobra.Command {
	var apiURL, apiKey string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live TUI of requests, queue depth and events from the ops API",
		Long: `Connects to a running bridge's ops API (api.enabled) and shows health,
in-flight and waiting counts, recent requests and the event stream.

Keybindings:
  q, Ctrl+C        Quit
  up/down, k/j     Scroll requests`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apiKey == "" {
				return fmt.Errorf("API key required. Use --api-key or AGENTBRIDGE_API_KEY env var")
			}
			if err := watch.Run(apiURL, apiKey); err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiURL, "api", "http://127.0.0.1:8787", "Ops API base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("AGENTBRIDGE_API_KEY"), "API bearer token")
	return cmd
}
