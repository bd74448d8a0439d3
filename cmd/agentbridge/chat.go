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
)

func newChatCmd(load configLoader) *cobra.Command {
	var as string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent from this terminal through the bridge",
		Long: `Runs the bridge against an interactive console instead of WhatsApp. Every
line is one message in the conversation named by --as; replies are printed as
they arrive. Type exit, quit or press Ctrl-D to leave once replies are in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			level := "warn"
			if verbose {
				level = cfg.Service.LogLevel
			}
			log.SetupWriter(os.Stderr, level, "text")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
			defer stop()

			return app.New(cfg, app.Options{
				Console:        true,
				ConversationID: as,
				Stdin:          os.Stdin,
				Stdout:         cmd.OutOrStdout(),
			}).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "Conversation id for this session (default console.conversation_id)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log at service.log_level instead of warn")
	return cmd
}
