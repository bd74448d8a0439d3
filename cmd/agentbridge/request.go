package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/agentbridge/internal/config"
	"github.com/mattjoyce/agentbridge/internal/inspect"
	"github.com/mattjoyce/agentbridge/internal/journal"
	"github.com/mattjoyce/agentbridge/internal/storage"
)

func newRequestCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Query the request journal",
	}
	cmd.AddCommand(newRequestListCmd(load), newRequestInspectCmd(load))
	return cmd
}

func openJournal(ctx context.Context, cfg *config.Config) (*journal.Journal, *sql.DB, error) {
	if !cfg.Journal.Enabled {
		return nil, nil, fmt.Errorf("journal is disabled (set journal.enabled: true)")
	}
	if _, err := os.Stat(cfg.Journal.Path); err != nil {
		return nil, nil, fmt.Errorf("journal not found at %s: %w", cfg.Journal.Path, err)
	}
	db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return journal.New(db), db, nil
}

func newRequestListCmd(load configLoader) *cobra.Command {
	var conversation, status string
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent requests, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctx := context.Background()
			j, db, err := openJournal(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := j.List(ctx, journal.Filter{
				ConversationID: conversation,
				Status:         journal.Status(status),
				Limit:          limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			if len(entries) == 0 {
				fmt.Fprintln(out, "No requests found.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "REQUEST\tCONVERSATION\tSTATUS\tSUBMITTED\tDURATION\tREPLY")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.ConversationID, e.Status,
					e.SubmittedAt.Local().Format(time.DateTime),
					durationCell(e.Duration), stringCell(e.ReplyStatus))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&conversation, "conversation", "", "Only requests of this conversation")
	cmd.Flags().StringVar(&status, "status", "", "Only requests with this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of requests")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in structured JSON format")
	return cmd
}

func newRequestInspectCmd(load configLoader) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "inspect <request-id>",
		Short: "Show one request and its conversation's recent history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctx := context.Background()
			j, db, err := openJournal(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			var report string
			if jsonOut {
				report, err = inspect.BuildJSONReport(ctx, j, args[0])
			} else {
				report, err = inspect.BuildReport(ctx, j, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(report, "\n"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output report in JSON")
	return cmd
}

func durationCell(d *time.Duration) string {
	if d == nil {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func stringCell(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
