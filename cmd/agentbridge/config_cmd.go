package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/agentbridge/internal/config"
	"github.com/mattjoyce/agentbridge/internal/doctor"
)

const redacted = "********"

func newConfigCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and display configuration",
	}
	cmd.AddCommand(newConfigCheckCmd(load), newConfigShowCmd(load))
	return cmd
}

func newConfigCheckCmd(load configLoader) *cobra.Command {
	var jsonOut, strict bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration against this machine",
		Long: `Checks the agent command, integrity pin, timeouts, channel and journal
settings. Exits 1 when any error is found (or any warning with --strict).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			result := doctor.New(cfg).Validate()
			if strict {
				result = result.Strict()
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, data)
			} else {
				if cfg.SourcePath != "" {
					fmt.Fprintf(out, "Config: %s\n", cfg.SourcePath)
				} else {
					fmt.Fprintln(out, "Config: <defaults>")
				}
				fmt.Fprint(out, doctor.FormatHuman(result))
			}

			if !result.Valid {
				return exitCodeError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in structured JSON format")
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
	return cmd
}

func newConfigShowCmd(load configLoader) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			shown := redactSecrets(cfg)

			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := json.MarshalIndent(shown, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			data, err := yaml.Marshal(shown)
			if err != nil {
				return err
			}
			fmt.Fprint(out, string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON instead of YAML")
	return cmd
}

func redactSecrets(cfg *config.Config) config.Config {
	shown := *cfg
	if shown.API.APIKey != "" {
		shown.API.APIKey = redacted
	}
	if shown.WhatsApp.BridgeToken != "" {
		shown.WhatsApp.BridgeToken = redacted
	}
	return shown
}
