package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/agentbridge/internal/config"
)

func newAgentCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent executable utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "hash",
		Short: "Print the BLAKE3 hash of the agent file for agent.integrity.blake3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			path, err := config.IntegrityFile(cfg.Agent)
			if err != nil {
				return fmt.Errorf("resolve agent file: %w", err)
			}
			sum, err := config.ComputeBlake3Hash(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, path)
			return nil
		},
	})
	return cmd
}
