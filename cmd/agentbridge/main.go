package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/agentbridge/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// exitCodeError ends the process with code after its message, if any, has
// already been printed.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

func runCLI(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		var exitErr exitCodeError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "agentbridge",
		Short: "Bridge chat messages to a local agent process",
		Long: `agentbridge turns every inbound chat message into one invocation of a local
agent executable and sends the agent's output back to the same conversation.

Messages of one conversation are processed strictly in order; different
conversations run concurrently up to coordinator.max_concurrent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml or the directory containing it")

	load := func() (*config.Config, error) {
		return config.Resolve(configPath)
	}

	root.AddCommand(
		newSystemCmd(load),
		newChatCmd(load),
		newConfigCmd(load),
		newAgentCmd(load),
		newRequestCmd(load),
		newVersionCmd(),
	)
	return root
}

// configLoader resolves the configuration named by the global --config flag.
type configLoader func() (*config.Config, error)
