// Package main is the entry point for the relay agent daemon.
//
// Relay connects messaging channels (Telegram, websocket) to LLM providers
// (Anthropic, OpenAI) through a turn pipeline with skill routing, plan mode,
// and confirmed tool execution.
//
// Start the daemon:
//
//	relay serve --config relay.yaml
//
// Configuration values may reference environment variables with ${VAR}
// syntax, e.g. api_key: ${ANTHROPIC_API_KEY}.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Relay multi-channel agent daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd())
	root.AddCommand(buildVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("relay %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay daemon",
		Long: `Start the relay daemon with all configured channels and providers.

The daemon loads the configuration, connects the session store, starts the
enabled channel adapters, and serves until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relay.yaml",
		"Path to YAML configuration file")
	return cmd
}
