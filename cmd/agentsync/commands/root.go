// Package commands holds the agentsync CLI.
package commands

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentsync-dev/agentsync"
	"github.com/agentsync-dev/agentsync/internal/observability"
)

// Version is set via ldflags.
var Version = "dev"

var configFile string

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "agentsync",
		Short:   "Synchronization client for multi-agent cloud workspaces",
		Long:    `agentsync keeps a local view of a shared agent workspace in sync with the server: live messages, token streams, notifications, checkpoints, and approval requests.`,
		Version: Version,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", envOr("AGENTSYNC_CONFIG", "agentsync.yaml"), "Configuration file")
	rootCmd.AddCommand(NewWatchCommand())
	rootCmd.AddCommand(NewApprovalsCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := observability.InitFromEnv(); err != nil {
		log.Printf("Warning: failed to initialize tracing: %v", err)
	}

	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadClient builds a connected client from the configured file.
func loadClient() (*agentsync.Client, error) {
	loader := agentsync.NewConfigLoader(&agentsync.OSFileReader{})
	cfg, err := loader.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	return agentsync.New(*cfg)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
