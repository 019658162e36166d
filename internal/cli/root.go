// Package cli provides the command-line interface for fleetpilot.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/routeworks/fleetpilot/internal/assistant"
	"github.com/routeworks/fleetpilot/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and logger, populated by the persistent pre-run.
	cfg       config.Config
	logger    *slog.Logger
	logCloser func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "fleetpilot",
	Short: "Fleet assistant terminal client",
	Long: `Fleetpilot is the terminal client for the fleet assistant: ask questions
about a vehicle, stream the answer live, and browse past conversations.

The assistant backend (assistd) holds the durable conversation log; this
client talks to it over HTTP and keeps an open push channel so confirmed
messages appear the moment they are written.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, logCloser = config.SetupLogger(cfg.LogFile, level)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			if err := logCloser(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// newAssistantClient builds a client for the configured backend.
func newAssistantClient() *assistant.Client {
	return assistant.NewClient(cfg.AssistantURL, assistant.StaticCredential(cfg.AssistantToken), logger)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(tripsCmd)
	rootCmd.AddCommand(statsCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
