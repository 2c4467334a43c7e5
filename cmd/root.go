// Package cmd contains the librarian CLI commands.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/libris/librarian/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "librarian",
	Short: "Librarian - streaming question answering over your documents",
	Long: `Librarian answers questions from an indexed document corpus.

It retrieves the most relevant document fragments, decides between
excerpt-based and full-document generation, streams the answer token
by token and cites the sources it used.

Run without arguments to start the interactive terminal interface.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// initLogger builds the process logger. Logs go to stderr so stdout
// stays clean for MCP JSON-RPC and piped output.
func initLogger() log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.NewWithWriter(os.Stderr, log.Config{Level: level})
}
