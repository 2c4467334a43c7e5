package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/libris/librarian/internal/app"
	"github.com/libris/librarian/internal/config"
	"github.com/libris/librarian/internal/corpus"
	"github.com/libris/librarian/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server on stdio",
	Long: `Start a Model Context Protocol server exposing the ask_librarian
and search_corpus tools over stdio. Intended to be launched by MCP
clients such as agent runtimes and editors.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// runMCP initializes the application and starts the MCP server on stdio.
// All logging goes to stderr; stdout carries JSON-RPC only.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := initLogger()
	logger.Info("starting MCP server", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	corpusStore, err := corpus.NewStore(a.Pool, logger)
	if err != nil {
		return fmt.Errorf("creating corpus store: %w", err)
	}

	mcpServer, err := mcp.NewServer(
		mcp.Config{Name: "librarian", Version: AppVersion},
		a.Librarian,
		a.Embedder,
		corpus.NewRetriever(corpusStore, logger),
		logger,
	)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	logger.Info("MCP server ready", "transport", "stdio")

	if err := mcpServer.Run(ctx, &mcpSdk.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	logger.Info("MCP server shut down gracefully")
	return nil
}
