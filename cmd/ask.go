package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/libris/librarian/internal/app"
	"github.com/libris/librarian/internal/config"
	"github.com/libris/librarian/internal/librarian"
	"github.com/libris/librarian/internal/tui"
)

var (
	askUserID    string
	askOrgID     string
	askProjectID string
	askAppID     string
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask questions interactively in the terminal",
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askUserID, "user", "", "user identifier (defaults to the OS username)")
	askCmd.Flags().StringVar(&askOrgID, "org", "", "organization scope")
	askCmd.Flags().StringVar(&askProjectID, "project", "", "project scope")
	askCmd.Flags().StringVar(&askAppID, "app", "default", "application scope")
	rootCmd.AddCommand(askCmd)
}

// runAsk starts the interactive Bubble Tea interface.
func runAsk(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if os.Getenv("GEMINI_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable not set")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "To set your API key:")
		fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=your-api-key")
		return fmt.Errorf("GEMINI_API_KEY not set")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := initLogger()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	base := librarian.Request{
		UserID:           resolveUserID(),
		OrganizationID:   askOrgID,
		ProjectID:        askProjectID,
		AppID:            askAppID,
		IncludeUserLayer: true,
		IncludeAppLayer:  true,
	}
	if askOrgID != "" {
		base.IncludeOrgLayer = true
	}
	if askProjectID != "" {
		base.IncludeProjectLayer = true
	}

	model, err := tui.New(ctx, a.Librarian, base)
	if err != nil {
		return fmt.Errorf("creating TUI: %w", err)
	}

	program := tea.NewProgram(model, tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("TUI exited: %w", err)
	}
	return nil
}

// resolveUserID prefers the --user flag, then the OS username.
func resolveUserID() string {
	if askUserID != "" {
		return askUserID
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}
