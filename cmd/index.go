package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/libris/librarian/internal/app"
	"github.com/libris/librarian/internal/config"
	"github.com/libris/librarian/internal/corpus"
	"github.com/libris/librarian/internal/ingest"
)

// timeRound trims duration noise in the index summary line.
const timeRound = time.Millisecond

var (
	indexUserID    string
	indexOrgID     string
	indexProjectID string
	indexAppID     string
	indexLayer     string
)

var indexCmd = &cobra.Command{
	Use:   "index <path>...",
	Short: "Index files or directories into the corpus",
	Long: `Index chunks the given files into hierarchical fragments, embeds
them and writes them into the corpus. Directories are walked recursively,
honoring .gitignore files. Re-indexing a path replaces its fragments.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexUserID, "user", "", "owning user (required for the user layer)")
	indexCmd.Flags().StringVar(&indexOrgID, "org", "", "owning organization")
	indexCmd.Flags().StringVar(&indexProjectID, "project", "", "owning project")
	indexCmd.Flags().StringVar(&indexAppID, "app", "default", "application scope")
	indexCmd.Flags().StringVar(&indexLayer, "layer", "app", "corpus layer: app, org, project or user")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(_ *cobra.Command, args []string) error {
	target, err := indexTarget()
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
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

	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		if info.IsDir() {
			result, err := a.Indexer.AddDirectory(ctx, path, target)
			if err != nil {
				return fmt.Errorf("indexing directory %s: %w", path, err)
			}
			fmt.Printf("%s: %d files indexed, %d skipped, %d failed, %d fragments (%s)\n",
				path, result.FilesAdded, result.FilesSkipped, result.FilesFailed,
				result.Fragments, result.Duration.Round(timeRound))
			continue
		}

		if err := a.Indexer.AddFile(ctx, path, target); err != nil {
			return fmt.Errorf("indexing %s: %w", path, err)
		}
		fmt.Printf("%s: indexed\n", path)
	}

	return nil
}

// indexTarget maps the flags onto an ingest target, validating the layer
// and its required identity.
func indexTarget() (ingest.Target, error) {
	layer := corpus.Layer(indexLayer)
	switch layer {
	case corpus.LayerApp, corpus.LayerOrg, corpus.LayerProject, corpus.LayerUser:
	default:
		return ingest.Target{}, fmt.Errorf("invalid layer %q: must be app, org, project or user", indexLayer)
	}

	switch {
	case layer == corpus.LayerOrg && indexOrgID == "":
		return ingest.Target{}, fmt.Errorf("--org is required for the org layer")
	case layer == corpus.LayerProject && indexProjectID == "":
		return ingest.Target{}, fmt.Errorf("--project is required for the project layer")
	case layer == corpus.LayerUser && indexUserID == "":
		return ingest.Target{}, fmt.Errorf("--user is required for the user layer")
	}

	return ingest.Target{
		AppID:          indexAppID,
		OrganizationID: indexOrgID,
		ProjectID:      indexProjectID,
		OwnerID:        indexUserID,
		Layer:          layer,
	}, nil
}
