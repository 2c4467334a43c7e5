// Package app provides application initialization and dependency wiring.
//
// App is the container that assembles every librarian component: the
// database pool, Genkit, the embedder, the retrieval and persistence
// stores, the generation engine and the pipeline itself.
package app

import (
	"context"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/libris/librarian/internal/config"
	"github.com/libris/librarian/internal/embed"
	"github.com/libris/librarian/internal/gemini"
	"github.com/libris/librarian/internal/ingest"
	"github.com/libris/librarian/internal/librarian"
	"github.com/libris/librarian/internal/log"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	// Core services
	Genkit    *genkit.Genkit
	Pool      *pgxpool.Pool
	Embedder  *embed.Embedder
	Gemini    *gemini.Client
	Librarian *librarian.Librarian
	Indexer   *ingest.Indexer

	// Lifecycle management
	cancel      context.CancelFunc
	otelCleanup func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}

	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}

	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
