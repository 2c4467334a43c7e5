package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/libris/librarian/db"
	"github.com/libris/librarian/internal/config"
	"github.com/libris/librarian/internal/contextcache"
	"github.com/libris/librarian/internal/conversation"
	"github.com/libris/librarian/internal/corpus"
	"github.com/libris/librarian/internal/database"
	"github.com/libris/librarian/internal/embed"
	"github.com/libris/librarian/internal/gemini"
	"github.com/libris/librarian/internal/generate"
	"github.com/libris/librarian/internal/ingest"
	"github.com/libris/librarian/internal/librarian"
	"github.com/libris/librarian/internal/log"
	"github.com/libris/librarian/internal/memory"
	"github.com/libris/librarian/internal/observability"
	"github.com/libris/librarian/internal/settings"
)

// otelShutdownTimeout bounds the final span flush on Close.
const otelShutdownTimeout = 5 * time.Second

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.New(log.Config{})
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideTracing(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder, err := embed.New(provideEmbedderModel(g, cfg))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	a.Embedder = embedder

	// The direct genai client drives file uploads and cached full-document
	// generation. Failure to build it degrades the pipeline to excerpt
	// mode instead of failing startup.
	geminiClient, err := gemini.New(ctx)
	if err != nil {
		logger.Warn("full-document generation unavailable", "error", err)
		geminiClient = nil
	}
	a.Gemini = geminiClient

	lib, err := provideLibrarian(a, g)
	if err != nil {
		return nil, err
	}
	a.Librarian = lib

	a.Indexer = ingest.NewIndexer(ingest.NewStore(pool), embedder, nil, logger)

	_, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	return a, nil
}

// provideTracing wires the OTLP exporter into Genkit's tracer provider.
// Must run before provideGenkit so spans from initialization are captured.
func provideTracing(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if !cfg.TraceEnabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	}, logger)
	if err != nil {
		logger.Warn("tracing setup failed, continuing without traces", "error", err)
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.ConnString()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	return pool, nil
}

// provideGenkit initializes Genkit with the Google AI plugin.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	return g, nil
}

// provideEmbedderModel looks up the embedder registered by the Google AI
// plugin.
func provideEmbedderModel(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	model := cfg.EmbedderModel
	if model == "" {
		model = config.DefaultEmbedderModel
	}
	return googlegenai.GoogleAIEmbedder(g, model)
}

// provideLibrarian assembles the stores, the retrieval layer, the
// generation engine and the pipeline around them.
func provideLibrarian(a *App, g *genkit.Genkit) (*librarian.Librarian, error) {
	logger := a.Logger

	corpusStore, err := corpus.NewStore(a.Pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating corpus store: %w", err)
	}
	convStore, err := conversation.NewStore(a.Pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating conversation store: %w", err)
	}
	memStore, err := memory.NewStore(a.Pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating memory store: %w", err)
	}
	settingsStore, err := settings.NewStore(a.Pool)
	if err != nil {
		return nil, fmt.Errorf("creating settings store: %w", err)
	}

	cacheManager := contextcache.NewManager(
		a.Gemini,
		contextcache.NewStore(a.Pool),
		corpusStore,
		logger,
	)

	engine := generate.NewEngine(a.Gemini, generate.NewGenkitStreamer(g), logger)

	return librarian.New(librarian.Deps{
		Embedder:  a.Embedder,
		Settings:  settings.NewResolver(settingsStore, logger),
		Sessions:  convStore,
		Memory:    memory.NewMatcher(memStore, logger),
		Retriever: corpus.NewRetriever(corpusStore, logger),
		Files:     corpusStore,
		Cache:     cacheManager,
		Generator: engine,
		Logger:    logger,
	}), nil
}
