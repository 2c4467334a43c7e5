// Package mcp exposes the librarian pipeline over the Model Context
// Protocol, so agent runtimes can ask questions and search the corpus
// as tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pgvector/pgvector-go"

	"github.com/libris/librarian/internal/corpus"
	"github.com/libris/librarian/internal/librarian"
	"github.com/libris/librarian/internal/log"
)

// Asker runs one full question through the pipeline.
type Asker interface {
	Ask(ctx context.Context, req librarian.Request) (<-chan librarian.Event, error)
}

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// Retriever performs the hierarchical corpus search.
type Retriever interface {
	Retrieve(ctx context.Context, p corpus.RetrieveParams) (*corpus.Result, error)
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
}

// Server wraps the MCP SDK server around the librarian pipeline.
type Server struct {
	mcpServer *mcp.Server
	asker     Asker
	embedder  Embedder
	retriever Retriever
	logger    log.Logger
}

// NewServer creates an MCP server exposing the ask and search tools.
func NewServer(cfg Config, asker Asker, embedder Embedder, retriever Retriever, logger log.Logger) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if asker == nil {
		return nil, fmt.Errorf("asker is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		asker:     asker,
		embedder:  embedder,
		retriever: retriever,
		logger:    logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Run starts the MCP server on the given transport. It blocks until the
// transport closes or the context is canceled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

func (s *Server) registerTools() error {
	askSchema, err := jsonschema.For[AskInput](nil)
	if err != nil {
		return fmt.Errorf("schema for ask tool: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "ask_librarian",
		Description: "Ask a question over the indexed document corpus. " +
			"Returns a cited answer grounded in the retrieved sources.",
		InputSchema: askSchema,
	}, s.Ask)

	if s.embedder != nil && s.retriever != nil {
		searchSchema, err := jsonschema.For[SearchInput](nil)
		if err != nil {
			return fmt.Errorf("schema for search tool: %w", err)
		}

		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name: "search_corpus",
			Description: "Search the indexed document corpus using hybrid semantic " +
				"and keyword retrieval. Returns scored files and matching fragments " +
				"without generating an answer.",
			InputSchema: searchSchema,
		}, s.Search)
	}

	return nil
}
