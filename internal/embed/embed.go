// Package embed wraps a Genkit embedder for query and document embedding.
package embed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"

	"github.com/libris/librarian/internal/corpus"
)

// Timeout bounds a single embedding call.
const Timeout = 15 * time.Second

// Embedder turns text into fixed-dimension vectors via an external embedding
// call. Vectors are truncated to corpus.VectorDimension.
type Embedder struct {
	embedder ai.Embedder
}

// New creates an Embedder.
func New(embedder ai.Embedder) (*Embedder, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &Embedder{embedder: embedder}, nil
}

// Embed returns the embedding vector for text. A timeout or transport error
// is fatal for the caller's request.
func (e *Embedder) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	embedCtx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	dim := corpus.VectorDimension
	resp, err := e.embedder.Embed(embedCtx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return pgvector.Vector{}, fmt.Errorf("embedding timeout: %w", err)
		}
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding response")
	}

	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}
