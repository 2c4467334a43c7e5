// Package testutil provides shared testing utilities for the librarian
// project: deterministic embedders and a pgvector-enabled PostgreSQL
// container for integration tests.
package testutil

import (
	"context"
	"hash/fnv"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"

	"github.com/libris/librarian/internal/corpus"
)

// MockEmbedder implements ai.Embedder with deterministic output: the same
// input text always yields the same vector, and different texts yield
// different vectors with high probability.
type MockEmbedder struct {
	// Err, when set, is returned by every Embed call.
	Err error

	// CallCount tracks the number of Embed invocations.
	CallCount int

	// LastInput records the text of the most recent request.
	LastInput string
}

// Name implements ai.Embedder.
func (m *MockEmbedder) Name() string { return "mock-embedder" }

// Register implements ai.Embedder.
func (m *MockEmbedder) Register(api.Registry) {}

// Embed implements ai.Embedder.
func (m *MockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.CallCount++
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		m.LastInput = req.Input[0].Content[0].Text
	}
	if m.Err != nil {
		return nil, m.Err
	}

	return &ai.EmbedResponse{
		Embeddings: []*ai.Embedding{
			{Embedding: DeterministicVector(m.LastInput)},
		},
	}, nil
}

// DeterministicVector derives a unit-ish vector from text, sized to the
// corpus embedding dimension.
func DeterministicVector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, corpus.VectorDimension)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		// Map to [-1, 1).
		vec[i] = float32(int64(seed>>11))/float32(1<<52) - 1
	}
	return vec
}
