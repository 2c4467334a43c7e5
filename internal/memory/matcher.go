package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pgvector/pgvector-go"
)

// Matcher finds usable prior answers for a query embedding.
type Matcher struct {
	store  Searcher
	logger *slog.Logger
}

// NewMatcher creates a Matcher.
func NewMatcher(store Searcher, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{store: store, logger: logger}
}

// MatchParams scopes one memory lookup.
type MatchParams struct {
	Embedding      pgvector.Vector
	OrganizationID string
	ProjectID      string
	Threshold      float64
	MinTrustScore  float64
}

// Match returns a usable prior answer or nil. The closest candidate above the
// similarity threshold is discarded when it is neither expert-curated nor
// sufficiently trusted; no weaker candidate is considered in its place.
// On a hit the usage counter is incremented best-effort.
func (m *Matcher) Match(ctx context.Context, p MatchParams) (*Entry, error) {
	candidate, err := m.store.Nearest(ctx, p.Embedding, p.OrganizationID, p.ProjectID, p.Threshold)
	if err != nil {
		return nil, fmt.Errorf("memory lookup: %w", err)
	}
	if candidate == nil {
		return nil, nil
	}

	if !candidate.Trusted(p.MinTrustScore) {
		m.logger.Debug("memory candidate rejected by trust gate",
			"entry_id", candidate.ID,
			"similarity", candidate.Similarity,
			"trust_score", candidate.TrustScore)
		return nil, nil
	}

	if err := m.store.IncrementUsage(ctx, candidate.ID); err != nil {
		m.logger.Warn("incrementing memory usage", "entry_id", candidate.ID, "error", err)
	}

	return candidate, nil
}
