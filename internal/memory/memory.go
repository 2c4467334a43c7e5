// Package memory provides the semantic answer memory: previously answered,
// trust-scored question/answer pairs that can short-circuit the retrieval
// and generation pipeline.
//
// Entries are read-only to the librarian except for the usage counter, which
// is incremented best-effort on a hit.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Entry is one stored (question, answer) pair.
type Entry struct {
	ID             uuid.UUID
	OrganizationID string
	ProjectID      string
	Question       string
	Answer         string
	ExpertCurated  bool
	TrustScore     float64
	UsageCount     int
	Similarity     float64
	CreatedAt      time.Time
}

// Trusted reports whether the entry may be served: expert-curated entries are
// always trusted, others need a sufficient trust score.
func (e *Entry) Trusted(minTrustScore float64) bool {
	return e.ExpertCurated || e.TrustScore >= minTrustScore
}

// Searcher is the store surface the matcher needs.
type Searcher interface {
	// Nearest returns the single closest active entry in scope with
	// similarity above threshold, or nil when nothing qualifies.
	Nearest(ctx context.Context, embedding pgvector.Vector, orgID, projectID string, threshold float64) (*Entry, error)

	// IncrementUsage bumps the usage counter of an entry.
	IncrementUsage(ctx context.Context, id uuid.UUID) error
}
