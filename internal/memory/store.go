package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// SearchTimeout bounds the nearest-neighbor query.
const SearchTimeout = 5 * time.Second

// entryCols is the standard SELECT column list for memory entries.
const entryCols = `id, organization_id, COALESCE(project_id, ''), question, answer,
	expert_curated, trust_score, usage_count, created_at`

// Store manages memory entries backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a memory Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Nearest returns the closest active entry for the organization (and project,
// when given) whose cosine similarity is at least threshold, or nil.
func (s *Store) Nearest(ctx context.Context, embedding pgvector.Vector, orgID, projectID string, threshold float64) (*Entry, error) {
	if orgID == "" {
		return nil, nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, SearchTimeout)
	defer cancel()

	var e Entry
	err := s.pool.QueryRow(queryCtx,
		`SELECT `+entryCols+`, 1 - (embedding <=> $1) AS similarity
		 FROM memory_entries
		 WHERE organization_id = $2
		   AND ($3 = '' OR project_id IS NULL OR project_id = $3)
		   AND active
		   AND 1 - (embedding <=> $1) >= $4
		 ORDER BY embedding <=> $1
		 LIMIT 1`,
		embedding, orgID, projectID, threshold,
	).Scan(&e.ID, &e.OrganizationID, &e.ProjectID, &e.Question, &e.Answer,
		&e.ExpertCurated, &e.TrustScore, &e.UsageCount, &e.CreatedAt, &e.Similarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("memory search timeout: %w", err)
		}
		return nil, fmt.Errorf("searching memory entries: %w", err)
	}

	return &e, nil
}

// IncrementUsage bumps the usage counter. Callers treat failure as advisory.
func (s *Store) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE memory_entries SET usage_count = usage_count + 1 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("incrementing usage for %s: %w", id, err)
	}
	return nil
}

// Add inserts a new entry. Used by curation tooling and tests; the librarian
// itself never writes entries.
func (s *Store) Add(ctx context.Context, e Entry, embedding pgvector.Vector) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO memory_entries
		   (organization_id, project_id, question, answer, embedding, expert_curated, trust_score)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		 RETURNING id`,
		e.OrganizationID, e.ProjectID, e.Question, e.Answer, embedding, e.ExpertCurated, e.TrustScore,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting memory entry: %w", err)
	}
	return id, nil
}
