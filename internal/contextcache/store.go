package contextcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const storeTimeout = 5 * time.Second

// Store persists cache entries in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetEntry returns the entry for the identity triple, or nil when absent.
func (s *Store) GetEntry(ctx context.Context, fileSetHash, promptHash, model string) (*Entry, error) {
	callCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	var e Entry
	err := s.pool.QueryRow(callCtx,
		`SELECT id, file_set_hash, prompt_hash, model, remote_name, expires_at, last_used_at, created_at
		 FROM context_caches
		 WHERE file_set_hash = $1 AND prompt_hash = $2 AND model = $3`,
		fileSetHash, promptHash, model,
	).Scan(&e.ID, &e.FileSetHash, &e.PromptHash, &e.Model, &e.RemoteName,
		&e.ExpiresAt, &e.LastUsedAt, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting cache entry: %w", err)
	}
	return &e, nil
}

// PutEntry inserts or replaces the entry for its identity triple. Replacement
// covers the expired-entry case: the fresh remote context supersedes the old
// row.
func (s *Store) PutEntry(ctx context.Context, e Entry) error {
	callCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	_, err := s.pool.Exec(callCtx,
		`INSERT INTO context_caches (id, file_set_hash, prompt_hash, model, remote_name, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (file_set_hash, prompt_hash, model)
		 DO UPDATE SET remote_name = EXCLUDED.remote_name,
		               expires_at = EXCLUDED.expires_at,
		               last_used_at = now()`,
		e.ID, e.FileSetHash, e.PromptHash, e.Model, e.RemoteName, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("putting cache entry: %w", err)
	}
	return nil
}

// Touch records a reuse of the entry.
func (s *Store) Touch(ctx context.Context, id uuid.UUID) error {
	callCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	_, err := s.pool.Exec(callCtx,
		`UPDATE context_caches SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touching cache entry: %w", err)
	}
	return nil
}

// DeleteExpired removes entries whose remote context has lapsed. Intended
// for periodic housekeeping.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	tag, err := s.pool.Exec(callCtx,
		`DELETE FROM context_caches WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("deleting expired cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
