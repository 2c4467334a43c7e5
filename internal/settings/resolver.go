package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no active configuration record exists for a scope.
var ErrNotFound = errors.New("librarian config not found")

// Querier is the store surface the resolver needs. Defined by the consumer
// so tests can substitute a mock.
type Querier interface {
	// GetOrgSettings returns the raw settings JSON of the active
	// organization-specific record, or ErrNotFound.
	GetOrgSettings(ctx context.Context, appID, orgID string) ([]byte, error)

	// GetAppSettings returns the raw settings JSON of the active
	// application-global record, or ErrNotFound.
	GetAppSettings(ctx context.Context, appID string) ([]byte, error)
}

// Store is the PostgreSQL-backed Querier.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a settings Store.
func NewStore(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// GetOrgSettings implements Querier.
func (s *Store) GetOrgSettings(ctx context.Context, appID, orgID string) ([]byte, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT settings FROM librarian_configs
		 WHERE app_id = $1 AND organization_id = $2 AND active`,
		appID, orgID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading org config: %w", err)
	}
	return raw, nil
}

// GetAppSettings implements Querier.
func (s *Store) GetAppSettings(ctx context.Context, appID string) ([]byte, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT settings FROM librarian_configs
		 WHERE app_id = $1 AND organization_id IS NULL AND active`,
		appID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading app config: %w", err)
	}
	return raw, nil
}

// Resolver produces fully populated Configs for a scope.
type Resolver struct {
	querier Querier
	logger  *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(querier Querier, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{querier: querier, logger: logger}
}

// Resolve returns the effective configuration for (appID, orgID). The result
// is always fully populated. Store errors are treated as "no record found"
// and logged; they never fail the request.
func (r *Resolver) Resolve(ctx context.Context, appID, orgID string) Config {
	cfg := Defaults()

	raw := r.lookup(ctx, appID, orgID)
	if raw == nil {
		return cfg
	}

	var stored Config
	if err := json.Unmarshal(raw, &stored); err != nil {
		r.logger.Warn("malformed librarian config record, using defaults",
			"app_id", appID, "org_id", orgID, "error", err)
		return cfg
	}

	overlay(&cfg, stored)
	return cfg
}

// lookup returns the raw record for the scope: organization-specific first,
// then application-global, else nil.
func (r *Resolver) lookup(ctx context.Context, appID, orgID string) []byte {
	if orgID != "" {
		raw, err := r.querier.GetOrgSettings(ctx, appID, orgID)
		switch {
		case err == nil:
			return raw
		case !errors.Is(err, ErrNotFound):
			r.logger.Warn("config store unreachable, falling back", "error", err)
			return nil
		}
	}

	raw, err := r.querier.GetAppSettings(ctx, appID)
	switch {
	case err == nil:
		return raw
	case !errors.Is(err, ErrNotFound):
		r.logger.Warn("config store unreachable, falling back", "error", err)
	}
	return nil
}
