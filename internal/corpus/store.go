package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Hybrid relevance weights. Lexical rank is clamped to 1.0 before weighting
// so a degenerate ts_rank cannot dominate the vector signal.
const (
	searchWeightVector = 0.7
	searchWeightText   = 0.3
)

// SearchTimeout bounds a single hybrid search query.
const SearchTimeout = 10 * time.Second

// fragmentCols is the standard SELECT column list for scanFragments.
const fragmentCols = `f.id, f.file_id, f.parent_fragment_id, f.layer, f.hierarchy_level,
	f.source_type, f.content, COALESCE(f.section_title, ''),
	COALESCE(f.page_start, 0), COALESCE(f.page_end, 0),
	cf.filename, cf.mime_type, cf.page_count`

// Store provides fragment and file access backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a corpus Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// SearchParams constrains one hybrid search.
type SearchParams struct {
	Embedding      pgvector.Vector
	QueryText      string
	Scope          Scope
	Levels         []int       // hierarchy levels to search; empty = all
	Threshold      float64     // minimum hybrid relevance
	Limit          int         // maximum fragments returned
	FileAllowlist  []uuid.UUID // restrict to these files when non-empty
	SourceTypes    []string    // restrict to these source types when non-empty
}

// SearchFragments issues one hybrid (vector + lexical) search constrained to
// the requested hierarchy levels and scope. Results are ordered by hybrid
// relevance descending and tagged RolePrimary.
func (s *Store) SearchFragments(ctx context.Context, p SearchParams) ([]Fragment, error) {
	if p.Scope.Empty() {
		return []Fragment{}, nil
	}
	if p.Limit <= 0 {
		p.Limit = 10
	}
	if strings.ContainsRune(p.QueryText, 0) {
		return []Fragment{}, nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, SearchTimeout)
	defer cancel()

	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	relevance := fmt.Sprintf(
		`(%v * (1 - (f.embedding <=> %s))
		  + %v * LEAST(1.0, COALESCE(ts_rank_cd(f.content_tsv, plainto_tsquery('simple', %s), 1), 0)))`,
		searchWeightVector, arg(p.Embedding),
		searchWeightText, arg(p.QueryText),
	)

	conds := []string{scopePredicate(p.Scope, arg)}
	if len(p.Levels) > 0 {
		levels := make([]int16, len(p.Levels))
		for i, l := range p.Levels {
			levels[i] = int16(l)
		}
		conds = append(conds, fmt.Sprintf("f.hierarchy_level = ANY(%s)", arg(levels)))
	}
	if len(p.FileAllowlist) > 0 {
		conds = append(conds, fmt.Sprintf("f.file_id = ANY(%s)", arg(p.FileAllowlist)))
	}
	if len(p.SourceTypes) > 0 {
		conds = append(conds, fmt.Sprintf("f.source_type = ANY(%s)", arg(p.SourceTypes)))
	}

	sql := fmt.Sprintf(
		`SELECT %s, %s AS relevance
		 FROM fragments f
		 JOIN corpus_files cf ON cf.id = f.file_id
		 WHERE %s AND %s >= %s
		 ORDER BY relevance DESC
		 LIMIT %s`,
		fragmentCols, relevance,
		strings.Join(conds, " AND "), relevance, arg(p.Threshold),
		arg(p.Limit),
	)

	rows, err := s.pool.Query(queryCtx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching fragments: %w", err)
	}
	defer rows.Close()

	fragments, err := scanFragments(rows, true)
	if err != nil {
		return nil, err
	}
	for i := range fragments {
		fragments[i].Role = RolePrimary
	}
	return fragments, nil
}

// ChildFragments returns the level 1 children of the given level 0 fragments,
// tagged RoleChild. Children are returned regardless of their own similarity
// to the query; Similarity is left at zero.
func (s *Store) ChildFragments(ctx context.Context, parentIDs []uuid.UUID) ([]Fragment, error) {
	if len(parentIDs) == 0 {
		return []Fragment{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+fragmentCols+`
		 FROM fragments f
		 JOIN corpus_files cf ON cf.id = f.file_id
		 WHERE f.parent_fragment_id = ANY($1) AND f.hierarchy_level = 1
		 ORDER BY f.file_id, f.page_start NULLS LAST, f.id`,
		parentIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("loading child fragments: %w", err)
	}
	defer rows.Close()

	children, err := scanFragments(rows, false)
	if err != nil {
		return nil, err
	}
	for i := range children {
		children[i].Role = RoleChild
	}
	return children, nil
}

// GetFiles loads file records for the given ids, preserving no particular order.
func (s *Store) GetFiles(ctx context.Context, ids []uuid.UUID) ([]FileRecord, error) {
	if len(ids) == 0 {
		return []FileRecord{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, app_id, COALESCE(organization_id, ''), COALESCE(project_id, ''),
		        layer, filename, mime_type, page_count, source_type,
		        COALESCE(storage_path, ''), COALESCE(remote_handle, ''),
		        COALESCE(remote_handle_expires_at, 'epoch'::timestamptz), updated_at
		 FROM corpus_files
		 WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("loading corpus files: %w", err)
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.ID, &f.AppID, &f.OrganizationID, &f.ProjectID,
			&f.Layer, &f.Filename, &f.MimeType, &f.PageCount, &f.SourceType,
			&f.StoragePath, &f.RemoteHandle, &f.RemoteHandleExpiresAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning corpus file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating corpus files: %w", err)
	}
	return files, nil
}

// UpdateRemoteHandle records a fresh large-context store handle for a file.
func (s *Store) UpdateRemoteHandle(ctx context.Context, fileID uuid.UUID, handle string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE corpus_files
		 SET remote_handle = $2, remote_handle_expires_at = $3, updated_at = now()
		 WHERE id = $1`,
		fileID, handle, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("updating remote handle for %s: %w", fileID, err)
	}
	return nil
}

// scopePredicate builds the layer visibility condition for one search.
// Each included layer is bound to the caller's identity for that layer.
func scopePredicate(scope Scope, arg func(any) string) string {
	appID := arg(scope.AppID)

	var layers []string
	if scope.IncludeApp {
		layers = append(layers, "f.layer = 'app'")
	}
	if scope.IncludeOrg && scope.OrganizationID != "" {
		layers = append(layers,
			fmt.Sprintf("(f.layer = 'org' AND f.organization_id = %s)", arg(scope.OrganizationID)))
	}
	if scope.IncludeProject && scope.ProjectID != "" {
		layers = append(layers,
			fmt.Sprintf("(f.layer = 'project' AND f.project_id = %s)", arg(scope.ProjectID)))
	}
	if scope.IncludeUser && scope.UserID != "" {
		layers = append(layers,
			fmt.Sprintf("(f.layer = 'user' AND f.owner_id = %s)", arg(scope.UserID)))
	}
	if len(layers) == 0 {
		// Scope.Empty() is checked by callers; this keeps the SQL valid anyway.
		layers = append(layers, "FALSE")
	}

	return fmt.Sprintf("f.app_id = %s AND (%s)", appID, strings.Join(layers, " OR "))
}

// scanFragments converts query rows into Fragments. When withRelevance is
// set, a trailing relevance column is scanned into Similarity.
func scanFragments(rows pgx.Rows, withRelevance bool) ([]Fragment, error) {
	var fragments []Fragment
	for rows.Next() {
		var f Fragment
		dest := []any{
			&f.ID, &f.FileID, &f.ParentFragmentID, &f.Layer, &f.HierarchyLevel,
			&f.SourceType, &f.Content, &f.SectionTitle,
			&f.PageStart, &f.PageEnd,
			&f.Filename, &f.MimeType, &f.PageCount,
		}
		if withRelevance {
			dest = append(dest, &f.Similarity)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning fragment: %w", err)
		}
		fragments = append(fragments, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fragments: %w", err)
	}
	return fragments, nil
}
