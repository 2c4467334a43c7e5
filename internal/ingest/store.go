package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/libris/librarian/internal/corpus"
)

const writeTimeout = 30 * time.Second

// FragmentRow is one fragment ready for persistence.
type FragmentRow struct {
	ID               uuid.UUID
	ParentFragmentID *uuid.UUID
	HierarchyLevel   int
	Content          string
	SectionTitle     string
	PageStart        int
	PageEnd          int
	Embedding        pgvector.Vector
}

// FileUpsert describes one file and its full fragment set.
type FileUpsert struct {
	AppID          string
	OrganizationID string
	ProjectID      string
	OwnerID        string
	Layer          corpus.Layer
	Filename       string
	MimeType       string
	PageCount      int
	SourceType     string
	StoragePath    string
	Fragments      []FragmentRow
}

// Store persists ingested files and fragments.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an ingest Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UpsertFile writes the file record and replaces its fragments in one
// transaction. Re-ingesting a path updates the existing row, drops its old
// fragments and clears any cached remote handle.
func (s *Store) UpsertFile(ctx context.Context, f FileUpsert) (uuid.UUID, error) {
	callCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := s.pool.Begin(callCtx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("beginning ingest transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(callCtx) }()

	var fileID uuid.UUID
	err = tx.QueryRow(callCtx,
		`INSERT INTO corpus_files
		   (app_id, organization_id, project_id, owner_id, layer, filename,
		    mime_type, page_count, source_type, storage_path)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (app_id, layer, storage_path)
		 DO UPDATE SET filename = EXCLUDED.filename,
		               mime_type = EXCLUDED.mime_type,
		               page_count = EXCLUDED.page_count,
		               source_type = EXCLUDED.source_type,
		               remote_handle = NULL,
		               remote_handle_expires_at = NULL,
		               updated_at = now()
		 RETURNING id`,
		f.AppID, f.OrganizationID, f.ProjectID, f.OwnerID, string(f.Layer),
		f.Filename, f.MimeType, f.PageCount, f.SourceType, f.StoragePath,
	).Scan(&fileID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upserting corpus file: %w", err)
	}

	if _, err := tx.Exec(callCtx,
		`DELETE FROM fragments WHERE file_id = $1`, fileID); err != nil {
		return uuid.Nil, fmt.Errorf("clearing old fragments: %w", err)
	}

	batch := &pgx.Batch{}
	for _, fr := range f.Fragments {
		batch.Queue(
			`INSERT INTO fragments
			   (id, file_id, parent_fragment_id, app_id, organization_id, project_id,
			    owner_id, layer, hierarchy_level, source_type, content, section_title,
			    page_start, page_end, embedding)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
			         $8, $9, $10, $11, NULLIF($12, ''), $13, $14, $15)`,
			fr.ID, fileID, fr.ParentFragmentID, f.AppID, f.OrganizationID, f.ProjectID,
			f.OwnerID, string(f.Layer), fr.HierarchyLevel, f.SourceType, fr.Content,
			fr.SectionTitle, fr.PageStart, fr.PageEnd, fr.Embedding)
	}
	if err := tx.SendBatch(callCtx, batch).Close(); err != nil {
		return uuid.Nil, fmt.Errorf("inserting fragments: %w", err)
	}

	if err := tx.Commit(callCtx); err != nil {
		return uuid.Nil, fmt.Errorf("committing ingest: %w", err)
	}
	return fileID, nil
}
