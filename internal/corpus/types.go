// Package corpus provides the layered, hierarchically chunked document corpus
// and its hybrid (vector + lexical) retriever.
//
// Fragments carry a hierarchy level: level 0 rows are abstractive section
// summaries, level 1 rows verbatim source text. Retrieval may expand matched
// level 0 fragments with their level 1 children. Per-file aggregation turns
// fragment hits into scored SourceFiles that gate the generation mode
// decision.
package corpus

import (
	"time"

	"github.com/google/uuid"
)

// VectorDimension is the embedding dimension used by the fragments and
// memory_entries schemas. gemini-embedding-001 vectors are truncated to this
// size via OutputDimensionality.
const VectorDimension int32 = 768

// Layer identifies the visibility scope of a document.
type Layer string

// Visibility layers, narrowest last.
const (
	LayerApp     Layer = "app"
	LayerOrg     Layer = "org"
	LayerProject Layer = "project"
	LayerUser    Layer = "user"
)

// Hierarchy levels for fragments.
const (
	// LevelSummary fragments are abstractive section summaries.
	LevelSummary = 0

	// LevelVerbatim fragments are verbatim source text.
	LevelVerbatim = 1
)

// RetrievalRole records how a fragment entered the result set.
type RetrievalRole string

const (
	// RolePrimary marks fragments that matched the query directly.
	RolePrimary RetrievalRole = "primary"

	// RoleChild marks level 1 fragments pulled in because their level 0
	// parent matched, regardless of their own similarity.
	RoleChild RetrievalRole = "child"
)

// Source types for files and fragments.
const (
	SourceTypeDocument   = "document"
	SourceTypeTranscript = "transcript"
)

// Fragment is a unit of indexed text returned by retrieval.
//
// Invariants: a level 0 fragment never has a parent; a RoleChild fragment
// always has ParentFragmentID set to the level 0 fragment that surfaced it.
type Fragment struct {
	ID               uuid.UUID
	FileID           uuid.UUID
	ParentFragmentID *uuid.UUID
	Layer            Layer
	HierarchyLevel   int
	SourceType       string
	Content          string
	SectionTitle     string
	PageStart        int
	PageEnd          int
	Similarity       float64
	Role             RetrievalRole

	// File metadata denormalized from corpus_files at query time.
	Filename  string
	MimeType  string
	PageCount int
}

// SourceFile aggregates the fragments of one file for a single query.
// It is constructed transiently per request and never persisted.
type SourceFile struct {
	ID            uuid.UUID
	Filename      string
	MimeType      string
	Layer         Layer
	PageCount     int
	FragmentCount int
	AvgSimilarity float64
	MaxSimilarity float64
	Boosted       bool
	Score         float64
	Fragments     []Fragment
}

// FileRecord is the persistent corpus_files row, including the cached
// large-context store handle.
type FileRecord struct {
	ID                    uuid.UUID
	AppID                 string
	OrganizationID        string
	ProjectID             string
	Layer                 Layer
	Filename              string
	MimeType              string
	PageCount             int
	SourceType            string
	StoragePath           string
	RemoteHandle          string
	RemoteHandleExpiresAt time.Time
	UpdatedAt             time.Time
}

// RemoteHandleValid reports whether the cached large-context store handle can
// be reused at the given instant.
func (f *FileRecord) RemoteHandleValid(now time.Time) bool {
	return f.RemoteHandle != "" && f.RemoteHandleExpiresAt.After(now)
}

// Scope restricts a search to the layers a caller may see. Each layer is
// independently includable; identity fields bind the org/project/user layers
// to the caller.
type Scope struct {
	AppID          string
	OrganizationID string
	ProjectID      string
	UserID         string

	IncludeApp     bool
	IncludeOrg     bool
	IncludeProject bool
	IncludeUser    bool
}

// Empty reports whether no layer is included.
func (s Scope) Empty() bool {
	return !s.IncludeApp && !s.IncludeOrg && !s.IncludeProject && !s.IncludeUser
}
