package corpus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Searcher is the store surface the retriever needs. Defined by the consumer
// so tests can substitute a mock.
type Searcher interface {
	SearchFragments(ctx context.Context, p SearchParams) ([]Fragment, error)
	ChildFragments(ctx context.Context, parentIDs []uuid.UUID) ([]Fragment, error)
}

// RetrieveParams describes one retrieval pass. Match count, threshold and
// file limits come from the resolved intent strategy and librarian settings.
type RetrieveParams struct {
	Embedding       pgvector.Vector
	QueryText       string
	Scope           Scope
	Levels          []int
	IncludeChildren bool
	FileAllowlist   []uuid.UUID
	SourceTypes     []string

	MatchCount    int
	Threshold     float64
	MaxFiles      int
	BoostKeywords []string
	BoostFactor   float64 // per-file multiplier when a filename matches a boost keyword
	GlobalBoost   float64 // config-wide multiplier applied to every file score
}

// Result is the outcome of one retrieval pass.
//
// Fragments holds the retained document fragments (primary and child) in
// retrieval order, restricted to the retained files. Transcripts are
// segregated: they never count toward file aggregation and reach the prompt
// through a separate channel.
type Result struct {
	Fragments   []Fragment
	Transcripts []Fragment
	Files       []SourceFile
	TotalPages  int
}

// Retriever performs hierarchical hybrid retrieval over the corpus.
type Retriever struct {
	store  Searcher
	logger *slog.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(store Searcher, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, logger: logger}
}

// Retrieve issues the hybrid search, expands level 0 matches with their
// children when requested, aggregates fragments into scored files, and
// truncates to the file limit. A retrieval error is fatal for the request.
func (r *Retriever) Retrieve(ctx context.Context, p RetrieveParams) (*Result, error) {
	hits, err := r.store.SearchFragments(ctx, SearchParams{
		Embedding:     p.Embedding,
		QueryText:     p.QueryText,
		Scope:         p.Scope,
		Levels:        p.Levels,
		Threshold:     p.Threshold,
		Limit:         p.MatchCount,
		FileAllowlist: p.FileAllowlist,
		SourceTypes:   p.SourceTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	if p.IncludeChildren {
		var parents []uuid.UUID
		for _, f := range hits {
			if f.HierarchyLevel == LevelSummary {
				parents = append(parents, f.ID)
			}
		}
		if len(parents) > 0 {
			children, err := r.store.ChildFragments(ctx, parents)
			if err != nil {
				return nil, fmt.Errorf("expanding children: %w", err)
			}
			hits = append(hits, children...)
		}
	}

	// Segregate transcript fragments before aggregation; they are injected
	// into generation through a separate channel.
	var docs, transcripts []Fragment
	for _, f := range hits {
		if f.SourceType == SourceTypeTranscript {
			transcripts = append(transcripts, f)
		} else {
			docs = append(docs, f)
		}
	}

	files := buildSourceFiles(docs, p.BoostKeywords, p.BoostFactor, p.GlobalBoost)

	// An explicit allow-list means the caller chose the files; keep them all.
	if len(p.FileAllowlist) == 0 && p.MaxFiles > 0 && len(files) > p.MaxFiles {
		files = files[:p.MaxFiles]
	}

	retained := make(map[uuid.UUID]bool, len(files))
	totalPages := 0
	for _, sf := range files {
		retained[sf.ID] = true
		totalPages += sf.PageCount
	}

	var kept []Fragment
	for _, f := range docs {
		if retained[f.FileID] {
			kept = append(kept, f)
		}
	}

	r.logger.Debug("retrieval complete",
		"hits", len(hits),
		"files", len(files),
		"transcripts", len(transcripts),
		"total_pages", totalPages)

	return &Result{
		Fragments:   kept,
		Transcripts: transcripts,
		Files:       files,
		TotalPages:  totalPages,
	}, nil
}
