package librarian

import (
	"strings"

	"github.com/google/uuid"

	"github.com/libris/librarian/internal/conversation"
	"github.com/libris/librarian/internal/corpus"
)

// fullDocSources cites the retained files, one entry per file. When narrow
// is set, files whose name never appears in the answer text are dropped;
// if that would drop everything, the full list is kept.
func fullDocSources(files []corpus.SourceFile, answer string, narrow bool) []Source {
	sources := make([]Source, 0, len(files))
	for _, f := range files {
		if narrow && !mentionsFile(answer, f.Filename) {
			continue
		}
		sources = append(sources, Source{
			FileID:     f.ID.String(),
			Filename:   f.Filename,
			SourceType: corpus.SourceTypeDocument,
			Layer:      string(f.Layer),
			Score:      f.Score,
		})
	}
	if narrow && len(sources) == 0 {
		return fullDocSources(files, answer, false)
	}
	return sources
}

// mentionsFile reports whether the answer references the file by name, with
// or without its extension.
func mentionsFile(answer, filename string) bool {
	lower := strings.ToLower(answer)
	name := strings.ToLower(filename)
	if strings.Contains(lower, name) {
		return true
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		return strings.Contains(lower, name[:i])
	}
	return false
}

// chunkSources cites the fragments given to the model, deduplicated by file
// id (falling back to fragment id for fragments without one), preserving the
// first occurrence's section and page locator. Transcript fragments follow
// under their own source type.
func chunkSources(fragments, transcripts []corpus.Fragment) []Source {
	var sources []Source
	seen := make(map[uuid.UUID]bool)

	cite := func(f corpus.Fragment, sourceType string) {
		key := f.FileID
		if key == uuid.Nil {
			key = f.ID
		}
		if seen[key] {
			return
		}
		seen[key] = true
		s := Source{
			Filename:     f.Filename,
			SourceType:   sourceType,
			Layer:        string(f.Layer),
			Score:        f.Similarity,
			SectionTitle: f.SectionTitle,
			Level:        f.HierarchyLevel,
			PageStart:    f.PageStart,
			PageEnd:      f.PageEnd,
		}
		if f.FileID != uuid.Nil {
			s.FileID = f.FileID.String()
		} else {
			s.FragmentID = f.ID.String()
		}
		sources = append(sources, s)
	}

	for _, f := range fragments {
		cite(f, corpus.SourceTypeDocument)
	}
	for _, f := range transcripts {
		cite(f, corpus.SourceTypeTranscript)
	}
	return sources
}

// sourceRefs converts citations into the persisted message shape.
func sourceRefs(sources []Source) []conversation.SourceRef {
	refs := make([]conversation.SourceRef, 0, len(sources))
	for _, s := range sources {
		refs = append(refs, conversation.SourceRef{
			FileID:       s.FileID,
			FragmentID:   s.FragmentID,
			Filename:     s.Filename,
			SourceType:   s.SourceType,
			Layer:        s.Layer,
			Score:        s.Score,
			SectionTitle: s.SectionTitle,
			Level:        s.Level,
			PageStart:    s.PageStart,
			PageEnd:      s.PageEnd,
		})
	}
	return refs
}
