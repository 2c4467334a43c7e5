package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/pgvector/pgvector-go"

	"github.com/libris/librarian/internal/corpus"
	"github.com/libris/librarian/internal/security"
)

// Indexable file types and their mime types.
var supportedExtensions = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
	".csv":  "text/csv",
	".json": "application/json",
	".vtt":  "text/vtt",
	".srt":  "application/x-subrip",
}

// transcriptExtensions mark sources ingested as transcripts.
var transcriptExtensions = map[string]bool{
	".vtt": true,
	".srt": true,
}

// maxFileSize bounds a single ingested file.
const maxFileSize = 4 * 1024 * 1024

// Embedder turns fragment text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// Writer persists one ingested file. *Store satisfies it.
type Writer interface {
	UpsertFile(ctx context.Context, f FileUpsert) (uuid.UUID, error)
}

// Target names the corpus slot files are ingested into.
type Target struct {
	AppID          string
	OrganizationID string
	ProjectID      string
	OwnerID        string
	Layer          corpus.Layer
}

// Result summarizes one ingest run.
type Result struct {
	FilesAdded   int
	FilesSkipped int
	FilesFailed  int
	Fragments    int
	Duration     time.Duration
}

// Indexer walks document trees into the corpus.
type Indexer struct {
	store      Writer
	embedder   Embedder
	summarizer Summarizer
	logger     *slog.Logger
}

// NewIndexer creates an Indexer. A nil summarizer gets the extractive one.
func NewIndexer(store Writer, embedder Embedder, summarizer Summarizer, logger *slog.Logger) *Indexer {
	if summarizer == nil {
		summarizer = Extractive{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{store: store, embedder: embedder, summarizer: summarizer, logger: logger}
}

// AddFile ingests a single file.
func (idx *Indexer) AddFile(ctx context.Context, path string, target Target) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	mime, ok := supportedExtensions[ext]
	if !ok {
		return fmt.Errorf("unsupported file type %s", ext)
	}
	if info.Size() > maxFileSize {
		return fmt.Errorf("%s exceeds the %d byte ingest limit", path, maxFileSize)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	_, err = idx.ingest(ctx, absPath, mime, ext, string(content), target)
	return err
}

// AddDirectory recursively ingests all supported files under dirPath,
// honoring a .gitignore at the directory root. Individual file failures are
// counted, not fatal.
func (idx *Indexer) AddDirectory(ctx context.Context, dirPath string, target Target) (*Result, error) {
	start := time.Now()
	result := &Result{}

	absDir, err := filepath.Abs(dirPath)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dirPath, err)
	}

	var gitIgnore *ignore.GitIgnore
	if _, err := os.Stat(filepath.Join(absDir, ".gitignore")); err == nil {
		gitIgnore, err = ignore.CompileIgnoreFile(filepath.Join(absDir, ".gitignore"))
		if err != nil {
			// A malformed .gitignore never blocks an ingest run.
			gitIgnore = nil
		}
	}

	// Symlinks under the tree must not pull in content outside it.
	guard, err := security.NewPathGuard([]string{absDir})
	if err != nil {
		return nil, fmt.Errorf("guarding %s: %w", dirPath, err)
	}

	err = filepath.Walk(absDir, func(path string, info os.FileInfo, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			result.FilesFailed++
			return nil
		}

		relPath, err := filepath.Rel(absDir, path)
		if err != nil {
			result.FilesFailed++
			return nil
		}
		if gitIgnore != nil && gitIgnore.MatchesPath(relPath) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			result.FilesSkipped++
			return nil
		}
		if info.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		mime, ok := supportedExtensions[ext]
		if !ok || info.Size() > maxFileSize {
			result.FilesSkipped++
			return nil
		}

		if _, err := guard.Check(path); err != nil {
			idx.logger.Warn("file escapes the ingest root", "path", relPath, "error", err)
			result.FilesSkipped++
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			result.FilesFailed++
			return nil
		}
		n, err := idx.ingest(ctx, path, mime, ext, string(content), target)
		if err != nil {
			idx.logger.Warn("file ingest failed", "path", relPath, "error", err)
			result.FilesFailed++
			return nil
		}
		result.FilesAdded++
		result.Fragments += n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dirPath, err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// ingest chunks, summarizes, embeds and persists one file, returning the
// fragment count.
func (idx *Indexer) ingest(ctx context.Context, path, mime, ext, content string, target Target) (int, error) {
	sections := Chunk(content)
	if len(sections) == 0 {
		return 0, fmt.Errorf("no indexable content in %s", path)
	}

	sourceType := corpus.SourceTypeDocument
	if transcriptExtensions[ext] {
		sourceType = corpus.SourceTypeTranscript
	}

	var rows []FragmentRow
	pageCount := 0
	for _, sec := range sections {
		if sec.PageEnd > pageCount {
			pageCount = sec.PageEnd
		}

		summary, err := idx.summarizer.Summarize(ctx, sec.Title, strings.Join(sec.Verbatim, "\n\n"))
		if err != nil {
			return 0, fmt.Errorf("summarizing section %q: %w", sec.Title, err)
		}
		summaryVec, err := idx.embedder.Embed(ctx, summary)
		if err != nil {
			return 0, fmt.Errorf("embedding summary: %w", err)
		}

		parentID := uuid.New()
		rows = append(rows, FragmentRow{
			ID:             parentID,
			HierarchyLevel: corpus.LevelSummary,
			Content:        summary,
			SectionTitle:   sec.Title,
			PageStart:      sec.PageStart,
			PageEnd:        sec.PageEnd,
			Embedding:      summaryVec,
		})

		for _, v := range sec.Verbatim {
			vec, err := idx.embedder.Embed(ctx, v)
			if err != nil {
				return 0, fmt.Errorf("embedding fragment: %w", err)
			}
			pid := parentID
			rows = append(rows, FragmentRow{
				ID:               uuid.New(),
				ParentFragmentID: &pid,
				HierarchyLevel:   corpus.LevelVerbatim,
				Content:          v,
				SectionTitle:     sec.Title,
				PageStart:        sec.PageStart,
				PageEnd:          sec.PageEnd,
				Embedding:        vec,
			})
		}
	}

	_, err := idx.store.UpsertFile(ctx, FileUpsert{
		AppID:          target.AppID,
		OrganizationID: target.OrganizationID,
		ProjectID:      target.ProjectID,
		OwnerID:        target.OwnerID,
		Layer:          target.Layer,
		Filename:       filepath.Base(path),
		MimeType:       mime,
		PageCount:      pageCount,
		SourceType:     sourceType,
		StoragePath:    path,
		Fragments:      rows,
	})
	if err != nil {
		return 0, err
	}

	idx.logger.Debug("file ingested",
		"path", path, "sections", len(sections), "fragments", len(rows))
	return len(rows), nil
}
