// Package contextcache manages the server-side context objects used by
// full-document generation. A cached context bundles a fixed set of uploaded
// files with a system prompt; while it lives, repeated questions over the
// same file set skip both re-upload and context assembly.
//
// Identity is the triple (file-set hash, prompt hash, model). Any change to
// the retained files, the resolved system prompt, or the generation model
// yields a different cache entry.
package contextcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/libris/librarian/internal/corpus"
	"github.com/libris/librarian/internal/gemini"
	"github.com/libris/librarian/internal/log"
)

// maxConcurrentUploads bounds parallel file uploads for one request.
const maxConcurrentUploads = 4

// ErrUnavailable is returned when no large-context store client is
// configured.
var ErrUnavailable = errors.New("contextcache: large-context store unavailable")

// Entry is a persistent context_caches row.
type Entry struct {
	ID          uuid.UUID
	FileSetHash string
	PromptHash  string
	Model       string
	RemoteName  string
	ExpiresAt   time.Time
	LastUsedAt  time.Time
	CreatedAt   time.Time
}

// Valid reports whether the remote context can still be attached to a
// generation call at the given instant.
func (e *Entry) Valid(now time.Time) bool {
	return e.RemoteName != "" && e.ExpiresAt.After(now)
}

// Querier is the persistence surface the manager needs.
type Querier interface {
	GetEntry(ctx context.Context, fileSetHash, promptHash, model string) (*Entry, error)
	PutEntry(ctx context.Context, e Entry) error
	Touch(ctx context.Context, id uuid.UUID) error
}

// Uploader is the remote surface the manager needs. *gemini.Client
// satisfies it.
type Uploader interface {
	Available() bool
	UploadFile(ctx context.Context, r io.Reader, displayName, mimeType string) (*gemini.RemoteFile, error)
	CreateContext(ctx context.Context, model, systemPrompt string, files []gemini.RemoteFile, ttl time.Duration) (*gemini.CachedContext, error)
}

// HandleRecorder persists refreshed per-file remote handles. *corpus.Store
// satisfies it.
type HandleRecorder interface {
	UpdateRemoteHandle(ctx context.Context, fileID uuid.UUID, handle string, expiresAt time.Time) error
}

// Manager resolves cached contexts, uploading files as needed.
type Manager struct {
	uploader Uploader
	entries  Querier
	files    HandleRecorder
	logger   log.Logger
	now      func() time.Time
}

// NewManager creates a Manager. The uploader may be nil when no API key is
// configured; Resolve then fails with ErrUnavailable and callers fall back
// to bounded-excerpt generation.
func NewManager(uploader Uploader, entries Querier, files HandleRecorder, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{
		uploader: uploader,
		entries:  entries,
		files:    files,
		logger:   logger,
		now:      time.Now,
	}
}

// Resolution reports the outcome of a Resolve call.
type Resolution struct {
	// RemoteName is the cached context handle to attach to generation.
	RemoteName string
	// Reused is true when an existing unexpired entry served the request
	// without uploads or cache creation.
	Reused bool
	// UploadedFiles counts files freshly uploaded for this resolution.
	UploadedFiles int
}

// ResolveParams describes one cached-context request.
type ResolveParams struct {
	Files        []corpus.FileRecord
	Model        string
	SystemPrompt string
	ContextTTL   time.Duration
	FileTTL      time.Duration
}

// Resolve returns a usable cached context for the given file set, reusing an
// unexpired entry when one exists and otherwise uploading missing files and
// creating a fresh context.
func (m *Manager) Resolve(ctx context.Context, p ResolveParams) (*Resolution, error) {
	if m.uploader == nil || !m.uploader.Available() {
		return nil, ErrUnavailable
	}
	if len(p.Files) == 0 {
		return nil, errors.New("contextcache: no files to cache")
	}

	fileSetHash := FileSetHash(p.Files)
	promptHash := hashText(p.SystemPrompt)

	entry, err := m.entries.GetEntry(ctx, fileSetHash, promptHash, p.Model)
	if err != nil {
		m.logger.Warn("cache entry lookup failed", "error", err)
	}
	if entry != nil && entry.Valid(m.now()) {
		if err := m.entries.Touch(ctx, entry.ID); err != nil {
			m.logger.Warn("cache entry touch failed", "entry_id", entry.ID, "error", err)
		}
		return &Resolution{RemoteName: entry.RemoteName, Reused: true}, nil
	}

	remoteFiles, uploaded, err := m.ensureUploads(ctx, p.Files, p.FileTTL)
	if err != nil {
		return nil, err
	}

	cc, err := m.uploader.CreateContext(ctx, p.Model, p.SystemPrompt, remoteFiles, p.ContextTTL)
	if err != nil {
		return nil, fmt.Errorf("contextcache: %w", err)
	}

	put := Entry{
		ID:          uuid.New(),
		FileSetHash: fileSetHash,
		PromptHash:  promptHash,
		Model:       p.Model,
		RemoteName:  cc.Name,
		ExpiresAt:   cc.ExpiresAt,
	}
	if err := m.entries.PutEntry(ctx, put); err != nil {
		m.logger.Warn("cache entry persistence failed", "error", err)
	}

	return &Resolution{RemoteName: cc.Name, UploadedFiles: uploaded}, nil
}

// ensureUploads returns a remote file reference for every record, uploading
// only the files whose cached handle is missing or expired. Uploads run
// concurrently; results keep the input ordering.
func (m *Manager) ensureUploads(ctx context.Context, files []corpus.FileRecord, fileTTL time.Duration) ([]gemini.RemoteFile, int, error) {
	now := m.now()
	remote := make([]gemini.RemoteFile, len(files))

	var mu sync.Mutex
	uploaded := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentUploads)
	for i := range files {
		f := files[i]
		if f.RemoteHandleValid(now) {
			remote[i] = gemini.RemoteFile{Name: f.RemoteHandle, URI: f.RemoteHandle, MIMEType: f.MimeType}
			continue
		}
		idx := i
		g.Go(func() error {
			rf, err := m.uploadOne(gctx, f, fileTTL)
			if err != nil {
				return err
			}
			remote[idx] = *rf
			mu.Lock()
			uploaded++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return remote, uploaded, nil
}

func (m *Manager) uploadOne(ctx context.Context, f corpus.FileRecord, fileTTL time.Duration) (*gemini.RemoteFile, error) {
	r, err := os.Open(f.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("contextcache: opening %s: %w", f.Filename, err)
	}
	defer r.Close()

	rf, err := m.uploader.UploadFile(ctx, r, f.Filename, f.MimeType)
	if err != nil {
		return nil, fmt.Errorf("contextcache: %w", err)
	}

	expires := rf.ExpiresAt
	if expires.IsZero() {
		expires = m.now().Add(fileTTL)
	}
	if err := m.files.UpdateRemoteHandle(ctx, f.ID, rf.URI, expires); err != nil {
		m.logger.Warn("remote handle persistence failed", "file_id", f.ID, "error", err)
	}
	return rf, nil
}

// FileSetHash derives the order-independent identity of a file set.
func FileSetHash(files []corpus.FileRecord) string {
	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.ID.String())
	}
	slices.Sort(ids)
	return hashText(strings.Join(ids, "\n"))
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
