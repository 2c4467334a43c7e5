package contextcache

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/libris/librarian/internal/corpus"
	"github.com/libris/librarian/internal/gemini"
)

type mockQuerier struct {
	mu      sync.Mutex
	entry   *Entry
	getErr  error
	put     []Entry
	touched []uuid.UUID
}

func (m *mockQuerier) GetEntry(_ context.Context, _, _, _ string) (*Entry, error) {
	return m.entry, m.getErr
}

func (m *mockQuerier) PutEntry(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put = append(m.put, e)
	return nil
}

func (m *mockQuerier) Touch(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, id)
	return nil
}

type mockUploader struct {
	mu        sync.Mutex
	uploads   []string
	uploadErr error
	createErr error
	contexts  int
}

func (m *mockUploader) Available() bool { return true }

func (m *mockUploader) UploadFile(_ context.Context, r io.Reader, displayName, mimeType string) (*gemini.RemoteFile, error) {
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.uploads = append(m.uploads, displayName)
	m.mu.Unlock()
	return &gemini.RemoteFile{
		Name:      "files/" + displayName,
		URI:       "https://store.example/" + displayName,
		MIMEType:  mimeType,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (m *mockUploader) CreateContext(_ context.Context, model, _ string, files []gemini.RemoteFile, ttl time.Duration) (*gemini.CachedContext, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.mu.Lock()
	m.contexts++
	m.mu.Unlock()
	return &gemini.CachedContext{
		Name:      "cachedContents/test-" + model,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

type mockRecorder struct {
	mu      sync.Mutex
	handles map[uuid.UUID]string
	err     error
}

func (m *mockRecorder) UpdateRemoteHandle(_ context.Context, fileID uuid.UUID, handle string, _ time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handles == nil {
		m.handles = make(map[uuid.UUID]string)
	}
	m.handles[fileID] = handle
	return nil
}

func writeTempFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("file body"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testFiles(t *testing.T, n int) []corpus.FileRecord {
	t.Helper()
	files := make([]corpus.FileRecord, n)
	for i := range files {
		name := string(rune('a'+i)) + ".pdf"
		files[i] = corpus.FileRecord{
			ID:          uuid.New(),
			Filename:    name,
			MimeType:    "application/pdf",
			StoragePath: writeTempFile(t, name),
		}
	}
	return files
}

func TestResolveReusesUnexpiredEntry(t *testing.T) {
	entry := &Entry{
		ID:         uuid.New(),
		RemoteName: "cachedContents/existing",
		ExpiresAt:  time.Now().Add(30 * time.Minute),
	}
	entries := &mockQuerier{entry: entry}
	up := &mockUploader{}
	m := NewManager(up, entries, &mockRecorder{}, nil)

	res, err := m.Resolve(context.Background(), ResolveParams{
		Files:      testFiles(t, 2),
		Model:      "gemini-2.5-flash",
		ContextTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Reused {
		t.Error("expected reuse of unexpired entry")
	}
	if res.RemoteName != entry.RemoteName {
		t.Errorf("RemoteName = %q, want %q", res.RemoteName, entry.RemoteName)
	}
	if len(up.uploads) != 0 || up.contexts != 0 {
		t.Errorf("remote calls on reuse: uploads=%d contexts=%d", len(up.uploads), up.contexts)
	}
	if len(entries.touched) != 1 || entries.touched[0] != entry.ID {
		t.Errorf("touched = %v, want [%s]", entries.touched, entry.ID)
	}
}

func TestResolveExpiredEntryCreatesFresh(t *testing.T) {
	entries := &mockQuerier{entry: &Entry{
		ID:         uuid.New(),
		RemoteName: "cachedContents/stale",
		ExpiresAt:  time.Now().Add(-time.Minute),
	}}
	up := &mockUploader{}
	m := NewManager(up, entries, &mockRecorder{}, nil)

	res, err := m.Resolve(context.Background(), ResolveParams{
		Files:      testFiles(t, 2),
		Model:      "gemini-2.5-flash",
		ContextTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Reused {
		t.Error("expired entry must not be reused")
	}
	if res.UploadedFiles != 2 {
		t.Errorf("UploadedFiles = %d, want 2", res.UploadedFiles)
	}
	if up.contexts != 1 {
		t.Errorf("contexts created = %d, want 1", up.contexts)
	}
	if len(entries.put) != 1 {
		t.Fatalf("entries persisted = %d, want 1", len(entries.put))
	}
	if entries.put[0].RemoteName != res.RemoteName {
		t.Errorf("persisted remote name %q != resolution %q", entries.put[0].RemoteName, res.RemoteName)
	}
}

func TestResolveSkipsUploadForValidHandles(t *testing.T) {
	files := testFiles(t, 3)
	files[1].RemoteHandle = "https://store.example/kept"
	files[1].RemoteHandleExpiresAt = time.Now().Add(time.Hour)

	rec := &mockRecorder{}
	up := &mockUploader{}
	m := NewManager(up, &mockQuerier{}, rec, nil)

	res, err := m.Resolve(context.Background(), ResolveParams{
		Files: files, Model: "gemini-2.5-flash", ContextTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.UploadedFiles != 2 {
		t.Errorf("UploadedFiles = %d, want 2", res.UploadedFiles)
	}
	if _, ok := rec.handles[files[1].ID]; ok {
		t.Error("valid handle must not be rewritten")
	}
	if len(rec.handles) != 2 {
		t.Errorf("handles recorded = %d, want 2", len(rec.handles))
	}
}

func TestResolveUploadFailureAborts(t *testing.T) {
	wantErr := errors.New("quota exceeded")
	up := &mockUploader{uploadErr: wantErr}
	m := NewManager(up, &mockQuerier{}, &mockRecorder{}, nil)

	_, err := m.Resolve(context.Background(), ResolveParams{
		Files: testFiles(t, 2), Model: "gemini-2.5-flash", ContextTTL: time.Hour,
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if up.contexts != 0 {
		t.Error("no context may be created after a failed upload")
	}
}

func TestResolveUnavailable(t *testing.T) {
	m := NewManager(nil, &mockQuerier{}, &mockRecorder{}, nil)
	_, err := m.Resolve(context.Background(), ResolveParams{Files: testFiles(t, 1)})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

// keyedQuerier stores entries under the full (file set, prompt, model) key,
// unlike mockQuerier which always returns the same entry.
type keyedQuerier struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func (k *keyedQuerier) GetEntry(_ context.Context, fileSetHash, promptHash, model string) (*Entry, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.entries[fileSetHash+"|"+promptHash+"|"+model], nil
}

func (k *keyedQuerier) PutEntry(_ context.Context, e Entry) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.entries == nil {
		k.entries = make(map[string]*Entry)
	}
	k.entries[e.FileSetHash+"|"+e.PromptHash+"|"+e.Model] = &e
	return nil
}

func (k *keyedQuerier) Touch(_ context.Context, _ uuid.UUID) error { return nil }

func TestResolveModelChangeCreatesNewEntry(t *testing.T) {
	files := testFiles(t, 2)
	entries := &keyedQuerier{}
	up := &mockUploader{}
	m := NewManager(up, entries, &mockRecorder{}, nil)

	first, err := m.Resolve(context.Background(), ResolveParams{
		Files: files, Model: "gemini-2.5-flash", ContextTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if first.Reused {
		t.Fatal("first resolution cannot reuse")
	}

	second, err := m.Resolve(context.Background(), ResolveParams{
		Files: files, Model: "gemini-2.5-flash", ContextTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if !second.Reused {
		t.Error("same model and file set must reuse the entry")
	}

	third, err := m.Resolve(context.Background(), ResolveParams{
		Files: files, Model: "gemini-2.5-pro", ContextTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("third Resolve: %v", err)
	}
	if third.Reused {
		t.Error("a different model must produce a fresh entry")
	}
	if len(entries.entries) != 2 {
		t.Errorf("stored entries = %d, want 2", len(entries.entries))
	}
}

func TestResolveLookupFailureNonFatal(t *testing.T) {
	entries := &mockQuerier{getErr: errors.New("db down")}
	up := &mockUploader{}
	m := NewManager(up, entries, &mockRecorder{}, nil)

	res, err := m.Resolve(context.Background(), ResolveParams{
		Files: testFiles(t, 1), Model: "gemini-2.5-flash", ContextTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("lookup failure must not fail resolution: %v", err)
	}
	if res.Reused {
		t.Error("failed lookup cannot report reuse")
	}
}

func TestFileSetHashOrderIndependent(t *testing.T) {
	a := corpus.FileRecord{ID: uuid.New()}
	b := corpus.FileRecord{ID: uuid.New()}

	h1 := FileSetHash([]corpus.FileRecord{a, b})
	h2 := FileSetHash([]corpus.FileRecord{b, a})
	if h1 != h2 {
		t.Error("hash must not depend on file ordering")
	}

	h3 := FileSetHash([]corpus.FileRecord{a})
	if h3 == h1 {
		t.Error("different file sets must hash differently")
	}
}
