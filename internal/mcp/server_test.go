package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pgvector/pgvector-go"

	"github.com/libris/librarian/internal/corpus"
	"github.com/libris/librarian/internal/librarian"
	"github.com/libris/librarian/internal/log"
)

type stubAsker struct {
	events  []librarian.Event
	err     error
	lastReq librarian.Request
}

func (s *stubAsker) Ask(_ context.Context, req librarian.Request) (<-chan librarian.Event, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan librarian.Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(context.Context, string) (pgvector.Vector, error) {
	if s.err != nil {
		return pgvector.Vector{}, s.err
	}
	return pgvector.NewVector([]float32{0.1, 0.2}), nil
}

type stubRetriever struct {
	result *corpus.Result
	err    error
	last   corpus.RetrieveParams
}

func (s *stubRetriever) Retrieve(_ context.Context, p corpus.RetrieveParams) (*corpus.Result, error) {
	s.last = p
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestServer(t *testing.T, asker Asker, embedder Embedder, retriever Retriever) *Server {
	t.Helper()
	s, err := NewServer(Config{Name: "librarian", Version: "test"}, asker, embedder, retriever, log.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func TestNewServerValidation(t *testing.T) {
	asker := &stubAsker{}
	tests := []struct {
		name  string
		cfg   Config
		asker Asker
	}{
		{name: "missing name", cfg: Config{Version: "1"}, asker: asker},
		{name: "missing version", cfg: Config{Name: "librarian"}, asker: asker},
		{name: "missing asker", cfg: Config{Name: "librarian", Version: "1"}, asker: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewServer(tt.cfg, tt.asker, nil, nil, log.NewNop()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestAskAccumulatesAnswerAndSources(t *testing.T) {
	asker := &stubAsker{events: []librarian.Event{
		{Kind: librarian.KindStep, Step: librarian.StepSearchingCorpus},
		{Kind: librarian.KindToken, Token: "Chapter two "},
		{Kind: librarian.KindToken, Token: "covers payroll."},
		{Kind: librarian.KindSources, Sources: &librarian.SourcesPayload{
			Sources: []librarian.Source{{Filename: "handbook.md", SourceType: "document"}},
			Metrics: librarian.Metrics{GenerationMode: "chunks"},
		}},
		{Kind: librarian.KindDone},
	}}
	s := newTestServer(t, asker, nil, nil)

	res, structured, err := s.Ask(context.Background(), nil, AskInput{
		Query:  "what does chapter two cover?",
		UserID: "u-1",
		AppID:  "app-1",
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %v", res.Content)
	}

	got, ok := structured.(askResult)
	if !ok {
		t.Fatalf("structured output type %T", structured)
	}
	if got.Answer != "Chapter two covers payroll." {
		t.Errorf("answer = %q", got.Answer)
	}
	if got.Mode != "chunks" {
		t.Errorf("mode = %q, want chunks", got.Mode)
	}
	if len(got.Sources) != 1 || got.Sources[0].Filename != "handbook.md" {
		t.Errorf("sources = %+v", got.Sources)
	}

	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T", res.Content[0])
	}
	var decoded askResult
	if err := json.Unmarshal([]byte(text.Text), &decoded); err != nil {
		t.Fatalf("content is not JSON: %v", err)
	}
	if decoded.Answer != got.Answer {
		t.Errorf("text answer = %q", decoded.Answer)
	}
}

func TestAskDefaultsLayerScope(t *testing.T) {
	asker := &stubAsker{events: []librarian.Event{{Kind: librarian.KindDone}}}
	s := newTestServer(t, asker, nil, nil)

	if _, _, err := s.Ask(context.Background(), nil, AskInput{Query: "q", UserID: "u-1"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !asker.lastReq.IncludeUserLayer || !asker.lastReq.IncludeAppLayer {
		t.Errorf("default scope = %+v, want user and app layers", asker.lastReq)
	}

	if _, _, err := s.Ask(context.Background(), nil, AskInput{Query: "q", UserID: "u-1", IncludeProjectLayer: true}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if asker.lastReq.IncludeUserLayer || !asker.lastReq.IncludeProjectLayer {
		t.Errorf("explicit scope = %+v, want project layer only", asker.lastReq)
	}
}

func TestAskValidationFailureIsToolError(t *testing.T) {
	asker := &stubAsker{err: librarian.ErrMissingQuery}
	s := newTestServer(t, asker, nil, nil)

	res, _, err := s.Ask(context.Background(), nil, AskInput{UserID: "u-1"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected error result")
	}
}

func TestAskStreamErrorIsToolError(t *testing.T) {
	asker := &stubAsker{events: []librarian.Event{
		{Kind: librarian.KindToken, Token: "partial"},
		{Kind: librarian.KindError, Error: "could not generate an answer"},
	}}
	s := newTestServer(t, asker, nil, nil)

	res, structured, err := s.Ask(context.Background(), nil, AskInput{Query: "q", UserID: "u-1"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if structured != nil {
		t.Errorf("structured = %v, want nil", structured)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if !strings.Contains(text, "could not generate") {
		t.Errorf("error text = %q", text)
	}
}

func TestSearchReturnsFilesAndFragments(t *testing.T) {
	fileID := uuid.New()
	fragID := uuid.New()
	retriever := &stubRetriever{result: &corpus.Result{
		Files: []corpus.SourceFile{{
			ID: fileID, Filename: "handbook.md", Layer: corpus.LayerApp,
			PageCount: 12, FragmentCount: 3, Score: 2.4,
		}},
		Fragments: []corpus.Fragment{{
			ID: fragID, FileID: fileID, Filename: "handbook.md",
			SourceType: "document", SectionTitle: "Payroll",
			PageStart: 4, PageEnd: 5, Similarity: 0.82,
			Content: strings.Repeat("x", searchFragmentPreview+50),
		}},
		TotalPages: 12,
	}}
	s := newTestServer(t, &stubAsker{}, &stubEmbedder{}, retriever)

	_, structured, err := s.Search(context.Background(), nil, SearchInput{
		Query: "payroll", UserID: "u-1", AppID: "app-1", MatchCount: 5,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	got := structured.(searchResult)
	if len(got.Files) != 1 || got.Files[0].FileID != fileID.String() {
		t.Fatalf("files = %+v", got.Files)
	}
	if got.Files[0].Score != 2.4 {
		t.Errorf("score = %v", got.Files[0].Score)
	}
	if len(got.Fragments) != 1 {
		t.Fatalf("fragments = %+v", got.Fragments)
	}
	if len(got.Fragments[0].Content) != searchFragmentPreview {
		t.Errorf("content length = %d, want %d", len(got.Fragments[0].Content), searchFragmentPreview)
	}
	if retriever.last.MatchCount != 5 {
		t.Errorf("match count = %d", retriever.last.MatchCount)
	}
	if len(retriever.last.Levels) != 2 {
		t.Errorf("levels = %v", retriever.last.Levels)
	}
}

func TestSearchDefaultsScope(t *testing.T) {
	retriever := &stubRetriever{result: &corpus.Result{}}
	s := newTestServer(t, &stubAsker{}, &stubEmbedder{}, retriever)

	if _, _, err := s.Search(context.Background(), nil, SearchInput{Query: "q", UserID: "u-1"}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !retriever.last.Scope.IncludeApp || !retriever.last.Scope.IncludeUser {
		t.Errorf("scope = %+v, want app and user layers", retriever.last.Scope)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	s := newTestServer(t, &stubAsker{}, &stubEmbedder{}, &stubRetriever{result: &corpus.Result{}})

	res, _, err := s.Search(context.Background(), nil, SearchInput{UserID: "u-1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected error result")
	}
}

func TestSearchEmbedFailure(t *testing.T) {
	embedErr := errors.New("embedder offline")
	s := newTestServer(t, &stubAsker{}, &stubEmbedder{err: embedErr}, &stubRetriever{result: &corpus.Result{}})

	if _, _, err := s.Search(context.Background(), nil, SearchInput{Query: "q", UserID: "u-1"}); !errors.Is(err, embedErr) {
		t.Fatalf("err = %v, want wrapped embed error", err)
	}
}
