package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/libris/librarian/internal/librarian"
)

type stubAsker struct {
	events []librarian.Event
	err    error
	last   librarian.Request
}

func (s *stubAsker) Ask(_ context.Context, req librarian.Request) (<-chan librarian.Event, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan librarian.Event, len(s.events))
	for _, e := range s.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, asker Asker) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{Librarian: asker, RateBurst: 1000})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func TestNewServerRequiresLibrarian(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Fatal("expected error for missing librarian")
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubAsker{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestReadyWithoutPool(t *testing.T) {
	srv := newTestServer(t, &stubAsker{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestQueryStreamsSSE(t *testing.T) {
	asker := &stubAsker{events: []librarian.Event{
		{Kind: librarian.KindStep, Step: librarian.StepSearchingCorpus},
		{Kind: librarian.KindToken, Token: "hello "},
		{Kind: librarian.KindToken, Token: "world"},
		{Kind: librarian.KindSources, Sources: &librarian.SourcesPayload{
			Sources: []librarian.Source{},
			Metrics: librarian.Metrics{GenerationMode: "chunks"},
		}},
		{Kind: librarian.KindDone},
	}}
	srv := newTestServer(t, asker)

	body := `{"query":"what is x","user_id":"u1","app_id":"a1","include_app_layer":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	got := rec.Body.String()
	for _, want := range []string{
		"event: step\ndata: {\"step\":\"searching_corpus\"}\n\n",
		"event: token\ndata: {\"token\":\"hello \"}\n\n",
		"event: sources\n",
		"event: done\ndata: {}\n\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("stream missing %q:\n%s", want, got)
		}
	}

	if asker.last.Query != "what is x" || asker.last.UserID != "u1" {
		t.Errorf("decoded request = %+v", asker.last)
	}
}

func TestQueryValidationError(t *testing.T) {
	srv := newTestServer(t, &stubAsker{err: librarian.ErrMissingQuery})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query",
		strings.NewReader(`{"user_id":"u1"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "query is required") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestQueryMalformedBody(t *testing.T) {
	srv := newTestServer(t, &stubAsker{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestQueryErrorEventInStream(t *testing.T) {
	asker := &stubAsker{events: []librarian.Event{
		{Kind: librarian.KindStep, Step: librarian.StepResolvingSession},
		{Kind: librarian.KindError, Error: "could not search your documents"},
	}}
	srv := newTestServer(t, asker)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query",
		strings.NewReader(`{"query":"q","user_id":"u"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	// Stream already started; the failure arrives as an SSE error event.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "event: error\n") {
		t.Errorf("stream missing error event:\n%s", rec.Body.String())
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, &stubAsker{events: []librarian.Event{{Kind: librarian.KindDone}}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query",
		strings.NewReader(`{"query":"q","user_id":"u"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}
