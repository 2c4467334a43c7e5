// Package generate runs the answer-producing model calls. Two paths exist:
// full-document generation streams against a server-side cached context
// holding whole files, and bounded-excerpt generation streams over an
// assembled block of retrieved fragments. A failed full-document call falls
// back to the excerpt path exactly once.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/libris/librarian/internal/corpus"
	"github.com/libris/librarian/internal/gemini"
	"github.com/libris/librarian/internal/log"
)

// Timeout bounds one generation call, either path.
const Timeout = 120 * time.Second

// TokenFunc receives text increments as the model produces them.
type TokenFunc func(ctx context.Context, text string) error

// FullDocStreamer is the cached-context generation surface. *gemini.Client
// satisfies it.
type FullDocStreamer interface {
	Available() bool
	StreamCached(ctx context.Context, p gemini.StreamParams, onToken func(string) error) (string, error)
}

// ExcerptStreamer is the bounded-excerpt generation surface.
type ExcerptStreamer interface {
	Stream(ctx context.Context, p ExcerptParams, onToken func(string) error) (string, error)
}

// ExcerptParams configures one bounded-excerpt generation call.
type ExcerptParams struct {
	Model        string
	SystemPrompt string
	History      []Turn
	ContextBlock string
	Query        string
	Temperature  float64
	MaxTokens    int
}

// Turn is one prior conversation exchange passed to the model.
type Turn struct {
	Role    string
	Content string
}

// Params configures one Engine.Generate call.
type Params struct {
	Model        string
	SystemPrompt string
	Query        string
	History      []Turn
	Temperature  float64
	MaxTokens    int

	// FullDocument selects the cached-context path. CacheName must then
	// name a live cached context.
	FullDocument bool
	CacheName    string

	Fragments       []corpus.Fragment
	Transcripts     []corpus.Fragment
	MaxContextChars int
}

// Output is the result of a completed generation.
type Output struct {
	Text string
	// FellBack is true when the full-document path failed and the answer
	// came from the bounded-excerpt path.
	FellBack bool
}

// FallbackFunc is notified when full-document generation gives way to
// bounded excerpts, before the replacement call starts.
type FallbackFunc func(ctx context.Context, cause error)

// Engine dispatches generation calls across the two paths.
type Engine struct {
	fullDoc  FullDocStreamer
	excerpts ExcerptStreamer
	logger   log.Logger
}

// NewEngine creates an Engine. fullDoc may be nil when no large-context
// store is configured; full-document requests then fall back immediately.
func NewEngine(fullDoc FullDocStreamer, excerpts ExcerptStreamer, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{fullDoc: fullDoc, excerpts: excerpts, logger: logger}
}

// FullDocumentAvailable reports whether the cached-context path can run.
func (e *Engine) FullDocumentAvailable() bool {
	return e.fullDoc != nil && e.fullDoc.Available()
}

// Generate produces an answer, streaming tokens through onToken. A failing
// full-document call triggers at most one fallback to the excerpt path; the
// fallback discards any tokens already streamed, so callers should surface
// onFallback to the client before resuming token delivery.
func (e *Engine) Generate(ctx context.Context, p Params, onToken TokenFunc, onFallback FallbackFunc) (*Output, error) {
	callCtx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	if p.FullDocument {
		text, err := e.streamFullDoc(callCtx, p, onToken)
		if err == nil {
			return &Output{Text: text}, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		e.logger.Warn("full-document generation failed, falling back to excerpts",
			"model", p.Model, "error", err)
		if onFallback != nil {
			onFallback(ctx, err)
		}
		text, err = e.streamExcerpts(callCtx, p, onToken)
		if err != nil {
			return nil, err
		}
		return &Output{Text: text, FellBack: true}, nil
	}

	text, err := e.streamExcerpts(callCtx, p, onToken)
	if err != nil {
		return nil, err
	}
	return &Output{Text: text}, nil
}

func (e *Engine) streamFullDoc(ctx context.Context, p Params, onToken TokenFunc) (string, error) {
	if e.fullDoc == nil || !e.fullDoc.Available() {
		return "", errors.New("full-document generation unavailable")
	}
	if p.CacheName == "" {
		return "", errors.New("full-document generation requires a cached context")
	}

	return e.fullDoc.StreamCached(ctx, gemini.StreamParams{
		Model:       p.Model,
		CacheName:   p.CacheName,
		Query:       buildFullDocQuery(p),
		Transcript:  BuildTranscriptBlock(p.Transcripts, p.MaxContextChars),
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}, func(text string) error { return onToken(ctx, text) })
}

func (e *Engine) streamExcerpts(ctx context.Context, p Params, onToken TokenFunc) (string, error) {
	if e.excerpts == nil {
		return "", errors.New("excerpt generation unavailable")
	}

	fragments := p.Fragments
	if len(p.Transcripts) > 0 {
		fragments = append(append([]corpus.Fragment{}, fragments...), p.Transcripts...)
	}

	text, err := e.excerpts.Stream(ctx, ExcerptParams{
		Model:        p.Model,
		SystemPrompt: p.SystemPrompt,
		History:      p.History,
		ContextBlock: BuildContext(fragments, p.MaxContextChars),
		Query:        p.Query,
		Temperature:  p.Temperature,
		MaxTokens:    p.MaxTokens,
	}, func(t string) error { return onToken(ctx, t) })
	if err != nil {
		return "", fmt.Errorf("excerpt generation: %w", err)
	}
	return text, nil
}

// buildFullDocQuery prepends recent history to the user question so the
// cached context call keeps conversational continuity.
func buildFullDocQuery(p Params) string {
	if len(p.History) == 0 {
		return p.Query
	}
	var sb strings.Builder
	sb.WriteString("Recent conversation:\n")
	for _, t := range p.History {
		sb.WriteString(t.Role)
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(p.Query)
	return sb.String()
}
