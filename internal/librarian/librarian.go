// Package librarian orchestrates the answer pipeline: embed the query, try
// the semantic answer memory, retrieve scored fragments from the layered
// corpus, decide the generation mode, stream the answer and attach
// citations. Consumers receive the whole run as an event stream.
package librarian

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/libris/librarian/internal/contextcache"
	"github.com/libris/librarian/internal/conversation"
	"github.com/libris/librarian/internal/corpus"
	"github.com/libris/librarian/internal/generate"
	"github.com/libris/librarian/internal/log"
	"github.com/libris/librarian/internal/memory"
	"github.com/libris/librarian/internal/settings"
)

// Greeting is the fixed reply for conversational intents.
const Greeting = "Hello! I'm your librarian. Ask me anything about your documents " +
	"and I'll answer with cited sources."

// eventBuffer bounds the stream channel so a slow consumer applies
// backpressure to generation instead of growing memory.
const eventBuffer = 64

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// SettingsResolver yields the effective tunables for one request.
type SettingsResolver interface {
	Resolve(ctx context.Context, appID, orgID string) settings.Config
}

// SessionStore resolves conversations and appends turns.
type SessionStore interface {
	Resolve(ctx context.Context, id conversation.Identity) (*conversation.Context, error)
	AppendTurn(ctx context.Context, conversationID uuid.UUID, m conversation.Message) error
}

// MemoryMatcher finds a usable prior answer for the query embedding.
type MemoryMatcher interface {
	Match(ctx context.Context, p memory.MatchParams) (*memory.Entry, error)
}

// Retriever performs the hierarchical corpus search.
type Retriever interface {
	Retrieve(ctx context.Context, p corpus.RetrieveParams) (*corpus.Result, error)
}

// FileLoader fetches file records for the retained source files.
type FileLoader interface {
	GetFiles(ctx context.Context, ids []uuid.UUID) ([]corpus.FileRecord, error)
}

// CacheManager resolves cached full-document contexts.
type CacheManager interface {
	Resolve(ctx context.Context, p contextcache.ResolveParams) (*contextcache.Resolution, error)
}

// Generator runs the dual-path generation engine.
type Generator interface {
	FullDocumentAvailable() bool
	Generate(ctx context.Context, p generate.Params, onToken generate.TokenFunc, onFallback generate.FallbackFunc) (*generate.Output, error)
}

// Librarian wires the pipeline's collaborators.
type Librarian struct {
	embedder  Embedder
	settings  SettingsResolver
	sessions  SessionStore
	memory    MemoryMatcher
	retriever Retriever
	files     FileLoader
	cache     CacheManager
	generator Generator
	logger    log.Logger
}

// Deps collects the pipeline's collaborators.
type Deps struct {
	Embedder  Embedder
	Settings  SettingsResolver
	Sessions  SessionStore
	Memory    MemoryMatcher
	Retriever Retriever
	Files     FileLoader
	Cache     CacheManager
	Generator Generator
	Logger    log.Logger
}

// New creates a Librarian.
func New(d Deps) *Librarian {
	logger := d.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Librarian{
		embedder:  d.Embedder,
		settings:  d.Settings,
		sessions:  d.Sessions,
		memory:    d.Memory,
		retriever: d.Retriever,
		files:     d.Files,
		cache:     d.Cache,
		generator: d.Generator,
		logger:    logger,
	}
}

// Ask validates the request and runs the pipeline, returning its event
// stream. The channel is closed after the terminal error or done event.
// Cancelling ctx aborts the run.
func (l *Librarian) Ask(ctx context.Context, req Request) (<-chan Event, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	events := make(chan Event, eventBuffer)
	go func() {
		defer close(events)
		l.run(ctx, req, events)
	}()
	return events, nil
}

// emit delivers one event, honoring consumer disconnect.
func emit(ctx context.Context, events chan<- Event, e Event) bool {
	select {
	case events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Librarian) run(ctx context.Context, req Request, events chan<- Event) {
	start := time.Now()
	cfg := l.settings.Resolve(ctx, req.AppID, req.OrganizationID)
	strategy := ResolveStrategy(req.Intent)

	if !emit(ctx, events, stepEvent(StepResolvingSession)) {
		return
	}
	session, err := l.loadSession(ctx, req)
	if err != nil {
		emit(ctx, events, errorEvent("could not resolve your session"))
		return
	}

	l.persistUserTurn(ctx, session, req)

	if strategy.SkipRetrieval {
		l.runConversational(ctx, req, session, events, start, cfg)
		return
	}

	embedding, err := l.embedder.Embed(ctx, req.EffectiveQuery())
	if err != nil {
		l.logger.Error("query embedding failed", "error", err)
		emit(ctx, events, errorEvent("could not process your question"))
		return
	}

	if !emit(ctx, events, stepEvent(StepCheckingMemory)) {
		return
	}
	if l.replayMemory(ctx, req, session, embedding, cfg, events, start) {
		return
	}

	if !emit(ctx, events, stepEvent(StepSearchingCorpus)) {
		return
	}
	result, err := l.retrieve(ctx, req, strategy, embedding, cfg)
	if err != nil {
		l.logger.Error("retrieval failed", "error", err)
		emit(ctx, events, errorEvent("could not search your documents"))
		return
	}

	mode := l.decideMode(strategy, req.GenerationMode, result, cfg)
	model, temperature, maxTokens := cfg.GenerationFor(strategy.Intent)
	systemPrompt := l.systemPrompt(cfg, req)

	cacheName, cacheReused := "", false
	if mode == settings.ModeFullDocument {
		if !emit(ctx, events, stepEvent(StepPreparingContext)) {
			return
		}
		cacheName, cacheReused = l.prepareCache(ctx, result, model, systemPrompt, cfg)
		if cacheName == "" {
			mode = settings.ModeChunks
		}
	}

	if !emit(ctx, events, stepEvent(StepGenerating)) {
		return
	}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out, err := l.generator.Generate(genCtx, generate.Params{
		Model:           model,
		SystemPrompt:    systemPrompt,
		Query:           req.Query,
		History:         historyTurns(session),
		Temperature:     temperature,
		MaxTokens:       maxTokens,
		FullDocument:    mode == settings.ModeFullDocument,
		CacheName:       cacheName,
		Fragments:       result.Fragments,
		Transcripts:     result.Transcripts,
		MaxContextChars: cfg.MaxContextChars,
	}, func(tctx context.Context, text string) error {
		if !emit(tctx, events, tokenEvent(text)) {
			cancel()
			return tctx.Err()
		}
		return nil
	}, func(fctx context.Context, cause error) {
		emit(fctx, events, stepEvent(StepFallingBack))
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.logger.Error("generation failed", "mode", mode, "error", err)
		emit(ctx, events, errorEvent("could not generate an answer"))
		return
	}
	if out.FellBack {
		mode = settings.ModeChunks
		cacheReused = false
	}

	var sources []Source
	if mode == settings.ModeFullDocument {
		sources = fullDocSources(result.Files, out.Text, cfg.NarrowFullDocSources)
	} else {
		sources = chunkSources(result.Fragments, result.Transcripts)
	}

	l.persistAssistantTurn(ctx, session, out.Text, mode, sources)

	emit(ctx, events, sourcesEvent(sources, Metrics{
		GenerationMode: mode,
		ElapsedMS:      time.Since(start).Milliseconds(),
		FileCount:      len(result.Files),
		FragmentCount:  len(result.Fragments) + len(result.Transcripts),
		CacheReused:    cacheReused,
		Model:          model,
		Temperature:    temperature,
	}))
	emit(ctx, events, doneEvent())
}

// runConversational answers a conversational intent with the fixed greeting.
// No embedding, memory or retrieval call happens.
func (l *Librarian) runConversational(ctx context.Context, req Request, session *conversation.Context, events chan<- Event, start time.Time, cfg settings.Config) {
	if !emit(ctx, events, stepEvent(StepGenerating)) {
		return
	}
	if !streamWords(ctx, events, Greeting) {
		return
	}

	l.persistAssistantTurn(ctx, session, Greeting, settings.ModeConversational, nil)

	model, temperature, _ := cfg.GenerationFor(IntentConversational)
	emit(ctx, events, sourcesEvent(nil, Metrics{
		GenerationMode: settings.ModeConversational,
		ElapsedMS:      time.Since(start).Milliseconds(),
		Model:          model,
		Temperature:    temperature,
	}))
	emit(ctx, events, doneEvent())
}

// replayMemory short-circuits the pipeline with a stored answer when a
// trusted memory entry matches. Reports whether it handled the request.
func (l *Librarian) replayMemory(ctx context.Context, req Request, session *conversation.Context, embedding pgvector.Vector, cfg settings.Config, events chan<- Event, start time.Time) bool {
	entry, err := l.memory.Match(ctx, memory.MatchParams{
		Embedding:      embedding,
		OrganizationID: req.OrganizationID,
		ProjectID:      req.ProjectID,
		Threshold:      cfg.MemorySimilarityThreshold,
		MinTrustScore:  cfg.MemoryMinTrustScore,
	})
	if err != nil {
		// A memory failure must not cost the user their answer.
		l.logger.Warn("memory lookup failed", "error", err)
		return false
	}
	if entry == nil {
		return false
	}

	if !emit(ctx, events, stepEvent(StepGenerating)) {
		return true
	}
	if !streamWords(ctx, events, entry.Answer) {
		return true
	}

	l.persistAssistantTurn(ctx, session, entry.Answer, settings.ModeMemory, nil)

	emit(ctx, events, sourcesEvent(nil, Metrics{
		GenerationMode: settings.ModeMemory,
		ElapsedMS:      time.Since(start).Milliseconds(),
	}))
	emit(ctx, events, doneEvent())
	return true
}

func (l *Librarian) loadSession(ctx context.Context, req Request) (*conversation.Context, error) {
	if req.PreloadedContext != nil {
		return req.PreloadedContext, nil
	}
	return l.sessions.Resolve(ctx, req.Identity())
}

func (l *Librarian) retrieve(ctx context.Context, req Request, strategy Strategy, embedding pgvector.Vector, cfg settings.Config) (*corpus.Result, error) {
	matchCount := cfg.MatchCount
	threshold := cfg.SimilarityThreshold
	if req.SearchConfig != nil {
		if req.SearchConfig.MatchCount > 0 {
			matchCount = req.SearchConfig.MatchCount
		}
		if req.SearchConfig.SimilarityThreshold > 0 {
			threshold = req.SearchConfig.SimilarityThreshold
		}
	}

	return l.retriever.Retrieve(ctx, corpus.RetrieveParams{
		Embedding:       embedding,
		QueryText:       req.EffectiveQuery(),
		Scope:           req.Scope(),
		Levels:          strategy.Levels,
		IncludeChildren: strategy.IncludeChildren,
		FileAllowlist:   req.allowlist(),
		SourceTypes:     req.FilterSourceTypes,
		MatchCount:      matchCount,
		Threshold:       threshold,
		MaxFiles:        cfg.MaxFiles(strategy.Intent),
		BoostKeywords:   req.KeyConcepts,
		BoostFactor:     cfg.BoostFactor,
		GlobalBoost:     1.0,
	})
}

// decideMode runs the generation mode state machine, exactly once per
// request. Strategy-forced modes win, then an explicit request mode, then
// the auto rule: full-document only when files were retained, the page
// budget fits the ceiling, and the full-document service is up.
func (l *Librarian) decideMode(strategy Strategy, requested string, result *corpus.Result, cfg settings.Config) string {
	if strategy.ForcedMode != "" {
		return strategy.ForcedMode
	}
	if requested == settings.ModeChunks || requested == settings.ModeFullDocument {
		return requested
	}
	if len(result.Files) == 0 {
		return settings.ModeChunks
	}
	if result.TotalPages <= cfg.PageCeiling && l.generator.FullDocumentAvailable() {
		return settings.ModeFullDocument
	}
	return settings.ModeChunks
}

// prepareCache resolves the cached full-document context. Any failure
// degrades to chunks mode rather than failing the request.
func (l *Librarian) prepareCache(ctx context.Context, result *corpus.Result, model, systemPrompt string, cfg settings.Config) (name string, reused bool) {
	ids := make([]uuid.UUID, 0, len(result.Files))
	for _, f := range result.Files {
		ids = append(ids, f.ID)
	}
	records, err := l.files.GetFiles(ctx, ids)
	if err != nil || len(records) == 0 {
		l.logger.Warn("loading file records for cache failed", "error", err)
		return "", false
	}

	res, err := l.cache.Resolve(ctx, contextcache.ResolveParams{
		Files:        records,
		Model:        model,
		SystemPrompt: systemPrompt,
		ContextTTL:   cfg.ContextCacheTTL(),
		FileTTL:      cfg.FileCacheTTL(),
	})
	if err != nil {
		l.logger.Warn("cached context resolution failed", "error", err)
		return "", false
	}
	return res.RemoteName, res.Reused
}

func (l *Librarian) systemPrompt(cfg settings.Config, req Request) string {
	prompt := cfg.SystemPromptTemplate
	if prompt == "" {
		prompt = settings.DefaultSystemPrompt
	}
	if req.AnswerFormat != "" {
		prompt += "\n\nAnswer format: " + req.AnswerFormat
	}
	return prompt
}

func (l *Librarian) persistUserTurn(ctx context.Context, session *conversation.Context, req Request) {
	err := l.sessions.AppendTurn(ctx, session.ConversationID, conversation.Message{
		Role:    conversation.RoleUser,
		Content: req.Query,
	})
	if err != nil {
		l.logger.Warn("persisting user turn failed",
			"conversation_id", session.ConversationID, "error", err)
	}
}

func (l *Librarian) persistAssistantTurn(ctx context.Context, session *conversation.Context, content, mode string, sources []Source) {
	err := l.sessions.AppendTurn(ctx, session.ConversationID, conversation.Message{
		Role:           conversation.RoleAssistant,
		Content:        content,
		GenerationMode: mode,
		Sources:        sourceRefs(sources),
	})
	if err != nil {
		l.logger.Warn("persisting assistant turn failed",
			"conversation_id", session.ConversationID, "error", err)
	}
}

// historyTurns converts recent session messages into generation turns.
func historyTurns(session *conversation.Context) []generate.Turn {
	turns := make([]generate.Turn, 0, len(session.RecentTurns))
	for _, m := range session.RecentTurns {
		turns = append(turns, generate.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

// streamWords emits a stored answer word by word, preserving spacing.
func streamWords(ctx context.Context, events chan<- Event, text string) bool {
	rest := text
	for rest != "" {
		word := rest
		if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
			word, rest = rest[:i+1], rest[i+1:]
		} else {
			rest = ""
		}
		if !emit(ctx, events, tokenEvent(word)) {
			return false
		}
	}
	return true
}
