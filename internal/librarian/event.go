package librarian

// EventKind discriminates pipeline stream events.
type EventKind string

// Event kinds, in rough emission order. Exactly one of KindError or
// KindDone terminates a stream.
const (
	KindStep    EventKind = "step"
	KindToken   EventKind = "token"
	KindSources EventKind = "sources"
	KindError   EventKind = "error"
	KindDone    EventKind = "done"
)

// Progress step labels surfaced to clients.
const (
	StepResolvingSession = "resolving_session"
	StepCheckingMemory   = "checking_memory"
	StepSearchingCorpus  = "searching_corpus"
	StepPreparingContext = "preparing_context"
	StepGenerating       = "generating"
	StepFallingBack      = "falling_back"
)

// Event is one element of the answer stream. Exactly one payload field is
// set, selected by Kind.
type Event struct {
	Kind    EventKind       `json:"kind"`
	Step    string          `json:"step,omitempty"`
	Token   string          `json:"token,omitempty"`
	Sources *SourcesPayload `json:"sources,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SourcesPayload carries the final citation list and per-request metrics.
type SourcesPayload struct {
	Sources []Source `json:"sources"`
	Metrics Metrics  `json:"metrics"`
}

// Metrics summarizes how the answer was produced.
type Metrics struct {
	GenerationMode string  `json:"generation_mode"`
	ElapsedMS      int64   `json:"elapsed_ms"`
	FileCount      int     `json:"file_count"`
	FragmentCount  int     `json:"fragment_count"`
	CacheReused    bool    `json:"cache_reused"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
}

// Source is one user-visible citation.
type Source struct {
	FileID       string  `json:"file_id,omitempty"`
	FragmentID   string  `json:"fragment_id,omitempty"`
	Filename     string  `json:"filename"`
	SourceType   string  `json:"source_type"`
	Layer        string  `json:"layer,omitempty"`
	Score        float64 `json:"score,omitempty"`
	SectionTitle string  `json:"section_title,omitempty"`
	Level        int     `json:"level,omitempty"`
	PageStart    int     `json:"page_start,omitempty"`
	PageEnd      int     `json:"page_end,omitempty"`
}

func stepEvent(label string) Event { return Event{Kind: KindStep, Step: label} }
func tokenEvent(text string) Event { return Event{Kind: KindToken, Token: text} }
func errorEvent(msg string) Event  { return Event{Kind: KindError, Error: msg} }
func doneEvent() Event             { return Event{Kind: KindDone} }

func sourcesEvent(sources []Source, m Metrics) Event {
	if sources == nil {
		sources = []Source{}
	}
	return Event{Kind: KindSources, Sources: &SourcesPayload{Sources: sources, Metrics: m}}
}
