package librarian

import (
	"github.com/libris/librarian/internal/corpus"
	"github.com/libris/librarian/internal/settings"
)

// Recognized query intents.
const (
	IntentFactual        = "factual"
	IntentCitation       = "citation"
	IntentSynthesis      = "synthesis"
	IntentComparison     = "comparison"
	IntentConversational = "conversational"
	IntentDefault        = "default"
)

// Strategy is the retrieval/generation policy selected by a query intent.
type Strategy struct {
	Intent string

	// Levels are the hierarchy levels to search.
	Levels []int

	// IncludeChildren expands matched summaries with their verbatim
	// children.
	IncludeChildren bool

	// ForcedMode pins the generation mode, bypassing the auto decision.
	// Empty means no forced mode.
	ForcedMode string

	// SkipRetrieval bypasses embedding, memory lookup and retrieval
	// entirely; the pipeline answers with a fixed greeting.
	SkipRetrieval bool
}

// ResolveStrategy maps an intent to its strategy. Unrecognized or absent
// intents get the default policy: verbatim level only, no children, no
// forced mode.
func ResolveStrategy(intent string) Strategy {
	switch intent {
	case IntentFactual:
		// Pinpoint lookups want exact text and the cheap path.
		return Strategy{
			Intent:     intent,
			Levels:     []int{corpus.LevelVerbatim},
			ForcedMode: settings.ModeChunks,
		}
	case IntentCitation:
		// Quotes must come verbatim from bounded excerpts.
		return Strategy{
			Intent:     intent,
			Levels:     []int{corpus.LevelVerbatim},
			ForcedMode: settings.ModeChunks,
		}
	case IntentSynthesis:
		return Strategy{
			Intent:          intent,
			Levels:          []int{corpus.LevelSummary},
			IncludeChildren: true,
		}
	case IntentComparison:
		return Strategy{
			Intent:          intent,
			Levels:          []int{corpus.LevelSummary, corpus.LevelVerbatim},
			IncludeChildren: true,
		}
	case IntentConversational:
		return Strategy{
			Intent:        intent,
			SkipRetrieval: true,
		}
	default:
		return Strategy{
			Intent: IntentDefault,
			Levels: []int{corpus.LevelVerbatim},
		}
	}
}
