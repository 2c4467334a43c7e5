// Package settings resolves per-(application, organization) librarian
// tunables from the configuration store.
//
// Resolution order: organization-specific active record, then
// application-global active record, then compiled defaults. The resolver
// never returns a partially populated config: any stored field that is
// absent, zero, or malformed falls back to its default. Failure to reach the
// store is non-fatal and treated as "no record found".
package settings

import (
	"time"
)

// Generation modes a strategy or caller may force.
const (
	ModeAuto         = "auto"
	ModeChunks       = "chunks"
	ModeFullDocument = "full-document"
	ModeMemory       = "memory"
	ModeConversational = "conversational"
)

// GenerationOverride declares per-intent generation parameters. Zero fields
// inherit the global values.
type GenerationOverride struct {
	Model           string  `json:"model,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
}

// Config holds the librarian tunables for one (application, organization)
// pair. Stored as JSONB in librarian_configs.settings.
type Config struct {
	// Retrieval
	MatchCount          int            `json:"match_count,omitempty"`
	SimilarityThreshold float64        `json:"similarity_threshold,omitempty"`
	BoostFactor         float64        `json:"boost_factor,omitempty"`
	MaxFilesByIntent    map[string]int `json:"max_files_by_intent,omitempty"`
	PageCeiling         int            `json:"page_ceiling,omitempty"`

	// Generation
	GenerationModel string                        `json:"generation_model,omitempty"`
	Temperature     float64                       `json:"temperature,omitempty"`
	MaxOutputTokens int                           `json:"max_output_tokens,omitempty"`
	IntentOverrides map[string]GenerationOverride `json:"intent_overrides,omitempty"`
	MaxContextChars int                           `json:"max_context_chars,omitempty"`

	// Prompting
	SystemPromptTemplate string `json:"system_prompt_template,omitempty"`

	// Semantic answer memory
	MemorySimilarityThreshold float64 `json:"memory_similarity_threshold,omitempty"`
	MemoryMinTrustScore       float64 `json:"memory_min_trust_score,omitempty"`

	// Context cache
	ContextCacheTTLSeconds int `json:"context_cache_ttl_seconds,omitempty"`
	FileCacheTTLSeconds    int `json:"file_cache_ttl_seconds,omitempty"`

	// When true, full-document sources are narrowed to files the model's
	// output text actually references. Default false: return the full
	// retained-file list. Both behaviors exist in earlier pipeline revisions;
	// this makes the choice explicit.
	NarrowFullDocSources bool `json:"narrow_full_doc_sources,omitempty"`
}

// DefaultSystemPrompt is the compiled-in system prompt template.
const DefaultSystemPrompt = `You are a meticulous research librarian. Answer the user's question ` +
	`using only the provided documents. Cite the filename and page whenever you state a fact. ` +
	`If the documents do not contain the answer, say so plainly.`

// Defaults returns the compiled-in configuration. Every field is populated.
func Defaults() Config {
	return Config{
		MatchCount:          12,
		SimilarityThreshold: 0.45,
		BoostFactor:         1.5,
		MaxFilesByIntent: map[string]int{
			"default":    5,
			"factual":    4,
			"citation":   8,
			"synthesis":  10,
			"comparison": 6,
		},
		PageCeiling: 200,

		GenerationModel: "gemini-2.5-flash",
		Temperature:     0.3,
		MaxOutputTokens: 2048,
		IntentOverrides: map[string]GenerationOverride{},
		MaxContextChars: 24000,

		SystemPromptTemplate: DefaultSystemPrompt,

		MemorySimilarityThreshold: 0.85,
		MemoryMinTrustScore:       0.75,

		ContextCacheTTLSeconds: 3600,
		FileCacheTTLSeconds:    47 * 3600,

		NarrowFullDocSources: false,
	}
}

// ContextCacheTTL returns the cached-context lifetime.
func (c Config) ContextCacheTTL() time.Duration {
	return time.Duration(c.ContextCacheTTLSeconds) * time.Second
}

// FileCacheTTL returns the remote file handle lifetime.
func (c Config) FileCacheTTL() time.Duration {
	return time.Duration(c.FileCacheTTLSeconds) * time.Second
}

// MaxFiles returns the per-intent retained-file limit, falling back to the
// "default" entry.
func (c Config) MaxFiles(intent string) int {
	if n, ok := c.MaxFilesByIntent[intent]; ok && n > 0 {
		return n
	}
	if n, ok := c.MaxFilesByIntent["default"]; ok && n > 0 {
		return n
	}
	return Defaults().MaxFilesByIntent["default"]
}

// GenerationFor resolves generation parameters for an intent, applying any
// per-intent override on top of the global values.
func (c Config) GenerationFor(intent string) (model string, temperature float64, maxTokens int) {
	model, temperature, maxTokens = c.GenerationModel, c.Temperature, c.MaxOutputTokens

	ov, ok := c.IntentOverrides[intent]
	if !ok {
		return model, temperature, maxTokens
	}
	if ov.Model != "" {
		model = ov.Model
	}
	if ov.Temperature > 0 {
		temperature = ov.Temperature
	}
	if ov.MaxOutputTokens > 0 {
		maxTokens = ov.MaxOutputTokens
	}
	return model, temperature, maxTokens
}

// overlay copies every non-zero field of src onto dst.
func overlay(dst *Config, src Config) {
	if src.MatchCount > 0 {
		dst.MatchCount = src.MatchCount
	}
	if src.SimilarityThreshold > 0 {
		dst.SimilarityThreshold = src.SimilarityThreshold
	}
	if src.BoostFactor > 0 {
		dst.BoostFactor = src.BoostFactor
	}
	if len(src.MaxFilesByIntent) > 0 {
		merged := make(map[string]int, len(dst.MaxFilesByIntent)+len(src.MaxFilesByIntent))
		for k, v := range dst.MaxFilesByIntent {
			merged[k] = v
		}
		for k, v := range src.MaxFilesByIntent {
			if v > 0 {
				merged[k] = v
			}
		}
		dst.MaxFilesByIntent = merged
	}
	if src.PageCeiling > 0 {
		dst.PageCeiling = src.PageCeiling
	}
	if src.GenerationModel != "" {
		dst.GenerationModel = src.GenerationModel
	}
	if src.Temperature > 0 {
		dst.Temperature = src.Temperature
	}
	if src.MaxOutputTokens > 0 {
		dst.MaxOutputTokens = src.MaxOutputTokens
	}
	if len(src.IntentOverrides) > 0 {
		merged := make(map[string]GenerationOverride, len(dst.IntentOverrides)+len(src.IntentOverrides))
		for k, v := range dst.IntentOverrides {
			merged[k] = v
		}
		for k, v := range src.IntentOverrides {
			merged[k] = v
		}
		dst.IntentOverrides = merged
	}
	if src.MaxContextChars > 0 {
		dst.MaxContextChars = src.MaxContextChars
	}
	if src.SystemPromptTemplate != "" {
		dst.SystemPromptTemplate = src.SystemPromptTemplate
	}
	if src.MemorySimilarityThreshold > 0 {
		dst.MemorySimilarityThreshold = src.MemorySimilarityThreshold
	}
	if src.MemoryMinTrustScore > 0 {
		dst.MemoryMinTrustScore = src.MemoryMinTrustScore
	}
	if src.ContextCacheTTLSeconds > 0 {
		dst.ContextCacheTTLSeconds = src.ContextCacheTTLSeconds
	}
	if src.FileCacheTTLSeconds > 0 {
		dst.FileCacheTTLSeconds = src.FileCacheTTLSeconds
	}
	// The bool zero value equals the compiled default, so plain assignment
	// cannot lose a stored "true".
	dst.NarrowFullDocSources = src.NarrowFullDocSources
}
