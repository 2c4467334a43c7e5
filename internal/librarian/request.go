package librarian

import (
	"errors"

	"github.com/google/uuid"

	"github.com/libris/librarian/internal/conversation"
	"github.com/libris/librarian/internal/corpus"
	"github.com/libris/librarian/internal/settings"
)

// Validation errors.
var (
	ErrMissingQuery  = errors.New("query is required")
	ErrMissingUserID = errors.New("user_id is required")
	ErrInvalidMode   = errors.New("generation_mode must be auto, chunks or full-document")
)

// SearchOverrides are caller-supplied retrieval tunables that take priority
// over resolved configuration for one request.
type SearchOverrides struct {
	MatchCount          int      `json:"match_count,omitempty"`
	SimilarityThreshold float64  `json:"similarity_threshold,omitempty"`
	FileAllowlist       []string `json:"file_allowlist,omitempty"`
}

// Request is one query from the calling coordinator.
type Request struct {
	Query          string `json:"query"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"org_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	AppID          string `json:"app_id"`

	// RewrittenQuery, when set, replaces Query for embedding and search.
	// The original Query is still what gets persisted and answered.
	RewrittenQuery string `json:"rewritten_query,omitempty"`

	Intent       string           `json:"intent,omitempty"`
	SearchConfig *SearchOverrides `json:"search_config,omitempty"`
	AnswerFormat string           `json:"answer_format,omitempty"`

	// KeyConcepts boost files whose names match any concept.
	KeyConcepts []string `json:"key_concepts,omitempty"`

	// GenerationMode pins the mode when set to chunks or full-document.
	// Empty and auto both leave the decision to the pipeline. A strategy's
	// forced mode still wins.
	GenerationMode string `json:"generation_mode,omitempty"`

	IncludeAppLayer     bool `json:"include_app_layer"`
	IncludeOrgLayer     bool `json:"include_org_layer"`
	IncludeProjectLayer bool `json:"include_project_layer"`
	IncludeUserLayer    bool `json:"include_user_layer"`

	FilterSourceTypes []string `json:"filter_source_types,omitempty"`

	// PreloadedContext is the trusted fast path: an upstream coordinator
	// already resolved the session, so the loader is skipped.
	PreloadedContext *conversation.Context `json:"-"`
}

// Validate checks the request before any work begins.
func (r *Request) Validate() error {
	if r.Query == "" {
		return ErrMissingQuery
	}
	if r.UserID == "" {
		return ErrMissingUserID
	}
	switch r.GenerationMode {
	case "", settings.ModeAuto, settings.ModeChunks, settings.ModeFullDocument:
	default:
		return ErrInvalidMode
	}
	return nil
}

// EffectiveQuery is the text used for embedding and search.
func (r *Request) EffectiveQuery() string {
	if r.RewrittenQuery != "" {
		return r.RewrittenQuery
	}
	return r.Query
}

// Scope maps the request's layer flags onto a corpus search scope.
func (r *Request) Scope() corpus.Scope {
	return corpus.Scope{
		AppID:          r.AppID,
		OrganizationID: r.OrganizationID,
		ProjectID:      r.ProjectID,
		UserID:         r.UserID,
		IncludeApp:     r.IncludeAppLayer,
		IncludeOrg:     r.IncludeOrgLayer,
		IncludeProject: r.IncludeProjectLayer,
		IncludeUser:    r.IncludeUserLayer,
	}
}

// Identity maps the request onto a conversation identity.
func (r *Request) Identity() conversation.Identity {
	return conversation.Identity{
		UserID:         r.UserID,
		OrganizationID: r.OrganizationID,
		ProjectID:      r.ProjectID,
		AppID:          r.AppID,
	}
}

// allowlist parses the caller's file allow-list, dropping malformed ids.
func (r *Request) allowlist() []uuid.UUID {
	if r.SearchConfig == nil || len(r.SearchConfig.FileAllowlist) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(r.SearchConfig.FileAllowlist))
	for _, raw := range r.SearchConfig.FileAllowlist {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
