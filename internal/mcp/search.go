package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/libris/librarian/internal/corpus"
)

// SearchInput defines the input schema for the search_corpus tool.
type SearchInput struct {
	Query          string `json:"query" jsonschema:"The search query"`
	UserID         string `json:"user_id" jsonschema:"Identifier of the searching user"`
	AppID          string `json:"app_id,omitempty" jsonschema:"Application scope for corpus lookup"`
	OrganizationID string `json:"org_id,omitempty" jsonschema:"Organization scope for corpus lookup"`
	ProjectID      string `json:"project_id,omitempty" jsonschema:"Project scope for corpus lookup"`

	MatchCount          int     `json:"match_count,omitempty" jsonschema:"Maximum fragments to retrieve"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty" jsonschema:"Minimum cosine similarity for a match"`

	IncludeUserLayer    bool `json:"include_user_layer,omitempty" jsonschema:"Search the user's personal documents"`
	IncludeProjectLayer bool `json:"include_project_layer,omitempty" jsonschema:"Search project documents"`
	IncludeOrgLayer     bool `json:"include_org_layer,omitempty" jsonschema:"Search organization documents"`
	IncludeAppLayer     bool `json:"include_app_layer,omitempty" jsonschema:"Search application-wide documents"`
}

// searchResult is the structured search_corpus payload.
type searchResult struct {
	Files      []searchFile     `json:"files"`
	Fragments  []searchFragment `json:"fragments"`
	TotalPages int              `json:"total_pages"`
}

type searchFile struct {
	FileID        string  `json:"file_id"`
	Filename      string  `json:"filename"`
	Layer         string  `json:"layer"`
	PageCount     int     `json:"page_count"`
	FragmentCount int     `json:"fragment_count"`
	Score         float64 `json:"score"`
}

type searchFragment struct {
	FragmentID   string  `json:"fragment_id"`
	FileID       string  `json:"file_id"`
	Filename     string  `json:"filename"`
	SourceType   string  `json:"source_type"`
	SectionTitle string  `json:"section_title,omitempty"`
	PageStart    int     `json:"page_start,omitempty"`
	PageEnd      int     `json:"page_end,omitempty"`
	Similarity   float64 `json:"similarity"`
	Content      string  `json:"content"`
}

const searchFragmentPreview = 600

// Search handles the search_corpus MCP tool call. It runs retrieval
// without generation and returns scored files and fragments.
func (s *Server) Search(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, any, error) {
	if input.Query == "" {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "query is required"}},
			IsError: true,
		}, nil, nil
	}

	embedding, err := s.embedder.Embed(ctx, input.Query)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding query: %w", err)
	}

	scope := corpus.Scope{
		AppID:          input.AppID,
		OrganizationID: input.OrganizationID,
		ProjectID:      input.ProjectID,
		UserID:         input.UserID,
		IncludeApp:     input.IncludeAppLayer,
		IncludeOrg:     input.IncludeOrgLayer,
		IncludeProject: input.IncludeProjectLayer,
		IncludeUser:    input.IncludeUserLayer,
	}
	if scope.Empty() {
		scope.IncludeApp = true
		scope.IncludeUser = input.UserID != ""
	}

	res, err := s.retriever.Retrieve(ctx, corpus.RetrieveParams{
		Embedding:  embedding,
		QueryText:  input.Query,
		Scope:      scope,
		Levels:     []int{corpus.LevelSummary, corpus.LevelVerbatim},
		MatchCount: input.MatchCount,
		Threshold:  input.SimilarityThreshold,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("searching corpus: %w", err)
	}

	result := searchResult{
		Files:      make([]searchFile, 0, len(res.Files)),
		Fragments:  make([]searchFragment, 0, len(res.Fragments)),
		TotalPages: res.TotalPages,
	}
	for _, f := range res.Files {
		result.Files = append(result.Files, searchFile{
			FileID:        f.ID.String(),
			Filename:      f.Filename,
			Layer:         string(f.Layer),
			PageCount:     f.PageCount,
			FragmentCount: f.FragmentCount,
			Score:         f.Score,
		})
	}
	for _, fr := range res.Fragments {
		content := fr.Content
		if len(content) > searchFragmentPreview {
			content = content[:searchFragmentPreview]
		}
		result.Fragments = append(result.Fragments, searchFragment{
			FragmentID:   fr.ID.String(),
			FileID:       fr.FileID.String(),
			Filename:     fr.Filename,
			SourceType:   fr.SourceType,
			SectionTitle: fr.SectionTitle,
			PageStart:    fr.PageStart,
			PageEnd:      fr.PageEnd,
			Similarity:   fr.Similarity,
			Content:      content,
		})
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling search result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}, result, nil
}
