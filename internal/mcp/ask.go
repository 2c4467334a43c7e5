package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/libris/librarian/internal/librarian"
)

// AskInput defines the input schema for the ask_librarian tool.
type AskInput struct {
	Query          string `json:"query" jsonschema:"The question to answer from the document corpus"`
	UserID         string `json:"user_id" jsonschema:"Identifier of the asking user"`
	AppID          string `json:"app_id,omitempty" jsonschema:"Application scope for corpus lookup"`
	OrganizationID string `json:"org_id,omitempty" jsonschema:"Organization scope for corpus lookup"`
	ProjectID      string `json:"project_id,omitempty" jsonschema:"Project scope for corpus lookup"`

	Intent         string `json:"intent,omitempty" jsonschema:"Optional intent hint: factual, citation, synthesis, comparison or conversational"`
	GenerationMode string `json:"generation_mode,omitempty" jsonschema:"Pin the generation mode: auto, chunks or full-document"`

	IncludeUserLayer    bool `json:"include_user_layer,omitempty" jsonschema:"Search the user's personal documents"`
	IncludeProjectLayer bool `json:"include_project_layer,omitempty" jsonschema:"Search project documents"`
	IncludeOrgLayer     bool `json:"include_org_layer,omitempty" jsonschema:"Search organization documents"`
	IncludeAppLayer     bool `json:"include_app_layer,omitempty" jsonschema:"Search application-wide documents"`
}

// askResult is the structured payload returned alongside the answer text.
type askResult struct {
	Answer  string             `json:"answer"`
	Mode    string             `json:"generation_mode,omitempty"`
	Sources []librarian.Source `json:"sources"`
}

// Ask handles the ask_librarian MCP tool call. It drains the event
// stream and returns the accumulated answer with its sources.
func (s *Server) Ask(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, any, error) {
	req := librarian.Request{
		Query:               input.Query,
		UserID:              input.UserID,
		AppID:               input.AppID,
		OrganizationID:      input.OrganizationID,
		ProjectID:           input.ProjectID,
		Intent:              input.Intent,
		GenerationMode:      input.GenerationMode,
		IncludeUserLayer:    input.IncludeUserLayer,
		IncludeProjectLayer: input.IncludeProjectLayer,
		IncludeOrgLayer:     input.IncludeOrgLayer,
		IncludeAppLayer:     input.IncludeAppLayer,
	}
	if !req.IncludeUserLayer && !req.IncludeProjectLayer && !req.IncludeOrgLayer && !req.IncludeAppLayer {
		req.IncludeUserLayer = true
		req.IncludeAppLayer = true
	}

	events, err := s.asker.Ask(ctx, req)
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			IsError: true,
		}, nil, nil
	}

	var (
		answer  strings.Builder
		result  = askResult{Sources: []librarian.Source{}}
		failure string
	)
	for ev := range events {
		switch ev.Kind {
		case librarian.KindToken:
			answer.WriteString(ev.Token)
		case librarian.KindSources:
			if ev.Sources != nil {
				result.Sources = ev.Sources.Sources
				result.Mode = ev.Sources.Metrics.GenerationMode
			}
		case librarian.KindError:
			failure = ev.Error
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if failure != "" {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: failure}},
			IsError: true,
		}, nil, nil
	}

	result.Answer = answer.String()
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling answer: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}, result, nil
}
