// Package gemini adapts the google.golang.org/genai client to the narrow
// surfaces the librarian needs: file uploads to the large-context store,
// cached context creation, and streaming generation against a cached
// context.
//
// The Genkit-based bounded-excerpt path does not go through this package;
// see internal/generate.
package gemini

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"google.golang.org/genai"
)

// CallTimeout bounds non-streaming remote calls (uploads, cache creation).
const CallTimeout = 60 * time.Second

// RemoteFile describes an uploaded file in the large-context store.
type RemoteFile struct {
	// Name is the stable resource name used as the cached handle.
	Name      string
	URI       string
	MIMEType  string
	ExpiresAt time.Time
}

// CachedContext describes a reusable server-side context object.
type CachedContext struct {
	Name      string
	ExpiresAt time.Time
}

// StreamParams configures one full-document streaming generation call.
type StreamParams struct {
	Model       string
	CacheName   string
	Query       string
	Transcript  string // optional secondary text block
	Temperature float64
	MaxTokens   int
}

// Client wraps a genai client.
type Client struct {
	client *genai.Client
}

// New creates a Client against the Gemini API backend. The API key is read
// from GEMINI_API_KEY by the underlying SDK.
func New(ctx context.Context) (*Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Client{client: c}, nil
}

// Available reports whether the full-document generation service can be used.
func (c *Client) Available() bool {
	return c != nil && c.client != nil
}

// UploadFile uploads raw file bytes and returns the remote handle.
func (c *Client) UploadFile(ctx context.Context, r io.Reader, displayName, mimeType string) (*RemoteFile, error) {
	callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	f, err := c.client.Files.Upload(callCtx, r, &genai.UploadFileConfig{
		DisplayName: displayName,
		MIMEType:    mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", displayName, err)
	}

	return &RemoteFile{
		Name:      f.Name,
		URI:       f.URI,
		MIMEType:  f.MIMEType,
		ExpiresAt: f.ExpirationTime,
	}, nil
}

// CreateContext registers a new cached context containing the system prompt
// followed by one content reference per file.
func (c *Client) CreateContext(ctx context.Context, model, systemPrompt string, files []RemoteFile, ttl time.Duration) (*CachedContext, error) {
	callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	parts := make([]*genai.Part, 0, len(files))
	for _, f := range files {
		parts = append(parts, genai.NewPartFromURI(f.URI, f.MIMEType))
	}

	cc, err := c.client.Caches.Create(callCtx, model, &genai.CreateCachedContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Contents:          []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		TTL:               ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("creating cached context: %w", err)
	}

	return &CachedContext{Name: cc.Name, ExpiresAt: cc.ExpireTime}, nil
}

// StreamCached streams a generation against a cached context, invoking
// onToken for each text increment as it arrives. The accumulated response is
// returned after the stream completes.
func (c *Client) StreamCached(ctx context.Context, p StreamParams, onToken func(string) error) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(p.Query)}
	if p.Transcript != "" {
		parts = append(parts, genai.NewPartFromText("Relevant meeting transcript excerpts:\n"+p.Transcript))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	temp := float32(p.Temperature)
	cfg := &genai.GenerateContentConfig{
		CachedContent:   p.CacheName,
		Temperature:     &temp,
		MaxOutputTokens: int32(p.MaxTokens),
	}

	var sb strings.Builder
	for resp, err := range c.client.Models.GenerateContentStream(ctx, p.Model, contents, cfg) {
		if err != nil {
			return sb.String(), fmt.Errorf("streaming full-document generation: %w", err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		sb.WriteString(text)
		if onToken != nil {
			if err := onToken(text); err != nil {
				return sb.String(), err
			}
		}
	}

	return sb.String(), nil
}
