package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"
)

// GenkitStreamer runs bounded-excerpt generation through a Genkit instance
// with the Google AI plugin registered.
type GenkitStreamer struct {
	g *genkit.Genkit
}

// NewGenkitStreamer wraps an initialized Genkit instance.
func NewGenkitStreamer(g *genkit.Genkit) *GenkitStreamer {
	return &GenkitStreamer{g: g}
}

// Stream generates an answer over the assembled context block, forwarding
// each chunk to onToken.
func (s *GenkitStreamer) Stream(ctx context.Context, p ExcerptParams, onToken func(string) error) (string, error) {
	temp := float32(p.Temperature)

	opts := []ai.GenerateOption{
		ai.WithModelName("googleai/" + p.Model),
		ai.WithSystem(p.SystemPrompt),
		ai.WithMessages(buildMessages(p)...),
		ai.WithConfig(&genai.GenerateContentConfig{
			Temperature:     &temp,
			MaxOutputTokens: int32(p.MaxTokens),
		}),
		ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
			if onToken == nil {
				return nil
			}
			return onToken(chunk.Text())
		}),
	}

	resp, err := genkit.Generate(ctx, s.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generating response: %w", err)
	}
	return resp.Text(), nil
}

// buildMessages lays out prior turns followed by the context block and the
// question as the final user message.
func buildMessages(p ExcerptParams) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(p.History)+1)
	for _, t := range p.History {
		if t.Role == "assistant" {
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(t.Content)))
		} else {
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(t.Content)))
		}
	}

	var sb strings.Builder
	if p.ContextBlock != "" {
		sb.WriteString("Answer using the following source material.\n\n")
		sb.WriteString(p.ContextBlock)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(p.Query)
	msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(sb.String())))
	return msgs
}
