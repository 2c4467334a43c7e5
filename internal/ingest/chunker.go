// Package ingest builds the hierarchical corpus: it walks local document
// trees, splits each file into sections, writes a level 0 summary and level
// 1 verbatim fragments per section, and persists everything with embeddings.
package ingest

import (
	"context"
	"strings"
)

// Chunking bounds, in characters.
const (
	// sectionTarget is the size a section aims for before splitting.
	sectionTarget = 4000

	// verbatimTarget is the size of one level 1 fragment.
	verbatimTarget = 1200

	// summaryLimit caps an extractive section summary.
	summaryLimit = 480

	// charsPerPage approximates page locators for plain-text sources.
	charsPerPage = 2000
)

// Section is one document division: a summary fragment plus its verbatim
// children.
type Section struct {
	Title     string
	Summary   string
	Verbatim  []string
	PageStart int
	PageEnd   int
}

// Summarizer produces the level 0 text for a section. Implementations may
// call a model; Extractive works offline.
type Summarizer interface {
	Summarize(ctx context.Context, title, content string) (string, error)
}

// Extractive is the offline Summarizer: the section title plus its opening
// text, cut at a sentence boundary where possible.
type Extractive struct{}

func (Extractive) Summarize(_ context.Context, title, content string) (string, error) {
	text := strings.TrimSpace(content)
	if len(text) > summaryLimit {
		cut := text[:summaryLimit]
		if i := strings.LastIndexAny(cut, ".!?"); i > summaryLimit/2 {
			cut = cut[:i+1]
		}
		text = cut
	}
	if title != "" {
		return title + ": " + text, nil
	}
	return text, nil
}

// Chunk splits document text into sections. Markdown-style headings open a
// new section; heading-less text is split at paragraph boundaries around
// sectionTarget. Page locators are estimated from character offsets.
func Chunk(text string) []Section {
	blocks := splitSections(text)
	sections := make([]Section, 0, len(blocks))
	offset := 0
	for _, b := range blocks {
		start := offset/charsPerPage + 1
		offset += len(b.content)
		end := (offset - 1) / charsPerPage
		if end < start {
			end = start
		}
		sections = append(sections, Section{
			Title:     b.title,
			Verbatim:  splitVerbatim(b.content),
			PageStart: start,
			PageEnd:   end,
		})
	}
	return sections
}

type block struct {
	title   string
	content string
}

func splitSections(text string) []block {
	var blocks []block
	var title string
	var sb strings.Builder

	flush := func() {
		content := strings.TrimSpace(sb.String())
		if content != "" {
			blocks = append(blocks, block{title: title, content: content})
		}
		sb.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if heading, ok := headingText(line); ok {
			flush()
			title = heading
			continue
		}
		sb.WriteString(line)
		sb.WriteString("\n")

		// Headingless documents still get bounded sections.
		if sb.Len() >= sectionTarget && strings.TrimSpace(line) == "" {
			flush()
			title = ""
		}
	}
	flush()
	return blocks
}

func headingText(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	heading := strings.TrimLeft(trimmed, "#")
	if heading == trimmed || !strings.HasPrefix(heading, " ") {
		return "", false
	}
	return strings.TrimSpace(heading), true
}

// splitVerbatim cuts section content into fragments around verbatimTarget,
// preferring paragraph breaks, then line breaks.
func splitVerbatim(content string) []string {
	var out []string
	rest := content
	for len(rest) > verbatimTarget {
		cut := verbatimTarget
		window := rest[:cut]
		if i := strings.LastIndex(window, "\n\n"); i > verbatimTarget/2 {
			cut = i
		} else if i := strings.LastIndexByte(window, '\n'); i > verbatimTarget/2 {
			cut = i
		}
		piece := strings.TrimSpace(rest[:cut])
		if piece != "" {
			out = append(out, piece)
		}
		rest = strings.TrimSpace(rest[cut:])
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}
