package generate

import (
	"fmt"
	"strings"

	"github.com/libris/librarian/internal/corpus"
)

// BuildContext assembles the bounded-excerpt prompt block from retrieved
// fragments. Fragments are grouped under per-file headers in the order they
// arrive, each annotated with its hierarchy level and location, and the
// whole block is capped at maxChars. A fragment that would cross the cap is
// dropped along with everything after it.
func BuildContext(fragments []corpus.Fragment, maxChars int) string {
	if len(fragments) == 0 {
		return ""
	}

	var sb strings.Builder
	var currentFile string
	for _, f := range fragments {
		var block strings.Builder
		if f.Filename != currentFile {
			block.WriteString("## ")
			block.WriteString(f.Filename)
			block.WriteString("\n\n")
		}
		block.WriteString(fragmentHeader(f))
		block.WriteString(f.Content)
		block.WriteString("\n\n")

		if maxChars > 0 && sb.Len()+block.Len() > maxChars {
			break
		}
		sb.WriteString(block.String())
		currentFile = f.Filename
	}
	return strings.TrimRight(sb.String(), "\n")
}

// BuildTranscriptBlock assembles the transcript excerpts that accompany a
// full-document generation. Transcript fragments never go through the
// cached context; their text travels with the request.
func BuildTranscriptBlock(fragments []corpus.Fragment, maxChars int) string {
	if len(fragments) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, f := range fragments {
		entry := fmt.Sprintf("[%s%s]\n%s\n\n", f.Filename, locationSuffix(f), f.Content)
		if maxChars > 0 && sb.Len()+len(entry) > maxChars {
			break
		}
		sb.WriteString(entry)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func fragmentHeader(f corpus.Fragment) string {
	kind := "summary"
	if f.HierarchyLevel == corpus.LevelVerbatim {
		kind = "excerpt"
	}
	return fmt.Sprintf("[%s%s]\n", kind, locationSuffix(f))
}

func locationSuffix(f corpus.Fragment) string {
	var sb strings.Builder
	if f.SectionTitle != "" {
		sb.WriteString(", ")
		sb.WriteString(f.SectionTitle)
	}
	if f.PageStart > 0 {
		if f.PageEnd > f.PageStart {
			fmt.Fprintf(&sb, ", pages %d-%d", f.PageStart, f.PageEnd)
		} else {
			fmt.Fprintf(&sb, ", page %d", f.PageStart)
		}
	}
	return sb.String()
}
