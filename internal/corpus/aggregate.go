package corpus

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// buildSourceFiles groups fragments by owning file and computes per-file
// scores:
//
//	score = fragment_count × average_similarity × boost_multiplier × global_boost
//
// The average is taken over primary fragments only; child fragments were not
// independently matched and carry no similarity, but they still count toward
// fragment count and are attached to the file. The result is sorted by score
// descending (filename as a stable tiebreaker).
func buildSourceFiles(fragments []Fragment, boostKeywords []string, boostFactor, globalBoost float64) []SourceFile {
	if boostFactor <= 0 {
		boostFactor = 1
	}
	if globalBoost <= 0 {
		globalBoost = 1
	}

	byFile := make(map[uuid.UUID]*SourceFile)
	var order []uuid.UUID

	for _, f := range fragments {
		sf, ok := byFile[f.FileID]
		if !ok {
			sf = &SourceFile{
				ID:        f.FileID,
				Filename:  f.Filename,
				MimeType:  f.MimeType,
				Layer:     f.Layer,
				PageCount: f.PageCount,
			}
			byFile[f.FileID] = sf
			order = append(order, f.FileID)
		}

		sf.FragmentCount++
		sf.Fragments = append(sf.Fragments, f)
		if f.Role == RolePrimary {
			if f.Similarity > sf.MaxSimilarity {
				sf.MaxSimilarity = f.Similarity
			}
			// AvgSimilarity accumulates the sum here; divided below.
			sf.AvgSimilarity += f.Similarity
		}
	}

	files := make([]SourceFile, 0, len(byFile))
	for _, id := range order {
		sf := byFile[id]

		primaries := 0
		for _, f := range sf.Fragments {
			if f.Role == RolePrimary {
				primaries++
			}
		}
		if primaries > 0 {
			sf.AvgSimilarity /= float64(primaries)
		}

		mult := 1.0
		if matchesBoostKeyword(sf.Filename, boostKeywords) {
			sf.Boosted = true
			mult = boostFactor
		}

		sf.Score = float64(sf.FragmentCount) * sf.AvgSimilarity * mult * globalBoost
		files = append(files, *sf)
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Score != files[j].Score {
			return files[i].Score > files[j].Score
		}
		return files[i].Filename < files[j].Filename
	})

	return files
}

// matchesBoostKeyword reports whether the filename contains any of the
// caller-supplied boost keywords, case-insensitively.
func matchesBoostKeyword(filename string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	lower := strings.ToLower(filename)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
