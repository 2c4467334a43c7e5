package librarian

import (
	"slices"
	"testing"

	"github.com/libris/librarian/internal/corpus"
	"github.com/libris/librarian/internal/settings"
)

func TestResolveStrategy(t *testing.T) {
	tests := []struct {
		intent          string
		wantLevels      []int
		wantChildren    bool
		wantForcedMode  string
		wantSkip        bool
		wantResolvedTag string
	}{
		{IntentFactual, []int{corpus.LevelVerbatim}, false, settings.ModeChunks, false, IntentFactual},
		{IntentCitation, []int{corpus.LevelVerbatim}, false, settings.ModeChunks, false, IntentCitation},
		{IntentSynthesis, []int{corpus.LevelSummary}, true, "", false, IntentSynthesis},
		{IntentComparison, []int{corpus.LevelSummary, corpus.LevelVerbatim}, true, "", false, IntentComparison},
		{IntentConversational, nil, false, "", true, IntentConversational},
		{IntentDefault, []int{corpus.LevelVerbatim}, false, "", false, IntentDefault},
		{"", []int{corpus.LevelVerbatim}, false, "", false, IntentDefault},
		{"interrogative", []int{corpus.LevelVerbatim}, false, "", false, IntentDefault},
	}

	for _, tt := range tests {
		t.Run("intent "+tt.intent, func(t *testing.T) {
			got := ResolveStrategy(tt.intent)
			if !slices.Equal(got.Levels, tt.wantLevels) {
				t.Errorf("Levels = %v, want %v", got.Levels, tt.wantLevels)
			}
			if got.IncludeChildren != tt.wantChildren {
				t.Errorf("IncludeChildren = %v", got.IncludeChildren)
			}
			if got.ForcedMode != tt.wantForcedMode {
				t.Errorf("ForcedMode = %q, want %q", got.ForcedMode, tt.wantForcedMode)
			}
			if got.SkipRetrieval != tt.wantSkip {
				t.Errorf("SkipRetrieval = %v", got.SkipRetrieval)
			}
			if got.Intent != tt.wantResolvedTag {
				t.Errorf("Intent = %q, want %q", got.Intent, tt.wantResolvedTag)
			}
		})
	}
}
