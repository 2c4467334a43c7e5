package settings

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/libris/librarian/internal/log"
)

// mockQuerier implements Querier for resolver tests.
type mockQuerier struct {
	orgSettings []byte
	orgErr      error
	appSettings []byte
	appErr      error
}

func (m *mockQuerier) GetOrgSettings(context.Context, string, string) ([]byte, error) {
	if m.orgErr != nil {
		return nil, m.orgErr
	}
	if m.orgSettings == nil {
		return nil, ErrNotFound
	}
	return m.orgSettings, nil
}

func (m *mockQuerier) GetAppSettings(context.Context, string) ([]byte, error) {
	if m.appErr != nil {
		return nil, m.appErr
	}
	if m.appSettings == nil {
		return nil, ErrNotFound
	}
	return m.appSettings, nil
}

func TestResolve_DefaultsWhenNoRecord(t *testing.T) {
	r := NewResolver(&mockQuerier{}, log.NewNop())

	got := r.Resolve(context.Background(), "app-1", "org-1")
	if diff := cmp.Diff(Defaults(), got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_OrgRecordTakesPriority(t *testing.T) {
	orgJSON, _ := json.Marshal(Config{MatchCount: 20})
	appJSON, _ := json.Marshal(Config{MatchCount: 7})

	r := NewResolver(&mockQuerier{orgSettings: orgJSON, appSettings: appJSON}, log.NewNop())

	got := r.Resolve(context.Background(), "app-1", "org-1")
	if got.MatchCount != 20 {
		t.Errorf("MatchCount = %d, want 20 (org record)", got.MatchCount)
	}
}

func TestResolve_FallsBackToAppRecord(t *testing.T) {
	appJSON, _ := json.Marshal(Config{MatchCount: 7, Temperature: 0.9})

	r := NewResolver(&mockQuerier{appSettings: appJSON}, log.NewNop())

	got := r.Resolve(context.Background(), "app-1", "org-1")
	if got.MatchCount != 7 {
		t.Errorf("MatchCount = %d, want 7 (app record)", got.MatchCount)
	}
	if got.Temperature != 0.9 {
		t.Errorf("Temperature = %v, want 0.9", got.Temperature)
	}
}

func TestResolve_PartialRecordFullyPopulated(t *testing.T) {
	// A record that only sets one field must still yield a complete config.
	r := NewResolver(&mockQuerier{appSettings: []byte(`{"page_ceiling": 50}`)}, log.NewNop())

	got := r.Resolve(context.Background(), "app-1", "")
	if got.PageCeiling != 50 {
		t.Errorf("PageCeiling = %d, want 50", got.PageCeiling)
	}

	def := Defaults()
	if got.MatchCount != def.MatchCount {
		t.Errorf("MatchCount not defaulted: %d", got.MatchCount)
	}
	if got.SystemPromptTemplate != def.SystemPromptTemplate {
		t.Error("SystemPromptTemplate not defaulted")
	}
	if got.MemorySimilarityThreshold != def.MemorySimilarityThreshold {
		t.Error("MemorySimilarityThreshold not defaulted")
	}
}

func TestResolve_MalformedRecordUsesDefaults(t *testing.T) {
	r := NewResolver(&mockQuerier{appSettings: []byte(`{not json`)}, log.NewNop())

	got := r.Resolve(context.Background(), "app-1", "")
	if diff := cmp.Diff(Defaults(), got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_StoreErrorNonFatal(t *testing.T) {
	r := NewResolver(&mockQuerier{
		orgErr: errors.New("connection refused"),
		appErr: errors.New("connection refused"),
	}, log.NewNop())

	got := r.Resolve(context.Background(), "app-1", "org-1")
	if diff := cmp.Diff(Defaults(), got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestMaxFiles(t *testing.T) {
	cfg := Defaults()

	if got := cfg.MaxFiles("citation"); got != 8 {
		t.Errorf("MaxFiles(citation) = %d, want 8", got)
	}
	if got := cfg.MaxFiles("unknown-intent"); got != 5 {
		t.Errorf("MaxFiles(unknown) = %d, want default 5", got)
	}
}

func TestGenerationFor(t *testing.T) {
	cfg := Defaults()
	cfg.IntentOverrides = map[string]GenerationOverride{
		"synthesis": {Model: "gemini-2.5-pro", MaxOutputTokens: 8192},
	}

	model, temp, tokens := cfg.GenerationFor("synthesis")
	if model != "gemini-2.5-pro" {
		t.Errorf("model = %q", model)
	}
	if temp != cfg.Temperature {
		t.Errorf("temperature = %v, want global %v", temp, cfg.Temperature)
	}
	if tokens != 8192 {
		t.Errorf("tokens = %d, want 8192", tokens)
	}

	model, _, tokens = cfg.GenerationFor("factual")
	if model != cfg.GenerationModel || tokens != cfg.MaxOutputTokens {
		t.Error("intent without override must inherit globals")
	}
}
