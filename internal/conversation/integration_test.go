package conversation_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/libris/librarian/internal/conversation"
	"github.com/libris/librarian/internal/testutil"
)

func newTestStore(t *testing.T) (*conversation.Store, *testutil.TestDBContainer) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	dbContainer, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	store, err := conversation.NewStore(dbContainer.Pool, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, dbContainer
}

func TestResolveReusesConversationInsideIdleWindow(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id := conversation.Identity{
		UserID:         "alice",
		OrganizationID: "acme",
		AppID:          "librarian",
	}

	first, err := store.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	second, err := store.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if first.ConversationID != second.ConversationID {
		t.Errorf("conversation not reused: %s vs %s", first.ConversationID, second.ConversationID)
	}
}

func TestResolveStartsFreshAfterIdleWindow(t *testing.T) {
	store, dbContainer := newTestStore(t)
	ctx := context.Background()

	id := conversation.Identity{UserID: "bob", AppID: "librarian"}

	first, err := store.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}

	// Push the conversation past the idle window.
	if _, err := dbContainer.Pool.Exec(ctx,
		`UPDATE conversations SET last_activity_at = now() - interval '1 hour' WHERE id = $1`,
		first.ConversationID,
	); err != nil {
		t.Fatalf("backdating conversation: %v", err)
	}

	second, err := store.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if first.ConversationID == second.ConversationID {
		t.Error("idle conversation must not be resumed")
	}
}

func TestResolveScopesAreDistinct(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	base := conversation.Identity{UserID: "carol", AppID: "librarian"}
	scoped := base
	scoped.ProjectID = "apollo"

	first, err := store.Resolve(ctx, base)
	if err != nil {
		t.Fatalf("Resolve base: %v", err)
	}
	second, err := store.Resolve(ctx, scoped)
	if err != nil {
		t.Fatalf("Resolve scoped: %v", err)
	}
	if first.ConversationID == second.ConversationID {
		t.Error("different project scopes must not share a conversation")
	}
}

func TestAppendTurnSequencingAndHistory(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Resolve(ctx, conversation.Identity{UserID: "dave", AppID: "librarian"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	fileID := uuid.New()
	turns := []conversation.Message{
		{Role: conversation.RoleUser, Content: "What is the leave policy?"},
		{
			Role:           conversation.RoleAssistant,
			Content:        "Twenty days per year.",
			GenerationMode: "chunks",
			Sources: []conversation.SourceRef{
				{FileID: fileID.String(), Filename: "handbook.md", Layer: "app"},
			},
		},
		{Role: conversation.RoleUser, Content: "And carryover?"},
	}
	for _, m := range turns {
		if err := store.AppendTurn(ctx, sess.ConversationID, m); err != nil {
			t.Fatalf("AppendTurn(%q): %v", m.Content, err)
		}
	}

	got, err := store.RecentTurns(ctx, sess.ConversationID, 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("turns = %d, want 3", len(got))
	}
	for i, m := range got {
		if m.SequenceNumber != i+1 {
			t.Errorf("turn %d sequence = %d, want %d", i, m.SequenceNumber, i+1)
		}
	}
	assistant := got[1]
	if assistant.GenerationMode != "chunks" {
		t.Errorf("GenerationMode = %q, want chunks", assistant.GenerationMode)
	}
	if len(assistant.Sources) != 1 || assistant.Sources[0].FileID != fileID.String() {
		t.Errorf("sources not round-tripped: %+v", assistant.Sources)
	}

	resolved, err := store.Resolve(ctx, sess.Identity)
	if err != nil {
		t.Fatalf("re-Resolve: %v", err)
	}
	if len(resolved.UsedFileIDs) != 1 || resolved.UsedFileIDs[0] != fileID {
		t.Errorf("UsedFileIDs = %v, want [%s]", resolved.UsedFileIDs, fileID)
	}
}

func TestRecentTurnsWindowKeepsNewest(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Resolve(ctx, conversation.Identity{UserID: "erin", AppID: "librarian"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := store.AppendTurn(ctx, sess.ConversationID, conversation.Message{
			Role:    conversation.RoleUser,
			Content: "question",
		}); err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
	}

	got, err := store.RecentTurns(ctx, sess.ConversationID, 2)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("turns = %d, want 2", len(got))
	}
	if got[0].SequenceNumber != 4 || got[1].SequenceNumber != 5 {
		t.Errorf("window = [%d %d], want newest two in order", got[0].SequenceNumber, got[1].SequenceNumber)
	}
}
