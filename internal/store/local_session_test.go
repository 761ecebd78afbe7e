package store

import (
	"testing"
	"time"

	"switchboard/internal/types"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	st, err := NewLocalStore(":memory:")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testSession(id, conversationID string, engine types.Engine) *types.EngineSession {
	now := time.Now().UTC().Truncate(time.Second)
	return &types.EngineSession{
		ID:             id,
		ConversationID: conversationID,
		Engine:         engine,
		WorkspacePath:  "/home/dev/project",
		Title:          "New Chat",
		CreatedAt:      now,
		LastUsedAt:     now,
	}
}

func TestInsertAndGetSession(t *testing.T) {
	st := newTestStore(t)

	want := testSession("sess-1", "conv-1", types.EngineClaude)
	if err := st.InsertSession(want); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	got, err := st.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil {
		t.Fatal("GetSession returned nil for existing row")
	}
	if got.ConversationID != "conv-1" || got.Engine != types.EngineClaude {
		t.Errorf("got %+v, want conversation=conv-1 engine=claude", got)
	}
	if got.Title != "New Chat" {
		t.Errorf("Title = %q, want %q", got.Title, "New Chat")
	}
}

func TestGetSessionMissing(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetSession("no-such-session")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing session, got %+v", got)
	}
}

func TestFindSessionByConversationAndEngine(t *testing.T) {
	st := newTestStore(t)

	if err := st.InsertSession(testSession("sess-c", "conv-1", types.EngineClaude)); err != nil {
		t.Fatal(err)
	}
	if err := st.InsertSession(testSession("sess-x", "conv-1", types.EngineCodex)); err != nil {
		t.Fatal(err)
	}

	got, err := st.FindSession("conv-1", types.EngineCodex)
	if err != nil {
		t.Fatalf("FindSession: %v", err)
	}
	if got == nil || got.ID != "sess-x" {
		t.Errorf("FindSession = %+v, want sess-x", got)
	}

	missing, err := st.FindSession("conv-1", types.EngineGemini)
	if err != nil {
		t.Fatalf("FindSession: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unmapped engine, got %+v", missing)
	}
}

func TestUniqueConversationEnginePair(t *testing.T) {
	st := newTestStore(t)

	if err := st.InsertSession(testSession("sess-1", "conv-1", types.EngineClaude)); err != nil {
		t.Fatal(err)
	}
	err := st.InsertSession(testSession("sess-2", "conv-1", types.EngineClaude))
	if err == nil {
		t.Fatal("expected unique constraint violation for duplicate (conversation, engine)")
	}
}

func TestTouchSession(t *testing.T) {
	st := newTestStore(t)

	sess := testSession("sess-1", "conv-1", types.EngineClaude)
	if err := st.InsertSession(sess); err != nil {
		t.Fatal(err)
	}

	later := sess.LastUsedAt.Add(time.Hour)
	if err := st.TouchSession("sess-1", later); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}

	got, err := st.GetSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastUsedAt.Equal(later) {
		t.Errorf("LastUsedAt = %v, want %v", got.LastUsedAt, later)
	}
	if !got.CreatedAt.Equal(sess.CreatedAt) {
		t.Errorf("CreatedAt changed by touch: %v", got.CreatedAt)
	}
}

func TestSetNativeThreadIDAndTitle(t *testing.T) {
	st := newTestStore(t)

	if err := st.InsertSession(testSession("sess-g", "conv-1", types.EngineGemini)); err != nil {
		t.Fatal(err)
	}
	if err := st.SetNativeThreadID("sess-g", "thread-42"); err != nil {
		t.Fatalf("SetNativeThreadID: %v", err)
	}
	if err := st.SetTitle("sess-g", "Fix the flaky deploy"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}

	got, err := st.GetSession("sess-g")
	if err != nil {
		t.Fatal(err)
	}
	if got.NativeThreadID != "thread-42" {
		t.Errorf("NativeThreadID = %q", got.NativeThreadID)
	}
	if got.Title != "Fix the flaky deploy" {
		t.Errorf("Title = %q", got.Title)
	}
}

func TestDeleteSession(t *testing.T) {
	st := newTestStore(t)

	if err := st.InsertSession(testSession("sess-1", "conv-1", types.EngineClaude)); err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteSession("sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	got, err := st.GetSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("session still present after delete: %+v", got)
	}
}

func TestListSessionsByConversationOrder(t *testing.T) {
	st := newTestStore(t)

	old := testSession("sess-old", "conv-1", types.EngineClaude)
	old.LastUsedAt = old.LastUsedAt.Add(-2 * time.Hour)
	recent := testSession("sess-new", "conv-1", types.EngineCodex)
	other := testSession("sess-other", "conv-2", types.EngineClaude)

	for _, s := range []*types.EngineSession{old, recent, other} {
		if err := st.InsertSession(s); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := st.ListSessionsByConversation("conv-1")
	if err != nil {
		t.Fatalf("ListSessionsByConversation: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].ID != "sess-new" || rows[1].ID != "sess-old" {
		t.Errorf("rows not ordered by last_used_at desc: %s, %s", rows[0].ID, rows[1].ID)
	}
}

func TestListConversationsPicksMostRecentRow(t *testing.T) {
	st := newTestStore(t)

	old := testSession("sess-old", "conv-1", types.EngineClaude)
	old.LastUsedAt = old.LastUsedAt.Add(-2 * time.Hour)
	recent := testSession("sess-new", "conv-1", types.EngineGemini)

	if err := st.InsertSession(old); err != nil {
		t.Fatal(err)
	}
	if err := st.InsertSession(recent); err != nil {
		t.Fatal(err)
	}

	rows, err := st.ListConversations()
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d conversations, want 1", len(rows))
	}
	if rows[0].Engine != types.EngineGemini {
		t.Errorf("representative engine = %s, want gemini", rows[0].Engine)
	}
}

func TestDeleteConversationRemovesSessionsAndSummary(t *testing.T) {
	st := newTestStore(t)

	if err := st.InsertSession(testSession("sess-1", "conv-1", types.EngineClaude)); err != nil {
		t.Fatal(err)
	}
	if _, err := st.UpsertSummary(&types.ConversationSummary{
		ConversationID: "conv-1",
		ShortSummary:   "short",
		LongSummary:    "long",
	}); err != nil {
		t.Fatal(err)
	}

	if err := st.DeleteConversation("conv-1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	sess, err := st.FindSession("conv-1", types.EngineClaude)
	if err != nil {
		t.Fatal(err)
	}
	if sess != nil {
		t.Errorf("session survived conversation delete")
	}
	sum, err := st.GetSummary("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if sum != nil {
		t.Errorf("summary survived conversation delete")
	}
}
