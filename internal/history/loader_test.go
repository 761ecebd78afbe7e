package history

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/types"
)

func testCaps(claudeRoot, codexRoot string) map[types.Engine]types.EngineCaps {
	return map[types.Engine]types.EngineCaps{
		types.EngineClaude: {FileBacked: true, SessionRoot: claudeRoot, MaxContextTokens: 180000},
		types.EngineCodex:  {FileBacked: true, SessionRoot: codexRoot, MaxContextTokens: 128000},
		types.EngineGemini: {MaxContextTokens: 100000},
	}
}

// writeClaudeTranscript lays out a transcript the way claude does:
// <root>/<munged-workspace>/<sessionID>.jsonl, one JSON record per line.
func writeClaudeTranscript(t *testing.T, root, workspacePath, sessionID string, lines []string) string {
	t.Helper()
	dir := filepath.Join(root, WorkspaceDirName(workspacePath))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, sessionID+".jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func claudeLine(role, text string, ts time.Time) string {
	return fmt.Sprintf(
		`{"type":%q,"uuid":"u-%d","timestamp":%q,"message":{"role":%q,"content":[{"type":"text","text":%q}]}}`,
		role, ts.UnixNano(), ts.Format(time.RFC3339Nano), role, text)
}

func TestWorkspaceDirName(t *testing.T) {
	assert.Equal(t, "-home-dev-my-project", WorkspaceDirName("/home/dev/my.project"))
	assert.Equal(t, "C:-work-repo", WorkspaceDirName(`C:\work\repo`))
}

func TestLoadClaudeMessages(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	writeClaudeTranscript(t, root, "/home/dev/proj", "sess-1", []string{
		claudeLine("user", "hello", base),
		claudeLine("assistant", "hi there", base.Add(time.Second)),
		`{"type":"summary","summary":"bookkeeping line"}`,
		claudeLine("user", "next question", base.Add(2*time.Second)),
	})

	loader := NewLoader(testCaps(root, ""))
	page, err := loader.LoadMessages(LoadParams{
		SessionID:     "sess-1",
		Engine:        types.EngineClaude,
		WorkspacePath: "/home/dev/proj",
	})
	require.NoError(t, err)

	var got []string
	for _, m := range page.Messages {
		got = append(got, string(m.Role)+": "+m.Content)
	}
	want := []string{"user: hello", "assistant: hi there", "user: next question"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, page.Pagination.HasMore)
	assert.Equal(t, 3, page.Pagination.Total)
}

func TestLoadClaudeBareStringContent(t *testing.T) {
	root := t.TempDir()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	writeClaudeTranscript(t, root, "/ws", "sess-1", []string{
		fmt.Sprintf(`{"type":"user","timestamp":%q,"message":{"role":"user","content":"plain string"}}`,
			ts.Format(time.RFC3339)),
	})

	loader := NewLoader(testCaps(root, ""))
	page, err := loader.LoadMessages(LoadParams{
		SessionID: "sess-1", Engine: types.EngineClaude, WorkspacePath: "/ws",
	})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "plain string", page.Messages[0].Content)
}

func TestMalformedLinesSkipped(t *testing.T) {
	root := t.TempDir()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	writeClaudeTranscript(t, root, "/ws", "sess-1", []string{
		`{not json at all`,
		claudeLine("user", "valid before", ts),
		`{"type":"user","message":`,
		claudeLine("assistant", "valid after", ts.Add(time.Second)),
		``,
	})

	loader := NewLoader(testCaps(root, ""))
	page, err := loader.LoadMessages(LoadParams{
		SessionID: "sess-1", Engine: types.EngineClaude, WorkspacePath: "/ws",
	})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 2)
}

func TestMissingTranscriptYieldsEmptyPage(t *testing.T) {
	loader := NewLoader(testCaps(t.TempDir(), t.TempDir()))

	page, err := loader.LoadMessages(LoadParams{
		SessionID: "never-created", Engine: types.EngineClaude, WorkspacePath: "/ws",
	})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.False(t, page.Pagination.HasMore)
}

func TestGeminiHasNoTranscript(t *testing.T) {
	loader := NewLoader(testCaps("", ""))

	page, err := loader.LoadMessages(LoadParams{
		SessionID: "sess-1", Engine: types.EngineGemini,
	})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestUnknownEngineRejected(t *testing.T) {
	loader := NewLoader(testCaps("", ""))

	_, err := loader.LoadMessages(LoadParams{SessionID: "s", Engine: "cursor"})
	require.Error(t, err)
}

func TestTranscriptFoundOutsideExpectedDir(t *testing.T) {
	root := t.TempDir()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// Transcript lives under a different workspace's directory than the one
	// the caller asks with; the full scan must still find it.
	writeClaudeTranscript(t, root, "/old/workspace", "sess-1", []string{
		claudeLine("user", "moved", ts),
	})

	loader := NewLoader(testCaps(root, ""))
	page, err := loader.LoadMessages(LoadParams{
		SessionID: "sess-1", Engine: types.EngineClaude, WorkspacePath: "/new/workspace",
	})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "moved", page.Messages[0].Content)
}

func codexLine(role, partType, text string, ts time.Time) string {
	return fmt.Sprintf(
		`{"timestamp":%q,"type":"response_item","payload":{"type":"message","role":%q,"content":[{"type":%q,"text":%q}]}}`,
		ts.Format(time.RFC3339Nano), role, partType, text)
}

func writeCodexTranscript(t *testing.T, root, sessionID string, lines []string) string {
	t.Helper()
	dir := filepath.Join(root, "2026", "03", "01")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "rollout-2026-03-01T10-00-00-"+sessionID+".jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCodexMessages(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	writeCodexTranscript(t, root, "aaaabbbb-cccc-dddd-eeee-ffff00001111", []string{
		`{"timestamp":"2026-03-01T10:00:00Z","type":"session_meta","payload":{"id":"x"}}`,
		codexLine("user", "input_text", "list the tests", base),
		`{"timestamp":"2026-03-01T10:00:01Z","type":"response_item","payload":{"type":"reasoning","summary":[]}}`,
		codexLine("assistant", "output_text", "there are 12 tests", base.Add(time.Second)),
		`{"timestamp":"2026-03-01T10:00:02Z","type":"event_msg","payload":{"type":"token_count"}}`,
	})

	loader := NewLoader(testCaps("", root))
	page, err := loader.LoadMessages(LoadParams{
		SessionID: "aaaabbbb-cccc-dddd-eeee-ffff00001111",
		Engine:    types.EngineCodex,
	})
	require.NoError(t, err)

	var got []string
	for _, m := range page.Messages {
		got = append(got, string(m.Role)+": "+m.Content)
	}
	want := []string{"user: list the tests", "assistant: there are 12 tests"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func manyTurns(t *testing.T, root string, n int) *Loader {
	t.Helper()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		lines = append(lines, claudeLine(role, fmt.Sprintf("turn %03d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	writeClaudeTranscript(t, root, "/ws", "sess-big", lines)
	return NewLoader(testCaps(root, ""))
}

func TestPaginationWindows(t *testing.T) {
	loader := manyTurns(t, t.TempDir(), 10)

	first, err := loader.LoadMessages(LoadParams{
		SessionID: "sess-big", Engine: types.EngineClaude, WorkspacePath: "/ws", Limit: 4,
	})
	require.NoError(t, err)
	require.Len(t, first.Messages, 4)
	assert.True(t, first.Pagination.HasMore)
	assert.Equal(t, 10, first.Pagination.Total)

	// Limit 4 over 10 turns keeps the newest four, returned chronologically.
	assert.Equal(t, "turn 006", first.Messages[0].Content)
	assert.Equal(t, "turn 009", first.Messages[3].Content)
	assert.Equal(t, first.Messages[0].CreatedAt, first.Pagination.OldestTimestamp)

	second, err := loader.LoadMessages(LoadParams{
		SessionID: "sess-big", Engine: types.EngineClaude, WorkspacePath: "/ws",
		Limit: 4, Before: first.Pagination.OldestTimestamp,
	})
	require.NoError(t, err)
	require.Len(t, second.Messages, 4)
	assert.Equal(t, "turn 002", second.Messages[0].Content)
	assert.Equal(t, "turn 005", second.Messages[3].Content)

	// No message appears on both pages.
	seen := map[string]bool{}
	for _, m := range first.Messages {
		seen[m.Content] = true
	}
	for _, m := range second.Messages {
		assert.False(t, seen[m.Content], "message %q duplicated across pages", m.Content)
	}

	third, err := loader.LoadMessages(LoadParams{
		SessionID: "sess-big", Engine: types.EngineClaude, WorkspacePath: "/ws",
		Limit: 4, Before: second.Pagination.OldestTimestamp,
	})
	require.NoError(t, err)
	assert.Len(t, third.Messages, 2)
	assert.False(t, third.Pagination.HasMore)
}

func TestDescendingOrder(t *testing.T) {
	loader := manyTurns(t, t.TempDir(), 6)

	page, err := loader.LoadMessages(LoadParams{
		SessionID: "sess-big", Engine: types.EngineClaude, WorkspacePath: "/ws",
		Limit: 3, Order: OrderDesc,
	})
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.Equal(t, "turn 005", page.Messages[0].Content)
	assert.Equal(t, "turn 003", page.Messages[2].Content)
}
