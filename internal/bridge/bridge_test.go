package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/config"
	"switchboard/internal/history"
	"switchboard/internal/store"
	"switchboard/internal/types"
)

type bridgeFixture struct {
	bridge     *Bridge
	store      *store.LocalStore
	claudeRoot string
}

func newBridgeFixture(t *testing.T, caps map[types.Engine]types.EngineCaps) *bridgeFixture {
	t.Helper()
	st, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	claudeRoot := t.TempDir()
	for eng, c := range caps {
		if eng == types.EngineClaude {
			c.SessionRoot = claudeRoot
			caps[eng] = c
		}
	}

	loader := history.NewLoader(caps)
	return &bridgeFixture{
		bridge:     NewBridge(caps, config.BridgeConfig{}, loader, st),
		store:      st,
		claudeRoot: claudeRoot,
	}
}

// writeTurns writes a claude transcript with alternating user/assistant turns
// of the given contents.
func (f *bridgeFixture) writeTurns(t *testing.T, sessionID string, contents []string) {
	t.Helper()
	dir := filepath.Join(f.claudeRoot, history.WorkspaceDirName("/ws"))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var sb strings.Builder
	for i, text := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		fmt.Fprintf(&sb,
			`{"type":%q,"timestamp":%q,"message":{"role":%q,"content":[{"type":"text","text":%q}]}}`+"\n",
			role, base.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), role, text)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
}

func defaultCaps() map[types.Engine]types.EngineCaps {
	return map[types.Engine]types.EngineCaps{
		types.EngineClaude: {FileBacked: true, MaxContextTokens: 180000},
		types.EngineCodex:  {FileBacked: true, MaxContextTokens: 128000, CodeOnlyCompression: true},
		types.EngineGemini: {MaxContextTokens: 100000, PrefersSummaryOverHistory: true},
	}
}

func TestEngineSwitchBuildsHandoff(t *testing.T) {
	caps := defaultCaps()
	// Small target context so the token accounting is meaningful.
	caps[types.EngineCodex] = types.EngineCaps{FileBacked: true, MaxContextTokens: 3000}
	f := newBridgeFixture(t, caps)

	turn := strings.Repeat("progress notes ", 50) // ~190 tokens
	f.writeTurns(t, "claude-sess", []string{turn, turn, turn})
	_, err := f.store.UpsertSummary(&types.ConversationSummary{
		ConversationID: "conv-1",
		ShortSummary:   "Migrating the deploy script to bash",
		LongSummary:    "Long form of the migration discussion",
		KeyDecisions:   []string{"keep systemd units", "drop python2"},
		FilesModified:  []string{"deploy.sh"},
	})
	require.NoError(t, err)

	res, err := f.bridge.BuildContext(context.Background(), Request{
		ConversationID:   "conv-1",
		FromEngine:       types.EngineClaude,
		ToEngine:         types.EngineCodex,
		HistorySessionID: "claude-sess",
		HistoryEngine:    types.EngineClaude,
		WorkspacePath:    "/ws",
		UserMessage:      "continue with the rollback path",
	})
	require.NoError(t, err)

	assert.True(t, res.IsEngineBridge)
	assert.Equal(t, SourceHandoff, res.ContextSource)
	assert.Contains(t, res.Prompt, "claude")
	assert.Contains(t, res.Prompt, "codex")
	assert.Contains(t, res.Prompt, "Migrating the deploy script to bash")
	assert.Contains(t, res.Prompt, "keep systemd units")
	assert.True(t, strings.HasSuffix(res.Prompt, "continue with the rollback path"))
	assert.Less(t, res.TotalTokens, 3000)
}

func TestOversizedMessagePassesThrough(t *testing.T) {
	caps := defaultCaps()
	caps[types.EngineCodex] = types.EngineCaps{FileBacked: true, MaxContextTokens: 3000}
	f := newBridgeFixture(t, caps)
	f.writeTurns(t, "sess", []string{"earlier turn"})

	// ~5000 tokens of user message against a 3000-token engine.
	huge := strings.Repeat("x", 20000)
	res, err := f.bridge.BuildContext(context.Background(), Request{
		ConversationID:   "conv-1",
		ToEngine:         types.EngineCodex,
		HistorySessionID: "sess",
		HistoryEngine:    types.EngineClaude,
		WorkspacePath:    "/ws",
		UserMessage:      huge,
	})
	require.NoError(t, err)

	assert.Equal(t, huge, res.Prompt)
	assert.Equal(t, SourceNone, res.ContextSource)
	assert.Zero(t, res.ContextTokens)
	assert.False(t, res.IsEngineBridge)
}

func TestWindowRespectsBudget(t *testing.T) {
	caps := defaultCaps()
	caps[types.EngineClaude] = types.EngineCaps{FileBacked: true, MaxContextTokens: 1000}
	f := newBridgeFixture(t, caps)

	// Far more history than a 1000-token engine can hold.
	turns := make([]string, 40)
	for i := range turns {
		turns[i] = fmt.Sprintf("turn %02d %s", i, strings.Repeat("words ", 30))
	}
	f.writeTurns(t, "sess", turns)

	res, err := f.bridge.BuildContext(context.Background(), Request{
		ConversationID:   "conv-1",
		FromEngine:       types.EngineClaude,
		ToEngine:         types.EngineClaude,
		HistorySessionID: "sess",
		WorkspacePath:    "/ws",
		UserMessage:      "short question",
	})
	require.NoError(t, err)

	assert.Equal(t, SourceHistory, res.ContextSource)
	assert.False(t, res.IsEngineBridge)
	assert.LessOrEqual(t, res.TotalTokens, 1000)
	// The newest turns win the budget.
	assert.Contains(t, res.Prompt, "turn 39")
	assert.NotContains(t, res.Prompt, "turn 00")
	assert.Contains(t, res.Prompt, "## Earlier conversation")
}

func TestHandoffFallsBackToWindow(t *testing.T) {
	caps := defaultCaps()
	// Budget of ~178 tokens after margin; the summary alone exceeds it.
	caps[types.EngineCodex] = types.EngineCaps{FileBacked: true, MaxContextTokens: 700}
	f := newBridgeFixture(t, caps)

	f.writeTurns(t, "sess", []string{"short question", "short answer"})
	_, err := f.store.UpsertSummary(&types.ConversationSummary{
		ConversationID: "conv-1",
		ShortSummary:   strings.Repeat("dense summary text ", 110), // ~520 tokens
		LongSummary:    "l",
	})
	require.NoError(t, err)

	res, err := f.bridge.BuildContext(context.Background(), Request{
		ConversationID:   "conv-1",
		FromEngine:       types.EngineClaude,
		ToEngine:         types.EngineCodex,
		HistorySessionID: "sess",
		HistoryEngine:    types.EngineClaude,
		WorkspacePath:    "/ws",
		UserMessage:      "go on",
	})
	require.NoError(t, err)

	assert.True(t, res.IsEngineBridge)
	assert.Equal(t, SourceHandoffFallback, res.ContextSource)
	assert.NotContains(t, res.Prompt, "dense summary text")
	assert.Contains(t, res.Prompt, "short answer")
	assert.LessOrEqual(t, res.TotalTokens, 700)
}

func TestSummaryPreferredOverHistory(t *testing.T) {
	f := newBridgeFixture(t, defaultCaps())

	long := "The user is building a deployment pipeline. Postgres was chosen over sqlite for the artifact index."
	_, err := f.store.UpsertSummary(&types.ConversationSummary{
		ConversationID: "conv-1",
		ShortSummary:   "deployment pipeline work",
		LongSummary:    long,
	})
	require.NoError(t, err)

	res, err := f.bridge.BuildContext(context.Background(), Request{
		ConversationID: "conv-1",
		FromEngine:     types.EngineGemini,
		ToEngine:       types.EngineGemini,
		UserMessage:    "what did we decide on the index?",
	})
	require.NoError(t, err)

	assert.Equal(t, SourceSummary, res.ContextSource)
	assert.True(t, strings.HasPrefix(res.Prompt, long))
	assert.False(t, res.IsEngineBridge)
}

func TestNoHistoryNoSummaryNoContext(t *testing.T) {
	f := newBridgeFixture(t, defaultCaps())

	res, err := f.bridge.BuildContext(context.Background(), Request{
		ConversationID:   "conv-1",
		ToEngine:         types.EngineClaude,
		HistorySessionID: "never-used",
		WorkspacePath:    "/ws",
		UserMessage:      "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", res.Prompt)
	assert.Equal(t, SourceNone, res.ContextSource)
}

func TestCodeOnlyCompression(t *testing.T) {
	f := newBridgeFixture(t, defaultCaps())

	assistant := "Here is the fix, with some explanation around it.\n" +
		"```go\nfunc main() { fmt.Println(\"ok\") }\n```\n" +
		"Let me know if the build passes."
	f.writeTurns(t, "sess", []string{"please fix main", assistant})

	res, err := f.bridge.BuildContext(context.Background(), Request{
		ConversationID:   "conv-1",
		FromEngine:       types.EngineCodex,
		ToEngine:         types.EngineCodex,
		HistorySessionID: "sess",
		HistoryEngine:    types.EngineClaude,
		WorkspacePath:    "/ws",
		UserMessage:      "now add tests",
	})
	require.NoError(t, err)

	assert.Equal(t, SourceHistory, res.ContextSource)
	// Assistant prose is stripped to its fenced code; the user turn survives whole.
	assert.Contains(t, res.Prompt, `fmt.Println("ok")`)
	assert.NotContains(t, res.Prompt, "Let me know if the build passes")
	assert.Contains(t, res.Prompt, "please fix main")
}

func TestOversizedCodeTurnIsTruncated(t *testing.T) {
	caps := defaultCaps()
	caps[types.EngineCodex] = types.EngineCaps{FileBacked: true, MaxContextTokens: 3000, CodeOnlyCompression: true}
	f := newBridgeFixture(t, caps)

	// A single compressed turn whose fenced code alone would eat the whole
	// 3000-token budget. The per-turn ceiling has to cut it down so the
	// older turn still fits.
	hugeCode := "```go\n" + strings.Repeat("x", 20000) + "\n```"
	f.writeTurns(t, "sess", []string{"old question", hugeCode})

	res, err := f.bridge.BuildContext(context.Background(), Request{
		ConversationID:   "conv-1",
		FromEngine:       types.EngineCodex,
		ToEngine:         types.EngineCodex,
		HistorySessionID: "sess",
		HistoryEngine:    types.EngineClaude,
		WorkspacePath:    "/ws",
		UserMessage:      "keep going",
	})
	require.NoError(t, err)

	assert.Equal(t, SourceHistory, res.ContextSource)
	assert.Contains(t, res.Prompt, "old question")
	assert.Contains(t, res.Prompt, "```go")
	assert.NotContains(t, res.Prompt, strings.Repeat("x", 3000))
	assert.LessOrEqual(t, res.TotalTokens, 3000)
}

func TestUnknownEngineRejected(t *testing.T) {
	f := newBridgeFixture(t, defaultCaps())

	_, err := f.bridge.BuildContext(context.Background(), Request{
		ConversationID: "conv-1",
		ToEngine:       "cursor",
		UserMessage:    "hi",
	})
	require.Error(t, err)
}

func TestExtractFencedCode(t *testing.T) {
	t.Run("single block", func(t *testing.T) {
		got := extractFencedCode("before\n```py\nprint(1)\n```\nafter")
		assert.Equal(t, "```py\nprint(1)\n```", got)
	})
	t.Run("multiple blocks joined", func(t *testing.T) {
		got := extractFencedCode("```\na\n```\ntext\n```\nb\n```")
		assert.Equal(t, "```\na\n```\n\n```\nb\n```", got)
	})
	t.Run("unterminated fence ignored", func(t *testing.T) {
		assert.Equal(t, "", extractFencedCode("open ``` and never closed"))
	})
	t.Run("no fences", func(t *testing.T) {
		assert.Equal(t, "", extractFencedCode("plain prose"))
	})
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes per rune
	got := truncate(s, 5)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.True(t, strings.HasPrefix(got, "éé"))
	for _, r := range got {
		assert.NotEqual(t, '�', r)
	}

	assert.Equal(t, "short", truncate("short", 100))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
	// Rune-counted, not byte-counted.
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("é", 100)))
}
