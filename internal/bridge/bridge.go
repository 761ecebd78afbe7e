// Package bridge decides, per request, how much prior conversation an engine
// gets to see: native resume, a stored summary, a token-windowed history
// replay, or a structured handoff block when the conversation switches
// engines.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"switchboard/internal/config"
	"switchboard/internal/history"
	"switchboard/internal/logging"
	"switchboard/internal/store"
	"switchboard/internal/types"
)

// Source names the strategy that produced the context block.
type Source string

const (
	// SourceNone means the bare user message was sent (native resume, no
	// history, or no budget).
	SourceNone Source = "none"
	// SourceSummary means the stored summary was used verbatim.
	SourceSummary Source = "summary"
	// SourceHistory means a token-windowed raw-history replay.
	SourceHistory Source = "history"
	// SourceHandoff means the structured engine-switch handoff block.
	SourceHandoff Source = "handoff"
	// SourceHandoffFallback means the handoff block exceeded budget and a
	// token-windowed replay was sent instead.
	SourceHandoffFallback Source = "handoff_fallback"
)

const promptSeparator = "\n\n---\n\n"

// Request describes one exchange about to be sent to an engine.
type Request struct {
	ConversationID string
	// FromEngine is the engine that handled the previous exchange, empty when
	// unknown (fresh conversation).
	FromEngine types.Engine
	ToEngine   types.Engine
	// HistorySessionID/HistoryEngine locate the transcript holding the prior
	// turns - on an engine switch that is the previous engine's session.
	// HistoryEngine defaults to ToEngine.
	HistorySessionID string
	HistoryEngine    types.Engine
	WorkspacePath    string
	UserMessage      string
}

// Result is the assembled prompt and how it was built.
type Result struct {
	Prompt         string
	IsEngineBridge bool
	ContextTokens  int
	ContextSource  Source
	TotalTokens    int
}

// Bridge assembles context-aware prompts under per-engine token budgets.
type Bridge struct {
	caps   map[types.Engine]types.EngineCaps
	cfg    config.BridgeConfig
	loader *history.Loader
	store  *store.LocalStore
}

// NewBridge creates a context bridge.
func NewBridge(caps map[types.Engine]types.EngineCaps, cfg config.BridgeConfig, loader *history.Loader, st *store.LocalStore) *Bridge {
	if cfg.SafetyMarginTokens <= 0 {
		cfg.SafetyMarginTokens = 512
	}
	if cfg.TurnCharCeiling <= 0 {
		cfg.TurnCharCeiling = 2000
	}
	if cfg.HandoffRecentTurns <= 0 {
		cfg.HandoffRecentTurns = 3
	}
	if cfg.HandoffTopN <= 0 {
		cfg.HandoffTopN = 3
	}
	return &Bridge{caps: caps, cfg: cfg, loader: loader, store: st}
}

// BuildContext selects a context strategy and assembles the final prompt.
// It never fails a request for lack of budget: when nothing fits, the bare
// user message is returned.
func (b *Bridge) BuildContext(ctx context.Context, req Request) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryBridge, "BuildContext")
	defer timer.Stop()

	if !req.ToEngine.Valid() {
		return nil, fmt.Errorf("build context: unknown engine %q", req.ToEngine)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.HistoryEngine == "" {
		req.HistoryEngine = req.ToEngine
	}

	caps := b.caps[req.ToEngine]
	userTokens := EstimateTokens(req.UserMessage)
	budget := caps.MaxContextTokens - userTokens - b.cfg.SafetyMarginTokens
	if budget < 0 {
		budget = 0
	}

	isBridge := req.FromEngine != "" && req.FromEngine != req.ToEngine

	res := &Result{
		Prompt:         req.UserMessage,
		IsEngineBridge: isBridge,
		ContextSource:  SourceNone,
		TotalTokens:    userTokens,
	}

	// Zero budget: skip context construction entirely, send the bare message.
	if budget == 0 {
		logging.Bridge("No budget for context: conversation=%s engine=%s user_tokens=%d",
			req.ConversationID, req.ToEngine, userTokens)
		return res, nil
	}

	summary, err := b.store.GetSummary(req.ConversationID)
	if err != nil {
		logging.Get(logging.CategoryBridge).Warn("Summary lookup failed for %s: %v", req.ConversationID, err)
		summary = nil
	}

	var block string
	var source Source

	switch {
	case isBridge:
		block = b.buildHandoff(req, summary)
		source = SourceHandoff
		if EstimateTokens(block) > budget {
			// Handoff too large for this engine: degrade to a raw window.
			block = b.buildWindow(req, caps, budget)
			source = SourceHandoffFallback
		}
	case caps.PrefersSummaryOverHistory && summary != nil:
		block = summary.LongSummary
		source = SourceSummary
		if block == "" || EstimateTokens(block) > budget {
			block = b.buildWindow(req, caps, budget)
			source = SourceHistory
		}
	default:
		block = b.buildWindow(req, caps, budget)
		source = SourceHistory
	}

	if block == "" {
		logging.BridgeDebug("Empty context block: conversation=%s source=%s", req.ConversationID, source)
		return res, nil
	}

	res.Prompt = block + promptSeparator + req.UserMessage
	res.ContextSource = source
	res.ContextTokens = EstimateTokens(block)
	res.TotalTokens = res.ContextTokens + userTokens

	logging.Bridge("Context built: conversation=%s engine=%s source=%s context_tokens=%d total_tokens=%d bridge=%v",
		req.ConversationID, req.ToEngine, source, res.ContextTokens, res.TotalTokens, isBridge)
	return res, nil
}

// =============================================================================
// HANDOFF BLOCK
// =============================================================================

// buildHandoff builds the structured block a new engine reads after a switch:
// header naming both engines, the latest stored summary if any, and the last
// few raw turns.
func (b *Bridge) buildHandoff(req Request, summary *types.ConversationSummary) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## Engine handoff: %s -> %s\n", req.FromEngine, req.ToEngine)
	sb.WriteString("The conversation so far was handled by another assistant. Continue it seamlessly.\n")

	if summary != nil {
		if summary.ShortSummary != "" {
			sb.WriteString("\n### Summary\n")
			sb.WriteString(summary.ShortSummary)
			sb.WriteString("\n")
		}
		if len(summary.KeyDecisions) > 0 {
			sb.WriteString("\n### Key decisions\n")
			for _, d := range topN(summary.KeyDecisions, b.cfg.HandoffTopN) {
				fmt.Fprintf(&sb, "- %s\n", d)
			}
		}
		if len(summary.FilesModified) > 0 {
			sb.WriteString("\n### Modified files\n")
			for _, f := range topN(summary.FilesModified, b.cfg.HandoffTopN) {
				fmt.Fprintf(&sb, "- %s\n", f)
			}
		}
	}

	turns := b.recentTurns(req, b.cfg.HandoffRecentTurns)
	if len(turns) > 0 {
		sb.WriteString("\n### Recent turns\n")
		for _, m := range turns {
			fmt.Fprintf(&sb, "[%s] %s\n", m.Role, truncate(m.Content, b.cfg.TurnCharCeiling))
		}
	}

	return strings.TrimSpace(sb.String())
}

func (b *Bridge) recentTurns(req Request, n int) []types.Message {
	if req.HistorySessionID == "" {
		return nil
	}
	page, err := b.loader.LoadMessages(history.LoadParams{
		SessionID:     req.HistorySessionID,
		Engine:        req.HistoryEngine,
		WorkspacePath: req.WorkspacePath,
		Limit:         n,
	})
	if err != nil {
		logging.Get(logging.CategoryBridge).Warn("History load failed for %s: %v", req.HistorySessionID, err)
		return nil
	}
	return page.Messages
}

// =============================================================================
// TOKEN-WINDOWED HISTORY
// =============================================================================

// buildWindow replays raw history newest-to-oldest until the budget is spent.
// Assistant turns are compressed to their fenced code blocks when the engine
// asks for it and code is present; otherwise turns are truncated, never
// dropped, so continuity survives. User turns are never compressed.
func (b *Bridge) buildWindow(req Request, caps types.EngineCaps, budget int) string {
	if req.HistorySessionID == "" || budget <= 0 {
		return ""
	}

	page, err := b.loader.LoadMessages(history.LoadParams{
		SessionID:     req.HistorySessionID,
		Engine:        req.HistoryEngine,
		WorkspacePath: req.WorkspacePath,
		Limit:         200,
		Order:         history.OrderDesc,
	})
	if err != nil {
		logging.Get(logging.CategoryBridge).Warn("History load failed for %s: %v", req.HistorySessionID, err)
		return ""
	}
	if len(page.Messages) == 0 {
		return ""
	}

	used := 0
	var window []string // built newest-first, reversed at the end
	for _, m := range page.Messages {
		content := m.Content
		if m.Role == types.RoleAssistant && caps.CodeOnlyCompression {
			if code := extractFencedCode(content); code != "" {
				content = code
			}
		}
		// The per-turn ceiling is unconditional: compressed turns can still
		// carry more code than one turn is allowed to spend.
		content = truncate(content, b.cfg.TurnCharCeiling)

		line := fmt.Sprintf("[%s] %s", m.Role, content)
		cost := EstimateTokens(line) + 1 // +1 for the joining newline
		if used+cost > budget {
			break
		}
		used += cost
		window = append(window, line)
	}
	if len(window) == 0 {
		return ""
	}

	// Reverse into chronological order.
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	return "## Earlier conversation\n" + strings.Join(window, "\n")
}

// =============================================================================
// HELPERS
// =============================================================================

// extractFencedCode returns the fenced code blocks of a message joined by
// blank lines, or "" when the message contains no complete fence.
func extractFencedCode(s string) string {
	var blocks []string
	rest := s
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start+3:], "```")
		if end < 0 {
			break
		}
		blocks = append(blocks, rest[start:start+3+end+3])
		rest = rest[start+3+end+3:]
	}
	return strings.Join(blocks, "\n\n")
}

// truncate cuts a string to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func topN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
