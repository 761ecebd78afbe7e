// Package types provides shared type definitions used across switchboard packages.
// This package exists to break import cycles between registry, history, bridge,
// and summary. Types in this package should be foundational data structures
// with no complex dependencies.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// ENGINES
// =============================================================================

// Engine identifies one external AI command-line backend.
type Engine string

const (
	// EngineClaude persists transcripts as <sessionID>.jsonl under a
	// workspace-derived project directory.
	EngineClaude Engine = "claude"

	// EngineCodex persists transcripts under a dated directory tree
	// (sessions/YYYY/MM/DD/rollout-<ts>-<sessionID>.jsonl).
	EngineCodex Engine = "codex"

	// EngineGemini owns a native resumable thread id and exposes no
	// discoverable transcript file.
	EngineGemini Engine = "gemini"
)

// AllEngines returns the closed set of supported engines.
func AllEngines() []Engine {
	return []Engine{EngineClaude, EngineCodex, EngineGemini}
}

// Valid reports whether e is a known engine.
func (e Engine) Valid() bool {
	switch e {
	case EngineClaude, EngineCodex, EngineGemini:
		return true
	}
	return false
}

// ParseEngine converts a user-supplied engine name into an Engine.
func ParseEngine(s string) (Engine, error) {
	e := Engine(s)
	if !e.Valid() {
		return "", fmt.Errorf("unknown engine %q (known: claude, codex, gemini)", s)
	}
	return e, nil
}

// =============================================================================
// NORMALIZED MESSAGES
// =============================================================================

// Role is the normalized speaker role of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Usage carries optional token accounting reported by an engine.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Message is the normalized shape every engine transcript record is
// flattened into. Content is plain text; block/part array encodings are
// newline-joined during parsing.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Engine    Engine    `json:"engine"`
	CreatedAt time.Time `json:"created_at"`
	Model     string    `json:"model,omitempty"`
	Usage     *Usage    `json:"usage,omitempty"`
}

// =============================================================================
// SESSIONS
// =============================================================================

// EngineSession is the durable row binding a (conversation, engine) pair to
// a concrete engine session. At most one row exists per pair.
type EngineSession struct {
	ID             string
	ConversationID string
	Engine         Engine
	WorkspacePath  string
	NativeThreadID string
	Title          string
	CreatedAt      time.Time
	LastUsedAt     time.Time
}

// SessionDescriptor describes one engine-native session discovered on disk.
type SessionDescriptor struct {
	Engine    Engine
	SessionID string
	Path      string
	ModTime   time.Time
	Size      int64
}

// =============================================================================
// SUMMARIES
// =============================================================================

// ConversationSummary is the compact synopsis + structured facts the bridge
// consumes on engine switches. Version only ever increases.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	ShortSummary   string    `json:"summary_short"`
	LongSummary    string    `json:"summary_long"`
	KeyDecisions   []string  `json:"key_decisions"`
	ToolsUsed      []string  `json:"tools_used"`
	FilesModified  []string  `json:"files_modified"`
	Version        int       `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// =============================================================================
// ENGINE CAPABILITIES
// =============================================================================

// EngineCaps declares the context behavior of one engine. The bridge reads
// these to pick a replay strategy; the registry and loader read SessionRoot
// and FileBacked to locate native state.
type EngineCaps struct {
	MaxContextTokens          int
	PrefersSummaryOverHistory bool
	CodeOnlyCompression       bool
	// FileBacked engines persist a discoverable transcript file under
	// SessionRoot. Thread-backed engines only have the durable row.
	FileBacked  bool
	SessionRoot string
}
