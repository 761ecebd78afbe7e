// Package summary produces and persists compact conversation synopses for
// the context bridge. Generation is asynchronous and best-effort: failures
// are logged, never surfaced to the request path.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"switchboard/internal/config"
	"switchboard/internal/logging"
	"switchboard/internal/store"
	"switchboard/internal/types"
)

// ParseError indicates the model's response did not contain a usable JSON
// document. Callers on the async path log it and move on.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "summary parse error: " + e.Reason
}

// stringList tolerates the model returning a bare string where a list was
// asked for: the string becomes a single-element list.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*l = nil
		} else {
			*l = []string{s}
		}
		return nil
	}
	return fmt.Errorf("neither array nor string")
}

// payload is the bounded JSON document asked of the model.
type payload struct {
	SummaryShort  string     `json:"summary_short"`
	SummaryLong   string     `json:"summary_long"`
	KeyDecisions  stringList `json:"key_decisions"`
	ToolsUsed     stringList `json:"tools_used"`
	FilesModified stringList `json:"files_modified"`
}

const promptTemplate = `Summarize the following conversation for continuity across AI assistants.
Respond with exactly one JSON object, no prose around it:
{
  "summary_short": "<= 80 words, the current state of the work",
  "summary_long": "<= 200 words, task, approach, progress, open issues",
  "key_decisions": ["up to 5 decisions made and why"],
  "tools_used": ["tool or command names that appeared"],
  "files_modified": ["file paths that were changed"]
}

Conversation:
%s`

// SummaryStore generates and persists versioned conversation summaries.
type SummaryStore struct {
	store *store.LocalStore
	gen   Generator
	cfg   config.SummaryConfig
}

// NewSummaryStore creates a summary store over the given generator.
func NewSummaryStore(st *store.LocalStore, gen Generator, cfg config.SummaryConfig) *SummaryStore {
	if cfg.WindowTurns <= 0 {
		cfg.WindowTurns = 30
	}
	if cfg.WindowCharCap <= 0 {
		cfg.WindowCharCap = 24000
	}
	return &SummaryStore{store: st, gen: gen, cfg: cfg}
}

// GenerateAndSave asks the model for a summary of the most recent turns and
// upserts it. The stored version increments on every successful write.
func (s *SummaryStore) GenerateAndSave(ctx context.Context, conversationID string, messages []types.Message) (*types.ConversationSummary, error) {
	timer := logging.StartTimer(logging.CategorySummary, "GenerateAndSave")
	defer timer.Stop()

	if conversationID == "" {
		return nil, fmt.Errorf("generate summary: conversation id required")
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("generate summary: no messages")
	}

	prompt := s.buildPrompt(messages)

	raw, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	p, err := parsePayload(raw)
	if err != nil {
		return nil, err
	}

	sum := &types.ConversationSummary{
		ConversationID: conversationID,
		ShortSummary:   p.SummaryShort,
		LongSummary:    p.SummaryLong,
		KeyDecisions:   p.KeyDecisions,
		ToolsUsed:      p.ToolsUsed,
		FilesModified:  p.FilesModified,
	}

	version, err := s.store.UpsertSummary(sum)
	if err != nil {
		return nil, err
	}
	sum.Version = version

	logging.Summary("Summary generated: conversation=%s version=%d", conversationID, version)
	return sum, nil
}

// GetSummary returns the latest stored summary, or (nil, nil) if none.
func (s *SummaryStore) GetSummary(conversationID string) (*types.ConversationSummary, error) {
	return s.store.GetSummary(conversationID)
}

// buildPrompt renders the most recent turns into the prompt, respecting the
// hard character cap on the concatenated transcript (oldest turns are the
// ones sacrificed).
func (s *SummaryStore) buildPrompt(messages []types.Message) string {
	start := 0
	if len(messages) > s.cfg.WindowTurns {
		start = len(messages) - s.cfg.WindowTurns
	}
	window := messages[start:]

	var lines []string
	for _, m := range window {
		lines = append(lines, fmt.Sprintf("[%s] %s", m.Role, m.Content))
	}
	transcript := strings.Join(lines, "\n")
	if len(transcript) > s.cfg.WindowCharCap {
		transcript = transcript[len(transcript)-s.cfg.WindowCharCap:]
	}
	return fmt.Sprintf(promptTemplate, transcript)
}

// parsePayload defensively extracts the JSON object from the model's raw
// text: everything from the first '{' to the last '}' is parsed; list fields
// returned as bare strings are coerced to single-element lists.
func parsePayload(raw string) (*payload, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, &ParseError{Reason: "no JSON object in model response"}
	}

	var p payload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &p); err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	if p.SummaryShort == "" && p.SummaryLong == "" {
		return nil, &ParseError{Reason: "model response missing both summaries"}
	}
	return &p, nil
}
