package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"switchboard/internal/logging"
	"switchboard/internal/types"
)

// =============================================================================
// CONVERSATION SUMMARIES (versioned, upsert-only)
// =============================================================================

// UpsertSummary writes the summary for a conversation, incrementing the
// version on every successful write. The version never resets or decreases;
// a new generation supersedes the prior one in place.
// Returns the version assigned to this write.
func (s *LocalStore) UpsertSummary(sum *types.ConversationSummary) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertSummary")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	decisions, err := json.Marshal(emptyIfNil(sum.KeyDecisions))
	if err != nil {
		return 0, fmt.Errorf("marshal key decisions: %w", err)
	}
	tools, err := json.Marshal(emptyIfNil(sum.ToolsUsed))
	if err != nil {
		return 0, fmt.Errorf("marshal tools: %w", err)
	}
	files, err := json.Marshal(emptyIfNil(sum.FilesModified))
	if err != nil {
		return 0, fmt.Errorf("marshal files: %w", err)
	}

	now := sum.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var version int
	err = s.db.QueryRow(
		`INSERT INTO conversation_summaries
		 (conversation_id, summary_short, summary_long, key_decisions, tools_used, files_modified, version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET
			summary_short  = excluded.summary_short,
			summary_long   = excluded.summary_long,
			key_decisions  = excluded.key_decisions,
			tools_used     = excluded.tools_used,
			files_modified = excluded.files_modified,
			version        = conversation_summaries.version + 1,
			updated_at     = excluded.updated_at
		 RETURNING version`,
		sum.ConversationID, sum.ShortSummary, sum.LongSummary,
		string(decisions), string(tools), string(files), now,
	).Scan(&version)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to upsert summary for %s: %v", sum.ConversationID, err)
		return 0, fmt.Errorf("upsert summary: %w", err)
	}

	logging.SummaryDebug("Summary persisted: conversation=%s version=%d", sum.ConversationID, version)
	return version, nil
}

// GetSummary returns the latest summary for a conversation, or (nil, nil)
// when none has been generated yet.
func (s *LocalStore) GetSummary(conversationID string) (*types.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum types.ConversationSummary
	var decisions, tools, files string
	err := s.db.QueryRow(
		`SELECT conversation_id, summary_short, summary_long, key_decisions,
		        tools_used, files_modified, version, updated_at
		 FROM conversation_summaries WHERE conversation_id = ?`,
		conversationID,
	).Scan(&sum.ConversationID, &sum.ShortSummary, &sum.LongSummary,
		&decisions, &tools, &files, &sum.Version, &sum.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get summary %s: %w", conversationID, err)
	}

	// List columns are stored as JSON text; tolerate hand-edited rows.
	if err := json.Unmarshal([]byte(decisions), &sum.KeyDecisions); err != nil {
		sum.KeyDecisions = nil
	}
	if err := json.Unmarshal([]byte(tools), &sum.ToolsUsed); err != nil {
		sum.ToolsUsed = nil
	}
	if err := json.Unmarshal([]byte(files), &sum.FilesModified); err != nil {
		sum.FilesModified = nil
	}
	return &sum, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
