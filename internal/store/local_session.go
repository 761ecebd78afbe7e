package store

import (
	"database/sql"
	"fmt"
	"time"

	"switchboard/internal/logging"
	"switchboard/internal/types"
)

// =============================================================================
// ENGINE SESSION ROWS
// =============================================================================

const sessionColumns = `id, conversation_id, engine, workspace_path, native_thread_id, title, created_at, last_used_at`

func scanSession(row interface{ Scan(...interface{}) error }) (*types.EngineSession, error) {
	var sess types.EngineSession
	var engine string
	err := row.Scan(&sess.ID, &sess.ConversationID, &engine, &sess.WorkspacePath,
		&sess.NativeThreadID, &sess.Title, &sess.CreatedAt, &sess.LastUsedAt)
	if err != nil {
		return nil, err
	}
	sess.Engine = types.Engine(engine)
	return &sess, nil
}

// GetSession looks up a session row by its id.
// Returns (nil, nil) when no row exists; absence is a normal state.
func (s *LocalStore) GetSession(id string) (*types.EngineSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM engine_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// FindSession looks up the row for a (conversation, engine) pair.
// Returns (nil, nil) when no row exists.
func (s *LocalStore) FindSession(conversationID string, engine types.Engine) (*types.EngineSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM engine_sessions
		 WHERE conversation_id = ? AND engine = ?`,
		conversationID, string(engine))
	sess, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find session %s/%s: %w", conversationID, engine, err)
	}
	return sess, nil
}

// InsertSession inserts a new session row.
func (s *LocalStore) InsertSession(sess *types.EngineSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Inserting session: id=%s conversation=%s engine=%s",
		sess.ID, sess.ConversationID, sess.Engine)

	_, err := s.db.Exec(
		`INSERT INTO engine_sessions
		 (id, conversation_id, engine, workspace_path, native_thread_id, title, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ConversationID, string(sess.Engine), sess.WorkspacePath,
		sess.NativeThreadID, sess.Title, sess.CreatedAt, sess.LastUsedAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to insert session %s: %v", sess.ID, err)
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// TouchSession refreshes the last_used_at timestamp of a row.
func (s *LocalStore) TouchSession(id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE engine_sessions SET last_used_at = ? WHERE id = ?`, t, id)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", id, err)
	}
	return nil
}

// SetNativeThreadID records the engine-owned resumable thread id on a row.
func (s *LocalStore) SetNativeThreadID(id, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE engine_sessions SET native_thread_id = ? WHERE id = ?`, threadID, id)
	if err != nil {
		return fmt.Errorf("set native thread id on %s: %w", id, err)
	}
	return nil
}

// SetTitle updates the session title.
func (s *LocalStore) SetTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE engine_sessions SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("set title on %s: %w", id, err)
	}
	return nil
}

// DeleteSession removes a session row. Deleting a missing row is not an error.
func (s *LocalStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Deleting session row: id=%s", id)

	_, err := s.db.Exec(`DELETE FROM engine_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// ListSessionsByConversation returns all engine sessions for one conversation,
// most recently used first.
func (s *LocalStore) ListSessionsByConversation(conversationID string) ([]types.EngineSession, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListSessionsByConversation")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM engine_sessions
		 WHERE conversation_id = ?
		 ORDER BY last_used_at DESC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []types.EngineSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			continue
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// ListConversations returns the distinct conversation ids in the store with
// the title and last-used time of their most recent session.
func (s *LocalStore) ListConversations() ([]types.EngineSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT ` + sessionColumns + ` FROM engine_sessions
		 WHERE last_used_at = (
			SELECT MAX(last_used_at) FROM engine_sessions es2
			WHERE es2.conversation_id = engine_sessions.conversation_id
		 )
		 ORDER BY last_used_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []types.EngineSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			continue
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// DeleteConversation removes every session row and the summary for a
// conversation.
func (s *LocalStore) DeleteConversation(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.Session("Deleting conversation: %s", conversationID)

	if _, err := s.db.Exec(
		`DELETE FROM engine_sessions WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete conversation sessions %s: %w", conversationID, err)
	}
	if _, err := s.db.Exec(
		`DELETE FROM conversation_summaries WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete conversation summary %s: %w", conversationID, err)
	}
	return nil
}
