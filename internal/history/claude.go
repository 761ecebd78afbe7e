package history

import (
	"bufio"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"switchboard/internal/logging"
	"switchboard/internal/types"
)

// claudeParser reads claude transcripts: one <sessionID>.jsonl per session,
// stored under a directory derived from the workspace path.
type claudeParser struct{}

// claudeRecord is one transcript line. Only user/assistant records carry a
// message; everything else (summary, system, queue records) is bookkeeping.
type claudeRecord struct {
	Type      string          `json:"type"`
	UUID      string          `json:"uuid"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
}

// claudeMessage holds the vendor message envelope. Content is either a bare
// string or an array of typed blocks.
type claudeMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *claudeUsage    `json:"usage"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// WorkspaceDirName maps a workspace path to claude's project directory name:
// every path separator and dot becomes a dash. The mapping is deterministic
// and one-way.
func WorkspaceDirName(workspacePath string) string {
	name := strings.ReplaceAll(workspacePath, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	name = strings.ReplaceAll(name, ".", "-")
	return name
}

// FindClaudeTranscript locates the transcript for a session id anywhere under
// the session root. The workspace-derived directory is probed first; on a
// miss the whole root is scanned, because a session id may have been
// associated with a different workspace historically.
// Returns "" when no file exists; absence is a normal state.
func FindClaudeTranscript(root, sessionID, workspacePath string) string {
	if root == "" || sessionID == "" {
		return ""
	}

	filename := sessionID + ".jsonl"

	if workspacePath != "" {
		expected := filepath.Join(root, WorkspaceDirName(workspacePath), filename)
		if info, err := os.Stat(expected); err == nil && !info.IsDir() {
			return expected
		}
	}

	// Full scan of the session root. Deliberate correctness-over-speed
	// tradeoff: sessions move workspaces.
	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if found != "" {
			return filepath.SkipAll
		}
		if !d.IsDir() && d.Name() == filename {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

func (claudeParser) load(root, sessionID, workspacePath string) ([]types.Message, error) {
	path := FindClaudeTranscript(root, sessionID, workspacePath)
	if path == "" {
		return nil, nil
	}
	return parseClaudeFile(path)
}

func parseClaudeFile(path string) ([]types.Message, error) {
	file, err := os.Open(path)
	if err != nil {
		// The file disappeared between discovery and open; treat as empty.
		logging.HistoryDebug("Claude transcript vanished: %s: %v", path, err)
		return nil, nil
	}
	defer file.Close()

	var msgs []types.Message

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec claudeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// Malformed lines are skipped; the rest of the file still parses.
			continue
		}
		if rec.Type != "user" && rec.Type != "assistant" {
			continue
		}

		var msg claudeMessage
		if err := json.Unmarshal(rec.Message, &msg); err != nil {
			continue
		}

		content := flattenClaudeContent(msg.Content)
		if content == "" {
			// Pure tool_use / tool_result records carry no conversational text.
			continue
		}

		role := types.Role(msg.Role)
		if role != types.RoleUser && role != types.RoleAssistant && role != types.RoleSystem {
			continue
		}

		out := types.Message{
			ID:        rec.UUID,
			Role:      role,
			Content:   content,
			Engine:    types.EngineClaude,
			CreatedAt: parseTimestamp(rec.Timestamp),
			Model:     msg.Model,
		}
		if msg.Usage != nil {
			out.Usage = &types.Usage{
				InputTokens:  msg.Usage.InputTokens,
				OutputTokens: msg.Usage.OutputTokens,
			}
		}
		msgs = append(msgs, out)
	}
	if err := scanner.Err(); err != nil {
		logging.Get(logging.CategoryHistory).Warn("Scan aborted for %s: %v", path, err)
	}
	return msgs, nil
}

// flattenClaudeContent joins text blocks with newlines. Content may be a
// bare string or an array of typed blocks; non-text blocks are dropped.
func flattenClaudeContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}

	var blocks []claudeBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}

	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// parseTimestamp parses RFC3339 timestamps (with or without fractional
// seconds), returning the zero time for anything unparseable.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
