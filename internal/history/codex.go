package history

import (
	"bufio"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"switchboard/internal/logging"
	"switchboard/internal/types"
)

// codexParser reads codex rollout transcripts stored under a dated tree:
// <root>/YYYY/MM/DD/rollout-<ts>-<sessionID>.jsonl. The exact filename is
// never known up front (the timestamp segment is the engine's), so the tree
// is scanned for the session id suffix.
type codexParser struct{}

// codexRecord is one transcript line.
type codexRecord struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// codexPayload is the payload of a response_item record. Payload types other
// than "message" (reasoning, function_call, token_count, ...) are engine
// bookkeeping.
type codexPayload struct {
	Type    string      `json:"type"`
	Role    string      `json:"role"`
	Content []codexPart `json:"content"`
}

type codexPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// FindCodexTranscript scans the dated session tree for the rollout file of a
// session id. Returns "" when no file exists.
func FindCodexTranscript(root, sessionID string) string {
	if root == "" || sessionID == "" {
		return ""
	}

	suffix := "-" + sessionID + ".jsonl"
	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if found != "" {
			return filepath.SkipAll
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), "rollout-") && strings.HasSuffix(d.Name(), suffix) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

func (codexParser) load(root, sessionID, _ string) ([]types.Message, error) {
	path := FindCodexTranscript(root, sessionID)
	if path == "" {
		return nil, nil
	}
	return parseCodexFile(path)
}

func parseCodexFile(path string) ([]types.Message, error) {
	file, err := os.Open(path)
	if err != nil {
		logging.HistoryDebug("Codex transcript vanished: %s: %v", path, err)
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

		var rec codexRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Type != "response_item" {
			continue
		}

		var payload codexPayload
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			continue
		}
		if payload.Type != "message" {
			continue
		}

		role := normalizeCodexRole(payload.Role)
		if role == "" {
			continue
		}

		content := flattenCodexContent(payload.Content)
		if content == "" {
			continue
		}

		msgs = append(msgs, types.Message{
			Role:      role,
			Content:   content,
			Engine:    types.EngineCodex,
			CreatedAt: parseTimestamp(rec.Timestamp),
		})
	}
	if err := scanner.Err(); err != nil {
		logging.Get(logging.CategoryHistory).Warn("Scan aborted for %s: %v", path, err)
	}
	return msgs, nil
}

func normalizeCodexRole(role string) types.Role {
	switch role {
	case "user":
		return types.RoleUser
	case "assistant":
		return types.RoleAssistant
	case "system", "developer":
		return types.RoleSystem
	}
	return ""
}

// flattenCodexContent joins input_text/output_text parts with newlines.
func flattenCodexContent(parts []codexPart) string {
	var texts []string
	for _, p := range parts {
		if (p.Type == "input_text" || p.Type == "output_text" || p.Type == "text") && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n"))
}
