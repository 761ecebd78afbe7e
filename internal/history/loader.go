// Package history turns each engine's on-disk transcript format into a
// normalized, paginated message sequence. Files are streamed line by line;
// malformed lines are skipped; engine bookkeeping records are discarded.
package history

import (
	"fmt"
	"sort"
	"time"

	"switchboard/internal/logging"
	"switchboard/internal/types"
)

// Order controls the ordering of a returned page.
type Order string

const (
	// OrderAsc returns the page oldest-first (chronological). Default.
	OrderAsc Order = "asc"
	// OrderDesc returns the page newest-first.
	OrderDesc Order = "desc"
)

// LoadParams identifies one transcript and the requested page.
type LoadParams struct {
	SessionID     string
	Engine        types.Engine
	WorkspacePath string
	Limit         int
	// Before, when non-zero, keeps only messages strictly older than it.
	Before time.Time
	Order  Order
}

// Pagination describes the position of a page within the full transcript.
type Pagination struct {
	HasMore         bool
	OldestTimestamp time.Time
	Total           int
}

// Page is one page of normalized messages.
type Page struct {
	Messages   []types.Message
	Pagination Pagination
}

// parser converts one engine's transcript into normalized messages.
// Implementations resolve the physical file(s) themselves because filename
// conventions differ per engine.
type parser interface {
	// load returns every user/assistant turn of the session, unordered.
	// A missing transcript yields (nil, nil): a brand-new session has no
	// history yet.
	load(root, sessionID, workspacePath string) ([]types.Message, error)
}

// parsers is the closed dispatch table. Engines without a discoverable
// transcript file (gemini) are deliberately absent: their history lives in
// the engine's own resumable thread.
var parsers = map[types.Engine]parser{
	types.EngineClaude: claudeParser{},
	types.EngineCodex:  codexParser{},
}

// Loader loads normalized message pages for any engine.
type Loader struct {
	caps map[types.Engine]types.EngineCaps
}

// NewLoader creates a loader over the resolved engine capability table.
func NewLoader(caps map[types.Engine]types.EngineCaps) *Loader {
	return &Loader{caps: caps}
}

// LoadMessages loads one page of normalized history for a session.
func (l *Loader) LoadMessages(p LoadParams) (*Page, error) {
	timer := logging.StartTimer(logging.CategoryHistory, "LoadMessages")
	defer timer.Stop()

	if !p.Engine.Valid() {
		return nil, fmt.Errorf("load messages: unknown engine %q", p.Engine)
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Order == "" {
		p.Order = OrderAsc
	}

	eng, ok := parsers[p.Engine]
	if !ok {
		// Thread-backed engine: nothing to replay from disk.
		logging.HistoryDebug("No transcript parser for %s, returning empty page", p.Engine)
		return &Page{}, nil
	}

	caps := l.caps[p.Engine]
	msgs, err := eng.load(caps.SessionRoot, p.SessionID, p.WorkspacePath)
	if err != nil {
		return nil, err
	}
	logging.HistoryDebug("Parsed %d turns: session=%s engine=%s", len(msgs), p.SessionID, p.Engine)

	return paginate(msgs, p), nil
}

// paginate sorts candidates newest-first, applies the cursor, takes the page,
// and re-orders it chronologically unless descending was requested.
func paginate(msgs []types.Message, p LoadParams) *Page {
	total := len(msgs)

	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})

	if !p.Before.IsZero() {
		filtered := msgs[:0]
		for _, m := range msgs {
			if m.CreatedAt.Before(p.Before) {
				filtered = append(filtered, m)
			}
		}
		msgs = filtered
	}

	hasMore := len(msgs) > p.Limit
	if hasMore {
		msgs = msgs[:p.Limit]
	}

	page := &Page{
		Messages: msgs,
		Pagination: Pagination{
			HasMore: hasMore,
			Total:   total,
		},
	}
	if len(msgs) > 0 {
		// Page is newest-first here, so the oldest entry is last.
		page.Pagination.OldestTimestamp = msgs[len(msgs)-1].CreatedAt
	}

	if p.Order == OrderAsc {
		for i, j := 0, len(page.Messages)-1; i < j; i, j = i+1, j-1 {
			page.Messages[i], page.Messages[j] = page.Messages[j], page.Messages[i]
		}
	}
	return page
}
