// Package registry resolves (conversation, engine) pairs to concrete engine
// session ids. It reconciles an in-memory cache against the durable store and
// the filesystem state the engines own, creating sessions lazily and purging
// rows whose backing native store no longer exists.
package registry

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"switchboard/internal/history"
	"switchboard/internal/logging"
	"switchboard/internal/store"
	"switchboard/internal/types"
)

// DefaultTitle is the title given to freshly minted sessions.
const DefaultTitle = "New Chat"

type cacheKey struct {
	conversationID string
	engine         types.Engine
}

type cacheEntry struct {
	sessionID string

	// pristine marks a session with no observed exchange yet. Its transcript
	// does not exist (the adapter writes it lazily), so a discovery miss must
	// not invalidate the entry. Cleared once the transcript appears.
	pristine bool

	lastAccess time.Time
}

// Registry maps (conversation, engine) to session ids. Construct with
// NewRegistry and release with Close; it is not ambient state.
type Registry struct {
	store *store.LocalStore
	caps  map[types.Engine]types.EngineCaps

	mu    sync.Mutex
	cache map[cacheKey]*cacheEntry

	// flight serializes concurrent Resolve calls per (conversation, engine)
	// key so two callers can never mint divergent rows.
	flight singleflight.Group

	ttl    time.Duration
	stopCh chan struct{}
	doneCh chan struct{}
}

// Result is the outcome of one Resolve call.
type Result struct {
	SessionID string
	IsNew     bool
}

// NewRegistry creates a registry and starts its cache eviction sweeper.
func NewRegistry(st *store.LocalStore, caps map[types.Engine]types.EngineCaps, ttl, sweepInterval time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}

	r := &Registry{
		store:  st,
		caps:   caps,
		cache:  make(map[cacheKey]*cacheEntry),
		ttl:    ttl,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go r.sweepLoop(sweepInterval)
	return r
}

// Close stops the eviction sweeper. The cache only ever holds derived state,
// so nothing is flushed.
func (r *Registry) Close() {
	close(r.stopCh)
	<-r.doneCh
}

// Resolve returns the session id backing a (conversation, engine) pair,
// minting a fresh one when no live session exists. Idempotent while the
// filesystem state does not change.
func (r *Registry) Resolve(ctx context.Context, conversationID string, engine types.Engine, workspacePath string) (Result, error) {
	if conversationID == "" {
		return Result{}, fmt.Errorf("resolve: conversation id required")
	}
	if !engine.Valid() {
		return Result{}, fmt.Errorf("resolve: unknown engine %q", engine)
	}

	// Quote the conversation id so an id containing the separator cannot
	// alias another pair's flight key.
	key := strconv.Quote(conversationID) + "|" + string(engine)
	v, err, _ := r.flight.Do(key, func() (interface{}, error) {
		return r.resolve(ctx, conversationID, engine, workspacePath)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (r *Registry) resolve(ctx context.Context, conversationID string, engine types.Engine, workspacePath string) (Result, error) {
	timer := logging.StartTimer(logging.CategorySession, "resolve")
	defer timer.StopWithThreshold(500 * time.Millisecond)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	key := cacheKey{conversationID: conversationID, engine: engine}

	// (1) In-memory cache. A cached id is trusted while its transcript is
	// still discoverable, or while the entry is pristine. The pristine case
	// covers sessions the durable store never recorded: the cache is their
	// only home, and their transcript appears lazily.
	r.mu.Lock()
	entry, cached := r.cache[key]
	var cachedID string
	var pristine bool
	if cached {
		cachedID = entry.sessionID
		pristine = entry.pristine
	}
	r.mu.Unlock()

	if cached {
		alive, matured := r.cachedAlive(cachedID, engine, workspacePath, pristine)
		if alive {
			r.touchCache(key, matured)
			logging.SessionDebug("Cache hit: conversation=%s engine=%s session=%s",
				conversationID, engine, cachedID)
			return Result{SessionID: cachedID}, nil
		}
		r.mu.Lock()
		delete(r.cache, key)
		r.mu.Unlock()
	}

	// (2) Durable store, including legacy rows keyed by the conversation id
	// itself.
	row, err := r.store.FindSession(conversationID, engine)
	if err != nil {
		return Result{}, err
	}
	if row == nil {
		legacy, err := r.store.GetSession(conversationID)
		if err != nil {
			return Result{}, err
		}
		if legacy != nil && legacy.Engine == engine {
			row = legacy
		}
	}

	if row != nil {
		if r.rowAlive(row, workspacePath) {
			r.putCache(key, row.ID, !row.LastUsedAt.After(row.CreatedAt))
			logging.SessionDebug("Durable hit: conversation=%s engine=%s session=%s",
				conversationID, engine, row.ID)
			return Result{SessionID: row.ID}, nil
		}
		// Stale row: its backing native store is gone. Purge before reuse.
		logging.Session("Purging dead session row: id=%s engine=%s", row.ID, engine)
		if err := r.store.DeleteSession(row.ID); err != nil {
			logging.Get(logging.CategorySession).Warn("Failed to purge dead row %s: %v", row.ID, err)
		}
	}

	// (3) Mint. The transcript file is not created here; the engine adapter
	// creates it lazily on the first real exchange.
	now := time.Now().UTC()
	sess := &types.EngineSession{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Engine:         engine,
		WorkspacePath:  workspacePath,
		Title:          DefaultTitle,
		CreatedAt:      now,
		LastUsedAt:     now,
	}
	if err := r.store.InsertSession(sess); err != nil {
		// Tolerated: the session still functions in-memory for the process
		// lifetime, it is just not durably recorded.
		logging.Get(logging.CategorySession).Error(
			"Durable insert failed, serving session from cache only: id=%s: %v", sess.ID, err)
	}
	r.putCache(key, sess.ID, true)

	logging.Session("Minted session: conversation=%s engine=%s session=%s",
		conversationID, engine, sess.ID)
	return Result{SessionID: sess.ID, IsNew: true}, nil
}

// =============================================================================
// LIVENESS
// =============================================================================

// cachedAlive validates a cached session id without a durable row in hand.
// Thread-backed engines are alive by cache presence (the durable store, or
// this process's memory of it, is authoritative). File-backed engines are
// alive when their transcript is discoverable or the entry is still pristine;
// matured reports that a pristine entry's transcript has now appeared.
func (r *Registry) cachedAlive(sessionID string, engine types.Engine, workspacePath string, pristine bool) (alive, matured bool) {
	caps := r.caps[engine]
	if !caps.FileBacked {
		return true, false
	}
	if r.transcriptExists(sessionID, engine, workspacePath) {
		return true, pristine
	}
	return pristine, false
}

// rowAlive validates a durable row. A file-backed session that has never
// seen an exchange has no transcript yet; it stays alive until first use.
func (r *Registry) rowAlive(row *types.EngineSession, workspacePath string) bool {
	caps := r.caps[row.Engine]
	if !caps.FileBacked {
		return true
	}
	if !row.LastUsedAt.After(row.CreatedAt) {
		// No exchange yet; the adapter creates the transcript lazily.
		return true
	}
	return r.transcriptExists(row.ID, row.Engine, workspacePath)
}

// transcriptExists scans the engine's whole session root, not just the path
// implied by the current workspace: a session id may have been associated
// with a different workspace historically. Any filesystem error reads as
// "not alive".
func (r *Registry) transcriptExists(sessionID string, engine types.Engine, workspacePath string) bool {
	caps := r.caps[engine]
	switch engine {
	case types.EngineClaude:
		return history.FindClaudeTranscript(caps.SessionRoot, sessionID, workspacePath) != ""
	case types.EngineCodex:
		return history.FindCodexTranscript(caps.SessionRoot, sessionID) != ""
	}
	return false
}

// =============================================================================
// CACHE
// =============================================================================

func (r *Registry) putCache(key cacheKey, sessionID string, pristine bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = &cacheEntry{sessionID: sessionID, pristine: pristine, lastAccess: time.Now()}
}

func (r *Registry) touchCache(key cacheKey, matured bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.cache[key]; ok {
		e.lastAccess = time.Now()
		if matured {
			e.pristine = false
		}
	}
}

// EvictSession drops any cache entries pointing at a session id. Called by
// the workspace watcher when a transcript file disappears. The durable row
// is left alone; the next Resolve re-validates it.
func (r *Registry) EvictSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.cache {
		if e.sessionID == sessionID {
			delete(r.cache, k)
			logging.SessionDebug("Evicted cache entry for session %s", sessionID)
		}
	}
}

// CacheLen reports the number of live cache entries.
func (r *Registry) CacheLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

func (r *Registry) sweepLoop(interval time.Duration) {
	defer close(r.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep drops cache entries idle longer than the TTL. Eviction only touches
// the in-memory entry, never the durable row.
func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	swept := 0
	for k, e := range r.cache {
		if e.lastAccess.Before(cutoff) {
			delete(r.cache, k)
			swept++
		}
	}
	if swept > 0 {
		logging.SessionDebug("Swept %d idle cache entries", swept)
	}
}
