// Package chat runs the request path: resolve the session, build context,
// call the engine adapter, record bookkeeping, and fire the background
// summarizer. Everything before the adapter call is synchronous; everything
// after the reply is best-effort.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"switchboard/internal/bridge"
	"switchboard/internal/history"
	"switchboard/internal/logging"
	"switchboard/internal/registry"
	"switchboard/internal/store"
	"switchboard/internal/summary"
	"switchboard/internal/types"
)

// Adapter executes one prompt against an external engine CLI. Process
// mechanics live outside this core; the adapter returns only the reply shape.
type Adapter interface {
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error)
}

// ExecuteRequest is the adapter's input.
type ExecuteRequest struct {
	Engine         types.Engine
	SessionID      string
	NativeThreadID string
	WorkspacePath  string
	Prompt         string
}

// ExecuteResult is the adapter's output.
type ExecuteResult struct {
	Text              string
	Usage             *types.Usage
	NewNativeThreadID string
}

// HistoryLoader reads replayable turns from an engine transcript.
type HistoryLoader interface {
	LoadMessages(p history.LoadParams) (*history.Page, error)
}

// Reply is one completed exchange.
type Reply struct {
	Text           string
	SessionID      string
	IsNewSession   bool
	IsEngineBridge bool
	ContextSource  bridge.Source
	ContextTokens  int
	TotalTokens    int
}

const maxTitleLen = 48

// Service orchestrates one conversation exchange end to end.
type Service struct {
	store     *store.LocalStore
	registry  *registry.Registry
	loader    HistoryLoader
	bridge    *bridge.Bridge
	summaries *summary.Service
	sums      *summary.SummaryStore
	adapters  map[types.Engine]Adapter

	// wg tracks the per-exchange summary trigger goroutines.
	wg sync.WaitGroup

	mu sync.Mutex
	// lastEngine remembers the previous engine per conversation for bridge
	// detection within this process; the durable rows cover restarts.
	lastEngine map[string]types.Engine
	// exchanges counts completed exchanges per conversation this process,
	// feeding the summary trigger policy.
	exchanges map[string]int
}

// NewService wires the core components together.
func NewService(st *store.LocalStore, reg *registry.Registry, loader HistoryLoader, br *bridge.Bridge, svc *summary.Service, sums *summary.SummaryStore, adapters map[types.Engine]Adapter) *Service {
	return &Service{
		store:      st,
		registry:   reg,
		loader:     loader,
		bridge:     br,
		summaries:  svc,
		sums:       sums,
		adapters:   adapters,
		lastEngine: make(map[string]types.Engine),
		exchanges:  make(map[string]int),
	}
}

// Send runs one exchange on a conversation with the chosen engine.
func (s *Service) Send(ctx context.Context, conversationID string, engine types.Engine, workspacePath, userMessage string) (*Reply, error) {
	timer := logging.StartTimer(logging.CategoryChat, "Send")
	defer timer.Stop()

	adapter, ok := s.adapters[engine]
	if !ok {
		return nil, fmt.Errorf("no adapter configured for engine %q", engine)
	}

	res, err := s.registry.Resolve(ctx, conversationID, engine, workspacePath)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	fromEngine, histSessionID, histEngine := s.priorContext(conversationID, engine, res.SessionID)

	built, err := s.bridge.BuildContext(ctx, bridge.Request{
		ConversationID:   conversationID,
		FromEngine:       fromEngine,
		ToEngine:         engine,
		HistorySessionID: histSessionID,
		HistoryEngine:    histEngine,
		WorkspacePath:    workspacePath,
		UserMessage:      userMessage,
	})
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	var nativeThreadID string
	if row, err := s.store.GetSession(res.SessionID); err == nil && row != nil {
		nativeThreadID = row.NativeThreadID
	}

	out, err := adapter.Execute(ctx, ExecuteRequest{
		Engine:         engine,
		SessionID:      res.SessionID,
		NativeThreadID: nativeThreadID,
		WorkspacePath:  workspacePath,
		Prompt:         built.Prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("engine %s: %w", engine, err)
	}

	s.recordExchange(conversationID, engine, res, out, userMessage)
	s.triggerSummary(conversationID, engine, res.SessionID, workspacePath, userMessage, out.Text, built.IsEngineBridge)

	return &Reply{
		Text:           out.Text,
		SessionID:      res.SessionID,
		IsNewSession:   res.IsNew,
		IsEngineBridge: built.IsEngineBridge,
		ContextSource:  built.ContextSource,
		ContextTokens:  built.ContextTokens,
		TotalTokens:    built.TotalTokens,
	}, nil
}

// priorContext decides which engine handled the previous exchange and which
// transcript holds the replayable turns. In-process memory wins; otherwise
// the most recently used durable row for the conversation.
func (s *Service) priorContext(conversationID string, target types.Engine, targetSessionID string) (types.Engine, string, types.Engine) {
	s.mu.Lock()
	prev, known := s.lastEngine[conversationID]
	s.mu.Unlock()

	if !known {
		rows, err := s.store.ListSessionsByConversation(conversationID)
		if err == nil {
			for _, row := range rows {
				if row.ID == targetSessionID {
					continue
				}
				// Rows are ordered by last_used_at desc; the first other row
				// is the engine the conversation last ran on.
				prev = row.Engine
				known = true
				break
			}
		}
	}

	if known && prev != target {
		// Replay from the previous engine's transcript on a switch.
		if row, err := s.store.FindSession(conversationID, prev); err == nil && row != nil {
			return prev, row.ID, prev
		}
		return prev, "", prev
	}
	return prev, targetSessionID, target
}

// recordExchange mutates the durable row after a completed exchange:
// last-used timestamp, native thread id, and a title derived from the first
// user message. Failures are logged, not surfaced.
func (s *Service) recordExchange(conversationID string, engine types.Engine, res registry.Result, out *ExecuteResult, userMessage string) {
	now := time.Now().UTC()
	if err := s.store.TouchSession(res.SessionID, now); err != nil {
		logging.Get(logging.CategoryChat).Warn("Touch failed for %s: %v", res.SessionID, err)
	}
	if out.NewNativeThreadID != "" {
		if err := s.store.SetNativeThreadID(res.SessionID, out.NewNativeThreadID); err != nil {
			logging.Get(logging.CategoryChat).Warn("Thread id update failed for %s: %v", res.SessionID, err)
		}
	}
	if res.IsNew {
		if err := s.store.SetTitle(res.SessionID, titleFrom(userMessage)); err != nil {
			logging.Get(logging.CategoryChat).Warn("Title update failed for %s: %v", res.SessionID, err)
		}
	}

	s.mu.Lock()
	s.lastEngine[conversationID] = engine
	s.exchanges[conversationID]++
	s.mu.Unlock()
}

// triggerSummary evaluates the summary policy with the freshest transcript
// view. The transcript and summary reads happen on a tracked goroutine so
// the caller returns without waiting on any storage.
func (s *Service) triggerSummary(conversationID string, engine types.Engine, sessionID, workspacePath, userMessage, replyText string, wasBridge bool) {
	s.mu.Lock()
	count := s.exchanges[conversationID] * 2 // two messages per exchange
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		page, err := s.loader.LoadMessages(history.LoadParams{
			SessionID:     sessionID,
			Engine:        engine,
			WorkspacePath: workspacePath,
			Limit:         50,
		})
		var msgs []types.Message
		if err == nil {
			msgs = page.Messages
			if page.Pagination.Total > count {
				count = page.Pagination.Total
			}
		}

		// The transcript on disk may not include the exchange that just
		// happened; append it so the summary always sees the latest turns.
		now := time.Now().UTC()
		msgs = append(msgs,
			types.Message{Role: types.RoleUser, Content: userMessage, Engine: engine, CreatedAt: now},
			types.Message{Role: types.RoleAssistant, Content: replyText, Engine: engine, CreatedAt: now},
		)

		hasSummary := false
		if sum, err := s.sums.GetSummary(conversationID); err == nil && sum != nil {
			hasSummary = true
		}

		s.summaries.MaybeGenerate(conversationID, msgs, count, wasBridge, hasSummary)
	}()
}

// Wait blocks until all in-flight summary triggers have finished evaluating.
// Generation started by a trigger is waited on separately via the summary
// service.
func (s *Service) Wait() {
	s.wg.Wait()
}

func titleFrom(userMessage string) string {
	title := strings.TrimSpace(strings.Split(userMessage, "\n")[0])
	if title == "" {
		return registry.DefaultTitle
	}
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen] + "..."
	}
	return title
}
