package summary

import (
	"context"
	"sync"
	"time"

	"switchboard/internal/logging"
	"switchboard/internal/types"
)

// Service runs summary generation off the request path. At most one
// generation is in flight per conversation; triggers arriving while one runs
// are dropped, not queued - the next trigger will see fresher history anyway.
type Service struct {
	summaries *SummaryStore

	threshold int // first summary once this many messages exist
	cadence   int // then every Nth message

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

// NewService wraps a SummaryStore in fire-and-forget scheduling.
func NewService(summaries *SummaryStore, threshold, cadence int) *Service {
	if threshold <= 0 {
		threshold = 10
	}
	if cadence <= 0 {
		cadence = 5
	}
	return &Service{
		summaries: summaries,
		threshold: threshold,
		cadence:   cadence,
		inflight:  make(map[string]bool),
	}
}

// ShouldGenerate evaluates the trigger policy after an exchange:
// always on an engine bridge; the first time the message-count threshold is
// crossed when no summary exists yet; then every cadence-th message.
func (s *Service) ShouldGenerate(messageCount int, wasBridge, hasSummary bool) bool {
	if wasBridge {
		return true
	}
	if messageCount < s.threshold {
		return false
	}
	if !hasSummary {
		return true
	}
	return messageCount%s.cadence == 0
}

// MaybeGenerate starts a background generation if the trigger policy says so
// and none is already running for the conversation. It returns immediately;
// the request path never waits on it.
func (s *Service) MaybeGenerate(conversationID string, messages []types.Message, messageCount int, wasBridge, hasSummary bool) {
	if s.summaries.gen == nil {
		// No generator configured (e.g. missing API key); summaries are off.
		return
	}
	if !s.ShouldGenerate(messageCount, wasBridge, hasSummary) {
		return
	}

	s.mu.Lock()
	if s.inflight[conversationID] {
		s.mu.Unlock()
		logging.SummaryDebug("Generation already in flight for %s, skipping", conversationID)
		return
	}
	s.inflight[conversationID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, conversationID)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if _, err := s.summaries.GenerateAndSave(ctx, conversationID, messages); err != nil {
			// Best-effort: log and move on, never propagate to the chat path.
			logging.Get(logging.CategorySummary).Warn(
				"Background summary failed for %s: %v", conversationID, err)
		}
	}()
}

// Wait blocks until all in-flight generations finish. For shutdown and tests.
func (s *Service) Wait() {
	s.wg.Wait()
}
