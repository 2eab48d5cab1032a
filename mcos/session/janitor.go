package session

import (
	"context"
	"time"
)

// StartJanitor runs TTL eviction in the background until ctx is cancelled.
// Sweeps are spaced by at least the configured janitor interval.
func (s *Store) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.JanitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepExpired()
			}
		}
	}()
}

// SweepExpired evicts sessions inactive past the TTL. The flush hook runs
// outside all store locks so it can call back into the orchestrator. Returns
// the number of sessions evicted.
func (s *Store) SweepExpired() int {
	s.janitorMu.Lock()
	if since := s.nowFunc().Sub(s.lastSweepAt); since < s.cfg.JanitorInterval {
		s.janitorMu.Unlock()
		return 0
	}
	s.lastSweepAt = s.nowFunc()
	s.janitorMu.Unlock()

	type target struct{ userID, chatID string }
	var expired []target

	cutoff := s.nowFunc().Add(-s.cfg.TTL)
	s.mu.RLock()
	for _, cs := range s.sessions {
		cs.mu.Lock()
		if cs.lastAccessedAt.Before(cutoff) {
			expired = append(expired, target{cs.userID, cs.chatID})
		}
		cs.mu.Unlock()
	}
	s.mu.RUnlock()

	for _, t := range expired {
		// Flush uncovered turns before dropping the session.
		if s.onEvict != nil {
			s.onEvict(t.userID, t.chatID)
		}
		s.mu.Lock()
		delete(s.sessions, sessionKey(t.userID, t.chatID))
		s.metrics.SetActiveSessions(len(s.sessions))
		s.mu.Unlock()
		s.metrics.SessionEvicted()
		s.logger.Info("session evicted", "user_id", t.userID, "chat_id", t.chatID)
	}
	return len(expired)
}
