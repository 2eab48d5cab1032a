package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/store"
)

// ProfileDocStore is an in-memory store.ProfileDocStore with the same
// optimistic concurrency semantics as the SQL drivers.
type ProfileDocStore struct {
	mu   sync.Mutex
	docs map[string]*store.UserProfile

	WriteCalls int
	// ConflictNext forces the next n writes to fail stale, regardless of
	// the expected timestamp.
	ConflictNext int
}

// NewProfileDocStore creates an empty fake.
func NewProfileDocStore() *ProfileDocStore {
	return &ProfileDocStore{docs: make(map[string]*store.UserProfile)}
}

func (s *ProfileDocStore) Read(ctx context.Context, userID string) (*store.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.docs[userID]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (s *ProfileDocStore) Write(ctx context.Context, profile *store.UserProfile, expectedUpdatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WriteCalls++
	if s.ConflictNext > 0 {
		s.ConflictNext--
		return memory.ErrStaleWrite
	}

	current, exists := s.docs[profile.UserID]
	if expectedUpdatedAt.IsZero() {
		if exists {
			return memory.ErrStaleWrite
		}
	} else {
		if !exists || !current.UpdatedAt.Equal(expectedUpdatedAt) {
			return memory.ErrStaleWrite
		}
	}
	s.docs[profile.UserID] = profile.Clone()
	return nil
}

func (s *ProfileDocStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, userID)
	return nil
}

// Stored returns the raw stored profile for assertions.
func (s *ProfileDocStore) Stored(userID string) *store.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[userID].Clone()
}
