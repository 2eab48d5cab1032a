package storetest

import (
	"context"
	"fmt"
	"sync"
)

// ObjectStore is an in-memory store.ObjectStore.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	next    int
}

// NewObjectStore creates an empty fake.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string][]byte)}
}

func (s *ObjectStore) PutArtifact(ctx context.Context, userID, chatID string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	url := fmt.Sprintf("mem://%s/%s/%d", userID, chatID, s.next)
	s.objects[url] = append([]byte(nil), data...)
	return url, nil
}

func (s *ObjectStore) Delete(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, url)
	return nil
}

// Get returns stored bytes for assertions.
func (s *ObjectStore) Get(url string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[url]
	return b, ok
}

// Len reports the stored object count.
func (s *ObjectStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
