package storetest

import (
	"context"
	"sync"

	"github.com/hrygo/mnemo/mcos/memory"
)

// DocumentCache is an in-memory store.DocumentCache keyed by document id.
type DocumentCache struct {
	mu     sync.Mutex
	chunks map[string][]memory.Chunk

	// Err fails every lookup when set.
	Err error
}

// NewDocumentCache creates an empty fake.
func NewDocumentCache() *DocumentCache {
	return &DocumentCache{chunks: make(map[string][]memory.Chunk)}
}

// Put registers chunks for a document id.
func (c *DocumentCache) Put(documentID string, chunks ...memory.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks[documentID] = chunks
}

func (c *DocumentCache) TopChunks(ctx context.Context, documentID, query string, k int) ([]memory.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	chunks := c.chunks[documentID]
	if k > 0 && len(chunks) > k {
		chunks = chunks[:k]
	}
	return append([]memory.Chunk(nil), chunks...), nil
}
