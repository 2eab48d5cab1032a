// Package storetest provides in-memory fakes of the storage and model
// contracts for tests.
package storetest

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/hrygo/mnemo/store"
)

// VectorStore is an in-memory store.VectorStore. Similarity is cosine over
// the stored vectors. Set FailNext to inject errors.
type VectorStore struct {
	mu      sync.Mutex
	records map[string]store.MemoryRecord

	// FailNext makes the next n calls fail with Err.
	FailNext int
	Err      error

	UpsertCalls int
	QueryCalls  int
}

// NewVectorStore creates an empty fake.
func NewVectorStore() *VectorStore {
	return &VectorStore{records: make(map[string]store.MemoryRecord)}
}

func (s *VectorStore) failing() error {
	if s.FailNext > 0 {
		s.FailNext--
		return s.Err
	}
	return nil
}

func (s *VectorStore) Upsert(ctx context.Context, records []store.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertCalls++
	if err := s.failing(); err != nil {
		return err
	}
	for _, r := range records {
		cp := r
		cp.Vector = append([]float32(nil), r.Vector...)
		s.records[r.ID] = cp
	}
	return nil
}

func (s *VectorStore) Query(ctx context.Context, q store.VectorQuery) ([]store.QueryMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCalls++
	if err := s.failing(); err != nil {
		return nil, err
	}

	matches := []store.QueryMatch{}
	for _, r := range s.records {
		if !q.Filter.Matches(r.Metadata) {
			continue
		}
		m := store.QueryMatch{ID: r.ID, Metadata: r.Metadata}
		if !q.MetadataOnly {
			m.Score = cosine(q.Vector, r.Vector)
		}
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if q.TopK > 0 && len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches, nil
}

func (s *VectorStore) Delete(ctx context.Context, filter store.RecordFilter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing(); err != nil {
		return err
	}
	for id, r := range s.records {
		if filter.Matches(r.Metadata) {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *VectorStore) Stats(ctx context.Context) (store.VectorStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.VectorStats{VectorCount: int64(len(s.records))}, nil
}

// Len reports the stored record count.
func (s *VectorStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Record returns a stored record by id.
func (s *VectorStore) Record(id string) (store.MemoryRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}

// IDs returns all stored record ids, sorted.
func (s *VectorStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
