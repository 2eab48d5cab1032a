package store

import "context"

// VectorQuery describes one similarity search.
type VectorQuery struct {
	Vector []float32
	Filter RecordFilter
	TopK   int
	// MetadataOnly requests ids and metadata without scoring against a
	// query vector (used for ledger reconciliation). Implementations may
	// ignore Vector when set.
	MetadataOnly bool
}

// VectorStore is the contract the vector memory adapter drives. Upsert is
// idempotent on record id; Query and Delete support equality filters on
// userId, chatId and kind.
type VectorStore interface {
	Upsert(ctx context.Context, records []MemoryRecord) error
	Query(ctx context.Context, q VectorQuery) ([]QueryMatch, error)
	Delete(ctx context.Context, filter RecordFilter) error
	Stats(ctx context.Context) (VectorStats, error)
}
