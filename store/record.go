// Package store defines the durable-storage contracts the memory subsystem
// depends on, and the record shapes that cross them. Reference drivers live
// under store/db and store/object; tests use the fakes in store/storetest.
package store

import (
	"github.com/hrygo/mnemo/mcos/memory"
)

// RecordMetadata is the queryable payload attached to every vector record.
// UserID is always present; records with Kind=profile must omit ChatID,
// TurnID and Seq.
type RecordMetadata struct {
	UserID      string        `json:"userId"`
	ChatID      string        `json:"chatId,omitempty"`
	TurnID      string        `json:"turnId,omitempty"`
	Role        memory.Role   `json:"role"`
	Seq         int           `json:"seq,omitempty"`
	CreatedAt   int64         `json:"createdAt"`
	Kind        memory.Kind   `json:"kind"`
	Content     string        `json:"content"` // embedded text, capped at 8 KB
	HasArtifact bool          `json:"hasArtifact,omitempty"`
	ArtifactURL string        `json:"artifactUrl,omitempty"`
}

// MemoryRecord is the unit stored in the vector store.
type MemoryRecord struct {
	ID       string
	Vector   []float32
	Metadata RecordMetadata
}

// RecordFilter is an equality filter over record metadata. Zero-valued fields
// are unset. Every filter built by the subsystem carries a UserID; that is
// the tenant-isolation boundary.
type RecordFilter struct {
	UserID string
	ChatID string
	Kind   memory.Kind
}

// Matches reports whether md satisfies the filter.
func (f RecordFilter) Matches(md RecordMetadata) bool {
	if f.UserID != "" && md.UserID != f.UserID {
		return false
	}
	if f.ChatID != "" && md.ChatID != f.ChatID {
		return false
	}
	if f.Kind != "" && md.Kind != f.Kind {
		return false
	}
	return true
}

// QueryMatch is one similarity-search hit.
type QueryMatch struct {
	ID       string
	Score    float32
	Metadata RecordMetadata
}

// VectorStats reports store-level diagnostics.
type VectorStats struct {
	VectorCount int64
}
