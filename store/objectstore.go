package store

import "context"

// ObjectStore holds artifact blobs produced by turns. The subsystem stores
// only the returned URLs; artifact bytes never enter the memory tiers.
type ObjectStore interface {
	PutArtifact(ctx context.Context, userID, chatID string, data []byte, contentType string) (url string, err error)
	Delete(ctx context.Context, url string) error
}
