package store

import (
	"context"

	"github.com/hrygo/mnemo/mcos/memory"
)

// DocumentCache serves pre-extracted document chunks for prompt grounding.
// Optional collaborator; the assembler degrades gracefully when absent.
type DocumentCache interface {
	TopChunks(ctx context.Context, documentID, query string, k int) ([]memory.Chunk, error)
}
