package storetest

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/hrygo/mnemo/mcos/model"
)

// Adapter is a deterministic in-memory model.Adapter. Embeddings are derived
// from a hash of the text, so identical texts always land on identical
// vectors. Summarize replies are scripted.
type Adapter struct {
	mu sync.Mutex

	dim int

	// SummarizeFunc overrides the scripted replies when set.
	SummarizeFunc func(prompt string) (string, error)
	// Replies are consumed in order by Summarize; the last reply repeats.
	Replies []string
	replied int

	// EmbedErr / SummarizeErr fail the respective calls when set.
	EmbedErr     error
	SummarizeErr error

	EmbedCalls     int
	SummarizeCalls int
	// SummarizePrompts records every prompt passed to Summarize.
	SummarizePrompts []string
	Intent           model.Intent
}

// NewAdapter creates a fake adapter with the given embedding dimension.
func NewAdapter(dim int) *Adapter {
	if dim <= 0 {
		dim = 8
	}
	return &Adapter{dim: dim, Intent: model.IntentNormal}
}

func (a *Adapter) Dim() int { return a.dim }

func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.EmbedCalls++
	if a.EmbedErr != nil {
		return nil, a.EmbedErr
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, a.dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33))/float32(1<<30) - 1
	}
	return vec, nil
}

func (a *Adapter) Summarize(ctx context.Context, prompt string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SummarizeCalls++
	a.SummarizePrompts = append(a.SummarizePrompts, prompt)
	if a.SummarizeErr != nil {
		return "", a.SummarizeErr
	}
	if a.SummarizeFunc != nil {
		return a.SummarizeFunc(prompt)
	}
	if len(a.Replies) == 0 {
		return "{}", nil
	}
	reply := a.Replies[min(a.replied, len(a.Replies)-1)]
	a.replied++
	return reply, nil
}

func (a *Adapter) ClassifyIntent(ctx context.Context, message string) (model.Intent, error) {
	return a.Intent, nil
}
