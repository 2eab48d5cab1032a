// Package model defines the generative-model adapter the memory subsystem
// consumes: embeddings, summarization, and intent classification. The
// subsystem never talks to a model provider directly.
package model

import (
	"context"
)

// Intent tags a user message for the retrieval decision.
type Intent string

const (
	IntentNormal         Intent = "normal"
	IntentReferencesPast Intent = "references_past"
	IntentImageRequest   Intent = "image_request"
	IntentDocumentQuery  Intent = "document_query"
)

// CallStats reports token usage and timing for a single model call.
type CallStats struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	TotalDurationMs  int64 `json:"total_duration_ms"`
}

// Adapter is the contract with the generative model layer.
//
// Embed must return vectors of a fixed dimension (Dim); Summarize must respect
// the max-length hint embedded in the prompt; ClassifyIntent may be a cheap
// keyword matcher.
type Adapter interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Summarize(ctx context.Context, prompt string) (string, error)
	ClassifyIntent(ctx context.Context, message string) (Intent, error)
	Dim() int
}

// StatsFunc receives per-call statistics when set on an adapter that tracks
// them.
type StatsFunc func(op string, stats CallStats)
