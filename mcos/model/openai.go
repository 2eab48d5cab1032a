package model

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hrygo/mnemo/mcos/memory"
)

// Config configures the OpenAI-compatible adapter. All providers speaking the
// OpenAI protocol (openai, deepseek, siliconflow, ollama, zai) share this.
type Config struct {
	APIKey         string
	BaseURL        string // optional; provider default when empty
	ChatModel      string
	EmbeddingModel string
	EmbedDim       int           // must match the vector store index dimension
	Timeout        time.Duration // per-call ceiling; 0 means no adapter-level timeout
	RequestsPerSec float64       // client-side rate limit; 0 disables

	MaxSummaryTokens int
}

// OpenAIAdapter implements Adapter over an OpenAI-compatible endpoint.
// Intent classification stays local via KeywordClassifier; only embeddings
// and summarization hit the wire.
type OpenAIAdapter struct {
	client   *openai.Client
	cfg      Config
	limiter  *rate.Limiter
	keywords KeywordClassifier
	onStats  StatsFunc
}

// NewOpenAIAdapter creates an adapter from config.
func NewOpenAIAdapter(cfg Config) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("model: api key is required")
	}
	if cfg.EmbedDim <= 0 {
		cfg.EmbedDim = 768
	}
	if cfg.MaxSummaryTokens <= 0 {
		cfg.MaxSummaryTokens = 512
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	a := &OpenAIAdapter{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
	if cfg.RequestsPerSec > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), int(cfg.RequestsPerSec)+1)
	}
	return a, nil
}

// WithStats sets a callback receiving per-call statistics.
func (a *OpenAIAdapter) WithStats(fn StatsFunc) *OpenAIAdapter {
	a.onStats = fn
	return a
}

// Dim returns the embedding dimension this adapter produces.
func (a *OpenAIAdapter) Dim() int {
	return a.cfg.EmbedDim
}

// Embed returns the embedding vector for text.
func (a *OpenAIAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := a.callContext(ctx)
	defer cancel()
	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(a.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, memory.Transient(errors.Wrap(err, "failed to create embedding"))
	}
	if len(resp.Data) == 0 {
		return nil, memory.Transient(errors.New("embedding response contained no data"))
	}

	a.report("embed", CallStats{
		PromptTokens:    resp.Usage.PromptTokens,
		TotalTokens:     resp.Usage.TotalTokens,
		TotalDurationMs: time.Since(start).Milliseconds(),
	})

	vec := resp.Data[0].Embedding
	if len(vec) != a.cfg.EmbedDim {
		return nil, errors.Errorf("embedding dimension mismatch: got %d, want %d", len(vec), a.cfg.EmbedDim)
	}
	return vec, nil
}

// Summarize sends the prompt to the chat model and returns the raw response
// text. Prompt construction and response parsing belong to the caller.
func (a *OpenAIAdapter) Summarize(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := a.callContext(ctx)
	defer cancel()
	if err := a.wait(ctx); err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.cfg.ChatModel,
		MaxTokens: a.cfg.MaxSummaryTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", memory.Transient(errors.Wrap(err, "failed to summarize"))
	}
	if len(resp.Choices) == 0 {
		return "", memory.Transient(errors.New("summarize response contained no choices"))
	}

	a.report("summarize", CallStats{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		TotalDurationMs:  time.Since(start).Milliseconds(),
	})

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ClassifyIntent tags a message. Delegated to the keyword classifier; the
// trigger list covers the retrieval decision without a model round trip.
func (a *OpenAIAdapter) ClassifyIntent(ctx context.Context, message string) (Intent, error) {
	return a.keywords.ClassifyIntent(ctx, message)
}

func (a *OpenAIAdapter) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, a.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (a *OpenAIAdapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

func (a *OpenAIAdapter) report(op string, stats CallStats) {
	if a.onStats != nil {
		a.onStats(op, stats)
	}
}
