// Package vectormem adapts the vector store for the memory subsystem. It owns
// embedding fan-out, batch discipline, retry with backoff, tenant-isolated
// querying, and the stable tie-break ordering retrieval depends on.
package vectormem

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hrygo/mnemo/mcos/mdtext"
	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/mcos/model"
	"github.com/hrygo/mnemo/mcos/observability/logging"
	"github.com/hrygo/mnemo/mcos/observability/metrics"
	"github.com/hrygo/mnemo/store"
)

// Config holds vector memory tunables.
type Config struct {
	// EmbedConcurrency bounds in-flight embedding calls.
	EmbedConcurrency int
	// BatchSize is the maximum records per vector store upsert call.
	BatchSize int
	// TopK is the default retrieval depth.
	TopK int
	// MinScore drops weaker-than-threshold matches.
	MinScore float32
	// EmbedTimeout and UpsertTimeout bound individual downstream calls.
	EmbedTimeout  time.Duration
	UpsertTimeout time.Duration
}

// DefaultConfig returns the default vector memory configuration.
func DefaultConfig() Config {
	return Config{
		EmbedConcurrency: 8,
		BatchSize:        100,
		TopK:             10,
		MinScore:         0.5,
		EmbedTimeout:     5 * time.Second,
		UpsertTimeout:    10 * time.Second,
	}
}

func (c *Config) normalize() {
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = 8
	}
	if c.BatchSize <= 0 || c.BatchSize > 100 {
		c.BatchSize = 100
	}
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.MinScore <= 0 {
		c.MinScore = 0.5
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 5 * time.Second
	}
	if c.UpsertTimeout <= 0 {
		c.UpsertTimeout = 10 * time.Second
	}
}

// Memory is the vector store adapter.
type Memory struct {
	cfg     Config
	vs      store.VectorStore
	adapter model.Adapter
	sem     *semaphore.Weighted
	retry   retryPolicy
	logger  *logging.Logger
	metrics *metrics.Exporter
}

// New creates the adapter.
func New(cfg Config, vs store.VectorStore, adapter model.Adapter, logger *logging.Logger, exporter *metrics.Exporter) *Memory {
	cfg.normalize()
	if logger == nil {
		logger = logging.Default()
	}
	if exporter == nil {
		exporter = metrics.Nop()
	}
	return &Memory{
		cfg:     cfg,
		vs:      vs,
		adapter: adapter,
		sem:     semaphore.NewWeighted(int64(cfg.EmbedConcurrency)),
		retry:   defaultRetryPolicy(),
		logger:  logger.WithField("component", "vectormem"),
		metrics: exporter,
	}
}

// UpsertTurns embeds and stores the user and assistant halves of each turn.
// Halves with empty text are skipped. At-least-once: callers mark the ledger
// only after a nil return.
func (m *Memory) UpsertTurns(ctx context.Context, turns []memory.Turn) error {
	var records []store.MemoryRecord
	for _, t := range turns {
		if t.UserText != "" {
			records = append(records, turnRecord(t, memory.RoleUser, t.UserText))
		}
		if t.AssistantText != "" {
			records = append(records, turnRecord(t, memory.RoleAssistant, mdtext.Strip(t.AssistantText)))
		}
	}
	return m.Upsert(ctx, records)
}

// UpsertSummary stores the rolling summary as a retrievable record. The
// record id is keyed to the chat so a newer summary replaces the old one.
func (m *Memory) UpsertSummary(ctx context.Context, userID, chatID string, sum memory.RollingSummary) error {
	if sum.Text == "" {
		return nil
	}
	rec := store.MemoryRecord{
		ID: memory.RecordID(userID, chatID, "rolling", memory.RoleSummary),
		Metadata: store.RecordMetadata{
			UserID:    userID,
			ChatID:    chatID,
			Role:      memory.RoleSummary,
			Seq:       sum.CoveredThroughSeq,
			CreatedAt: sum.UpdatedAt.UnixMilli(),
			Kind:      memory.KindSummary,
			Content:   capContent(sum.Text),
		},
	}
	return m.Upsert(ctx, []store.MemoryRecord{rec})
}

// UpsertProfile stores the rendered profile slice so it surfaces in retrieval
// for new chats. Profile records carry no chat id, turn id, or seq.
func (m *Memory) UpsertProfile(ctx context.Context, userID, profileText string) error {
	if profileText == "" {
		return nil
	}
	rec := store.MemoryRecord{
		ID: memory.RecordID(userID, "", "", memory.RoleProfile),
		Metadata: store.RecordMetadata{
			UserID:    userID,
			Role:      memory.RoleProfile,
			CreatedAt: time.Now().UnixMilli(),
			Kind:      memory.KindProfile,
			Content:   capContent(profileText),
		},
	}
	return m.Upsert(ctx, []store.MemoryRecord{rec})
}

// Upsert embeds any records lacking vectors and writes them in batches of at
// most BatchSize. Terminal failure of any batch fails the whole call.
func (m *Memory) Upsert(ctx context.Context, records []store.MemoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	if err := m.embedAll(ctx, records); err != nil {
		return err
	}

	for start := 0; start < len(records); start += m.cfg.BatchSize {
		end := start + m.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		m.metrics.ObserveUpsertBatch(len(batch))
		err := m.retry.do(ctx, m.logger, "upsert", m.metrics.UpsertRetried, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, m.cfg.UpsertTimeout)
			defer cancel()
			return m.vs.Upsert(ctx, batch)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// embedAll fills missing vectors in parallel, bounded by EmbedConcurrency.
func (m *Memory) embedAll(ctx context.Context, records []store.MemoryRecord) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range records {
		if len(records[i].Vector) > 0 {
			continue
		}
		i := i
		g.Go(func() error {
			if err := m.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer m.sem.Release(1)
			vec, err := m.embed(ctx, records[i].Metadata.Content)
			if err != nil {
				return err
			}
			records[i].Vector = vec
			return nil
		})
	}
	return g.Wait()
}

func (m *Memory) embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := m.retry.do(ctx, m.logger, "embed", nil, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, m.cfg.EmbedTimeout)
		defer cancel()
		start := time.Now()
		v, err := m.adapter.Embed(ctx, text)
		m.metrics.ObserveEmbed(time.Since(start))
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	return vec, err
}

// Query embeds the query text and searches within scope. The filter always
// carries the user id. Results below MinScore are dropped; the remainder is
// ordered by score, then kind rank, then seq, then id.
func (m *Memory) Query(ctx context.Context, userID, query string, k int, scope Scope) ([]memory.Chunk, error) {
	if !memory.ValidID(userID) {
		return nil, memory.Invalidf("user id %q", userID)
	}
	if k <= 0 {
		k = m.cfg.TopK
	}

	vec, err := m.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var matches []store.QueryMatch
	err = m.retry.do(ctx, m.logger, "query", nil, func(ctx context.Context) error {
		res, err := m.vs.Query(ctx, store.VectorQuery{
			Vector: vec,
			Filter: scope.filter(userID),
			TopK:   k,
		})
		if err != nil {
			return err
		}
		matches = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	kept := matches[:0]
	for _, match := range matches {
		if match.Score >= m.cfg.MinScore {
			kept = append(kept, match)
		}
	}
	sortMatches(kept)

	chunks := make([]memory.Chunk, 0, len(kept))
	for _, match := range kept {
		chunks = append(chunks, memory.Chunk{
			ID:        match.ID,
			Content:   match.Metadata.Content,
			Source:    string(match.Metadata.Kind),
			Score:     match.Score,
			ChatID:    match.Metadata.ChatID,
			Seq:       match.Metadata.Seq,
			CreatedAt: match.Metadata.CreatedAt,
		})
	}
	return chunks, nil
}

// DeleteByScope removes every record in scope for the user.
func (m *Memory) DeleteByScope(ctx context.Context, userID string, scope Scope) error {
	if !memory.ValidID(userID) {
		return memory.Invalidf("user id %q", userID)
	}
	return m.retry.do(ctx, m.logger, "delete", nil, func(ctx context.Context) error {
		return m.vs.Delete(ctx, scope.filter(userID))
	})
}

// DeleteProfile removes the user's profile records only.
func (m *Memory) DeleteProfile(ctx context.Context, userID string) error {
	return m.DeleteByScope(ctx, userID, ProfileOnly())
}

// Stats surfaces store-level diagnostics.
func (m *Memory) Stats(ctx context.Context) (store.VectorStats, error) {
	return m.vs.Stats(ctx)
}

// sortMatches applies the stable retrieval order: score desc, then summary
// before conversation before profile, then higher seq, then lexicographic id.
func sortMatches(matches []store.QueryMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ar, br := a.Metadata.Kind.TieBreakRank(), b.Metadata.Kind.TieBreakRank(); ar != br {
			return ar < br
		}
		if a.Metadata.Seq != b.Metadata.Seq {
			return a.Metadata.Seq > b.Metadata.Seq
		}
		return a.ID < b.ID
	})
}

func turnRecord(t memory.Turn, role memory.Role, content string) store.MemoryRecord {
	return store.MemoryRecord{
		ID: memory.RecordID(t.UserID, t.ChatID, t.ID, role),
		Metadata: store.RecordMetadata{
			UserID:      t.UserID,
			ChatID:      t.ChatID,
			TurnID:      t.ID,
			Role:        role,
			Seq:         t.Seq,
			CreatedAt:   t.CreatedAt,
			Kind:        memory.KindConversation,
			Content:     capContent(content),
			HasArtifact: t.HasArtifact(),
			ArtifactURL: t.FirstArtifactURL(),
		},
	}
}

func capContent(s string) string {
	if len(s) <= memory.MaxContentBytes {
		return s
	}
	// Byte-level cap; back up to a rune boundary.
	cut := memory.MaxContentBytes
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut]
}
