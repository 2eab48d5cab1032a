// Package orchestrator coordinates the background work that keeps derived
// memory state current: rolling summarization, profile extraction, and
// vector uploads. The request path only appends to the session tier; all
// network I/O happens on a bounded worker pool with retries, cooldowns,
// per-chat mutual exclusion, and dead-lettering.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/mnemo/mcos/internal/keymutex"
	"github.com/hrygo/mnemo/mcos/ledger"
	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/mcos/model"
	"github.com/hrygo/mnemo/mcos/observability/logging"
	"github.com/hrygo/mnemo/mcos/observability/metrics"
	"github.com/hrygo/mnemo/mcos/session"
	"github.com/hrygo/mnemo/mcos/summarize"
	"github.com/hrygo/mnemo/mcos/userprofile"
	"github.com/hrygo/mnemo/mcos/vectormem"
)

// Config holds orchestrator tunables.
type Config struct {
	// Workers is the size of the background worker pool.
	Workers int
	// QueueHighWater is the queue depth above which upload jobs coalesce.
	QueueHighWater int
	// SummaryTrigger is the uncovered-turn count that triggers summarize.
	SummaryTrigger int
	// SummaryInterval triggers summarize by elapsed time regardless of count.
	SummaryInterval time.Duration
	// ExtractEvery is the turn cadence of profile extraction.
	ExtractEvery int
	// ExtractWindow is how many recent turns feed one extraction prompt.
	ExtractWindow int
	// FlushConcurrency bounds concurrent EndChat calls inside SaveAll.
	FlushConcurrency int
	// RetryBase / RetryCap / MaxAttempts shape job retry backoff. The job
	// is dead-lettered when MaxAttempts is exhausted.
	RetryBase   time.Duration
	RetryCap    time.Duration
	MaxAttempts int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Workers:          8,
		QueueHighWater:   10000,
		SummaryTrigger:   6,
		SummaryInterval:  60 * time.Second,
		ExtractEvery:     3,
		ExtractWindow:    10,
		FlushConcurrency: 4,
		RetryBase:        500 * time.Millisecond,
		RetryCap:         8 * time.Second,
		MaxAttempts:      6,
	}
}

func (c *Config) normalize() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueHighWater <= 0 {
		c.QueueHighWater = 10000
	}
	if c.SummaryTrigger <= 0 {
		c.SummaryTrigger = 6
	}
	if c.SummaryInterval <= 0 {
		c.SummaryInterval = 60 * time.Second
	}
	if c.ExtractEvery <= 0 {
		c.ExtractEvery = 3
	}
	if c.ExtractWindow <= 0 {
		c.ExtractWindow = 10
	}
	if c.FlushConcurrency <= 0 {
		c.FlushConcurrency = 4
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 8 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 6
	}
}

// Orchestrator is the persistence coordinator.
type Orchestrator struct {
	cfg Config

	sessions   *session.Store
	uploads    *ledger.Ledger
	vectors    *vectormem.Memory
	profiles   *userprofile.Store
	summarizer *summarize.Summarizer
	adapter    model.Adapter

	logger  *logging.Logger
	metrics *metrics.Exporter

	queue   chan *job
	wg      sync.WaitGroup
	stopCh  chan struct{}
	stopped sync.Once

	// chatJobs serializes summarize and upload for one chat.
	chatJobs *keymutex.KeyMutex
	// gate makes RecordTurn's drain check and append one atomic step
	// against EndChat's drain transition. RecordTurn holds the read side
	// across check+append; EndChat flips draining under the write side, so
	// every turn that passed the check is resident before the flush reads
	// the session.
	gate *keymutex.RWKeyMutex

	mu sync.Mutex
	// draining chats reject new RecordTurn calls.
	draining map[string]bool
	// pendingUpload tracks queued (not yet running) upload jobs per chat,
	// for coalescing under backpressure.
	pendingUpload map[string]bool
	// inflightSummarize skips duplicate summarize work per chat.
	inflightSummarize map[string]bool
	// timers are delayed re-enqueues, cancellable per chat on drain.
	timers map[string]map[*time.Timer]struct{}
}

// New creates an orchestrator and starts its worker pool.
func New(cfg Config, sessions *session.Store, uploads *ledger.Ledger, vectors *vectormem.Memory,
	profiles *userprofile.Store, summarizer *summarize.Summarizer, adapter model.Adapter,
	logger *logging.Logger, exporter *metrics.Exporter,
) *Orchestrator {
	cfg.normalize()
	if logger == nil {
		logger = logging.Default()
	}
	if exporter == nil {
		exporter = metrics.Nop()
	}

	o := &Orchestrator{
		cfg:               cfg,
		sessions:          sessions,
		uploads:           uploads,
		vectors:           vectors,
		profiles:          profiles,
		summarizer:        summarizer,
		adapter:           adapter,
		logger:            logger.WithField("component", "orchestrator"),
		metrics:           exporter,
		queue:             make(chan *job, cfg.QueueHighWater),
		stopCh:            make(chan struct{}),
		chatJobs:          keymutex.New(64),
		gate:              keymutex.NewRW(64),
		draining:          make(map[string]bool),
		pendingUpload:     make(map[string]bool),
		inflightSummarize: make(map[string]bool),
		timers:            make(map[string]map[*time.Timer]struct{}),
	}

	// Janitor eviction flushes through the orchestrator so uncovered turns
	// survive TTL eviction.
	sessions.OnEvict(func(userID, chatID string) {
		if err := o.EndChat(context.Background(), userID, chatID, true); err != nil {
			o.logger.Error("eviction flush failed", "user_id", userID, "chat_id", chatID, "error", err)
		}
	})

	for i := 0; i < cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o
}

func chatKey(userID, chatID string) string {
	return userID + "/" + chatID
}

// RecordTurn validates and appends the turn synchronously, then schedules
// background summarization, profile extraction, and vector upload. It never
// blocks on network I/O. Returns the new turn's id.
func (o *Orchestrator) RecordTurn(ctx context.Context, userID, chatID, userText, assistantText string, artifacts []memory.Artifact) (string, error) {
	key := chatKey(userID, chatID)
	o.gate.RLock(key)
	o.mu.Lock()
	draining := o.draining[key]
	o.mu.Unlock()
	if draining {
		o.gate.RUnlock(key)
		return "", memory.ErrChatDraining
	}

	turn, err := o.sessions.Append(userID, chatID, userText, assistantText, artifacts)
	o.gate.RUnlock(key)
	if err != nil {
		return "", err
	}

	o.enqueue(newJob(jobSummarize, userID, chatID, turn.ID))
	o.enqueue(newJob(jobProfileExtract, userID, chatID, turn.ID))
	o.enqueue(newJob(jobVectorUpload, userID, chatID, turn.ID))
	return turn.ID, nil
}

// EndChat drains one chat: pending delayed jobs are cancelled, then
// summarization and vector upload run synchronously with force set. While
// draining, new RecordTurn calls for the chat are rejected. On a successful
// forced flush the session is released.
func (o *Orchestrator) EndChat(ctx context.Context, userID, chatID string, force bool) error {
	key := chatKey(userID, chatID)
	ctx = logging.ToContext(ctx, o.logger)

	// The write side waits out any RecordTurn mid check+append, so every
	// turn admitted before the flag flips is resident for the flush below.
	o.gate.Lock(key)
	o.mu.Lock()
	if o.draining[key] {
		o.mu.Unlock()
		o.gate.Unlock(key)
		return memory.ErrChatDraining
	}
	o.draining[key] = true
	o.cancelTimersLocked(key)
	o.mu.Unlock()
	o.gate.Unlock(key)

	defer func() {
		o.mu.Lock()
		delete(o.draining, key)
		o.mu.Unlock()
	}()

	sumErr := o.runSummarize(ctx, userID, chatID, force)
	upErr := o.runUpload(ctx, userID, chatID, force)
	if sumErr != nil {
		return sumErr
	}
	if upErr != nil {
		return upErr
	}

	if force {
		o.sessions.Purge(userID, chatID)
	}
	return nil
}

// SaveAll flushes several chats concurrently, bounded by FlushConcurrency.
func (o *Orchestrator) SaveAll(ctx context.Context, userID string, chatIDs []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.FlushConcurrency)
	for _, chatID := range chatIDs {
		chatID := chatID
		g.Go(func() error {
			return o.EndChat(ctx, userID, chatID, true)
		})
	}
	return g.Wait()
}

// DeleteChat removes one chat from every tier. After return the chat is
// absent from the vector store.
func (o *Orchestrator) DeleteChat(ctx context.Context, userID, chatID string) error {
	o.mu.Lock()
	o.cancelTimersLocked(chatKey(userID, chatID))
	o.mu.Unlock()

	o.sessions.Purge(userID, chatID)
	if err := o.vectors.DeleteByScope(ctx, userID, vectormem.ChatOnly(chatID)); err != nil {
		return err
	}
	o.uploads.Reset(userID, chatID)
	// Evidence sourced from the deleted chat no longer pins profile fields.
	if err := o.profiles.InvalidateEvidence(ctx, userID, chatID); err != nil {
		o.logger.Warn("failed to invalidate profile evidence", "user_id", userID, "chat_id", chatID, "error", err)
	}
	return nil
}

// DeleteUser removes everything the user owns. Once begun it runs to
// completion regardless of ctx cancellation.
func (o *Orchestrator) DeleteUser(ctx context.Context, userID string) error {
	ctx = context.WithoutCancel(ctx)

	o.sessions.Purge(userID, "")
	if err := o.vectors.DeleteByScope(ctx, userID, vectormem.WholeUser()); err != nil {
		return err
	}
	o.uploads.ResetUser(userID)
	return o.profiles.Delete(ctx, userID)
}

// Close drains the worker pool. Active sessions are not flushed here; hosts
// call SaveAll first when they want a clean shutdown, then Close.
func (o *Orchestrator) Close(timeout time.Duration) error {
	o.stopped.Do(func() {
		o.mu.Lock()
		for key := range o.timers {
			o.cancelTimersLocked(key)
		}
		o.mu.Unlock()
		close(o.stopCh)
	})

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("orchestrator shutdown complete")
		return nil
	case <-time.After(timeout):
		o.logger.Warn("orchestrator shutdown timeout", "queued", len(o.queue))
		return context.DeadlineExceeded
	}
}
