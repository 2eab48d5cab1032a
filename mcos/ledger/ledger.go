// Package ledger tracks which turns have been durably written to the vector
// store and enforces per-chat upload cooldowns. On cold start it reconciles
// against the vector store so deduplication survives process restarts.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/hrygo/mnemo/mcos/internal/keymutex"
	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/mcos/observability/logging"
	"github.com/hrygo/mnemo/store"
)

// Config holds ledger tunables.
type Config struct {
	// Cooldown is the per-chat minimum interval between vector uploads.
	Cooldown time.Duration
	// ReconcileTopK bounds the metadata-only reconciliation query.
	ReconcileTopK int
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		Cooldown:      60 * time.Second,
		ReconcileTopK: 10000,
	}
}

func (c *Config) normalize() {
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.ReconcileTopK <= 0 {
		c.ReconcileTopK = 10000
	}
}

type entry struct {
	uploaded     map[string]struct{}
	lastUploadAt time.Time
	lastSyncedAt time.Time
	synced       bool
}

// Ledger is the per-chat upload bookkeeping.
type Ledger struct {
	cfg    Config
	vs     store.VectorStore
	logger *logging.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	// locks serializes reconciliation and mutation per chat key.
	locks *keymutex.KeyMutex

	nowFunc func() time.Time
}

// New creates a ledger. vs may be nil in tests that never reconcile.
func New(cfg Config, vs store.VectorStore, logger *logging.Logger) *Ledger {
	cfg.normalize()
	if logger == nil {
		logger = logging.Default()
	}
	return &Ledger{
		cfg:     cfg,
		vs:      vs,
		logger:  logger.WithField("component", "ledger"),
		entries: make(map[string]*entry),
		locks:   keymutex.New(64),
		nowFunc: time.Now,
	}
}

func chatKey(userID, chatID string) string {
	return userID + "/" + chatID
}

func (l *Ledger) get(key string) *entry {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if ok {
		return e
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[key]; ok {
		return e
	}
	e = &entry{uploaded: make(map[string]struct{})}
	l.entries[key] = e
	return e
}

// Unuploaded returns the subset of turnIDs not known to be in the vector
// store. The first call for a chat in a process triggers a one-shot
// reconciliation query; reconciliation failure falls back to assuming nothing
// was uploaded (upserts are idempotent, so duplicates are harmless).
func (l *Ledger) Unuploaded(ctx context.Context, userID, chatID string, turnIDs []string) []string {
	key := chatKey(userID, chatID)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	e := l.get(key)
	if !e.synced {
		l.reconcile(ctx, userID, chatID, e)
	}

	var out []string
	for _, id := range turnIDs {
		if _, ok := e.uploaded[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// reconcile rebuilds the uploaded set from a metadata-only vector store
// query. Caller holds the chat stripe.
func (l *Ledger) reconcile(ctx context.Context, userID, chatID string, e *entry) {
	if l.vs == nil {
		e.synced = true
		return
	}

	matches, err := l.vs.Query(ctx, store.VectorQuery{
		Filter:       store.RecordFilter{UserID: userID, ChatID: chatID, Kind: memory.KindConversation},
		TopK:         l.cfg.ReconcileTopK,
		MetadataOnly: true,
	})
	if err != nil {
		// Assume nothing uploaded; the next call retries the sync.
		l.logger.Warn("ledger reconciliation failed, assuming nothing uploaded",
			"user_id", userID, "chat_id", chatID, "error", err)
		return
	}

	for _, m := range matches {
		if m.Metadata.TurnID != "" {
			e.uploaded[m.Metadata.TurnID] = struct{}{}
		}
	}
	e.synced = true
	e.lastSyncedAt = l.nowFunc()
	l.logger.Info("ledger reconciled against vector store",
		"user_id", userID, "chat_id", chatID, "known_turns", len(e.uploaded))
}

// MarkUploaded records turnIDs as durably written and bumps lastUploadAt.
func (l *Ledger) MarkUploaded(userID, chatID string, turnIDs []string) {
	key := chatKey(userID, chatID)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	e := l.get(key)
	for _, id := range turnIDs {
		e.uploaded[id] = struct{}{}
	}
	e.lastUploadAt = l.nowFunc()
}

// CooldownExpired reports whether a new upload is allowed for the chat.
// Advisory: the orchestrator overrides it with force on shutdown and session
// end.
func (l *Ledger) CooldownExpired(userID, chatID string) bool {
	return l.CooldownRemaining(userID, chatID) <= 0
}

// CooldownRemaining returns how long until the next permitted upload, zero
// when the cooldown already expired or no upload happened yet.
func (l *Ledger) CooldownRemaining(userID, chatID string) time.Duration {
	key := chatKey(userID, chatID)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	e := l.get(key)
	if e.lastUploadAt.IsZero() {
		return 0
	}
	remaining := l.cfg.Cooldown - l.nowFunc().Sub(e.lastUploadAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset drops all bookkeeping for one chat. Used after chat deletion.
func (l *Ledger) Reset(userID, chatID string) {
	key := chatKey(userID, chatID)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

// ResetUser drops bookkeeping for every chat of a user.
func (l *Ledger) ResetUser(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prefix := userID + "/"
	for key := range l.entries {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(l.entries, key)
		}
	}
}
