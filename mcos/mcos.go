// Package mcos wires the memory tiers into one service: the in-process
// session store, the upload ledger, vector memory, the user profile store,
// the context assembler and the persistence orchestrator. Hosts construct a
// Service with their storage drivers and model adapter and talk to the
// facade only.
package mcos

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/mcos/assembler"
	"github.com/hrygo/mnemo/mcos/ledger"
	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/mcos/model"
	"github.com/hrygo/mnemo/mcos/observability/logging"
	"github.com/hrygo/mnemo/mcos/observability/metrics"
	"github.com/hrygo/mnemo/mcos/orchestrator"
	"github.com/hrygo/mnemo/mcos/session"
	"github.com/hrygo/mnemo/mcos/summarize"
	"github.com/hrygo/mnemo/mcos/userprofile"
	"github.com/hrygo/mnemo/mcos/vectormem"
	"github.com/hrygo/mnemo/store"
)

// Options carry the external collaborators. VectorStore, ProfileDocs and
// Adapter are required; the rest are optional.
type Options struct {
	VectorStore store.VectorStore
	ProfileDocs store.ProfileDocStore
	Adapter     model.Adapter

	// Objects holds artifact blobs. Optional; without it PutArtifact fails.
	Objects store.ObjectStore
	// Documents serves pre-extracted document chunks. Optional.
	Documents store.DocumentCache
	// Intents overrides the keyword intent classifier. Optional.
	Intents assembler.IntentClassifier

	Logger  *logging.Logger
	Metrics *metrics.Exporter
}

// Service is the memory subsystem facade.
type Service struct {
	cfg  Config
	opts Options

	sessions  *session.Store
	uploads   *ledger.Ledger
	vectors   *vectormem.Memory
	profiles  *userprofile.Store
	assembler *assembler.Assembler
	orch      *orchestrator.Orchestrator

	logger  *logging.Logger
	metrics *metrics.Exporter
}

// New wires the tiers together and starts the background worker pool. Call
// StartJanitor to enable session TTL eviction, and Close on shutdown.
func New(cfg Config, opts Options) (*Service, error) {
	if opts.VectorStore == nil {
		return nil, errors.New("vector store required")
	}
	if opts.ProfileDocs == nil {
		return nil, errors.New("profile doc store required")
	}
	if opts.Adapter == nil {
		return nil, errors.New("model adapter required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	exporter := opts.Metrics
	if exporter == nil {
		exporter = metrics.Nop()
	}

	sessions := session.New(cfg.Session, logger, exporter)
	uploads := ledger.New(cfg.Ledger, opts.VectorStore, logger)
	vectors := vectormem.New(cfg.Vector, opts.VectorStore, opts.Adapter, logger, exporter)
	profiles := userprofile.New(cfg.Profile, opts.ProfileDocs, vectors, logger, exporter)
	summarizer := summarize.New(opts.Adapter, logger)

	asm := assembler.New(cfg.Assembler, sessions, profiles, vectors, opts.Intents, opts.Documents, logger, exporter)
	orch := orchestrator.New(cfg.Orchestrator, sessions, uploads, vectors, profiles, summarizer, opts.Adapter, logger, exporter)

	return &Service{
		cfg:       cfg,
		opts:      opts,
		sessions:  sessions,
		uploads:   uploads,
		vectors:   vectors,
		profiles:  profiles,
		assembler: asm,
		orch:      orch,
		logger:    logger,
		metrics:   exporter,
	}, nil
}

// StartJanitor begins periodic TTL eviction of idle sessions. Evicted
// sessions are flushed through the orchestrator first. Stops when ctx ends.
func (s *Service) StartJanitor(ctx context.Context) {
	s.sessions.StartJanitor(ctx)
}

// RecordTurn appends a completed turn and schedules background persistence.
// Returns the deterministic turn id.
func (s *Service) RecordTurn(ctx context.Context, userID, chatID, userText, assistantText string, artifacts []memory.Artifact) (string, error) {
	return s.orch.RecordTurn(ctx, userID, chatID, userText, assistantText, artifacts)
}

// AssembleContext builds the prompt-ready bundle for the next user message.
func (s *Service) AssembleContext(ctx context.Context, userID, chatID, userMessage string, opts assembler.Options) (*assembler.ContextBundle, error) {
	return s.assembler.AssembleContext(ctx, userID, chatID, userMessage, opts)
}

// SearchTurns runs a keyword search over the resident session turns.
func (s *Service) SearchTurns(userID, chatID, query string, limit int) []memory.Turn {
	return s.sessions.Search(userID, chatID, query, limit)
}

// PutArtifact stores artifact bytes in the object store and returns the URL
// to attach to a turn.
func (s *Service) PutArtifact(ctx context.Context, userID, chatID string, data []byte, contentType string) (string, error) {
	if s.opts.Objects == nil {
		return "", errors.New("object store not configured")
	}
	return s.opts.Objects.PutArtifact(ctx, userID, chatID, data, contentType)
}

// Profile returns the user's derived profile (empty, not nil, when absent).
func (s *Service) Profile(ctx context.Context, userID string) (*store.UserProfile, error) {
	return s.profiles.Get(ctx, userID)
}

// EndChat drains and flushes one chat. With force the session is released
// after a successful flush.
func (s *Service) EndChat(ctx context.Context, userID, chatID string, force bool) error {
	return s.orch.EndChat(ctx, userID, chatID, force)
}

// SaveAll flushes every resident chat of one user.
func (s *Service) SaveAll(ctx context.Context, userID string) error {
	return s.orch.SaveAll(ctx, userID, s.sessions.ChatIDs(userID))
}

// Flush force-flushes every resident session. Used on shutdown.
func (s *Service) Flush(ctx context.Context) error {
	var firstErr error
	for userID, chatIDs := range s.sessions.Active() {
		if err := s.orch.SaveAll(ctx, userID, chatIDs); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeleteChat removes one chat from every memory tier.
func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) error {
	return s.orch.DeleteChat(ctx, userID, chatID)
}

// DeleteUser removes every trace of the user. Runs to completion once begun.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	return s.orch.DeleteUser(ctx, userID)
}

// Stats reports subsystem-level diagnostics.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	vs, err := s.vectors.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		ActiveSessions: s.sessions.Len(),
		VectorCount:    vs.VectorCount,
	}, nil
}

// Stats is a point-in-time view of the subsystem.
type Stats struct {
	ActiveSessions int   `json:"active_sessions"`
	VectorCount    int64 `json:"vector_count"`
}

// Close flushes every session and drains the worker pool within timeout.
func (s *Service) Close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.logger.Warn("flush on close failed", "error", err)
	}
	return s.orch.Close(timeout)
}
