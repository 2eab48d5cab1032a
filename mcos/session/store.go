// Package session implements the process-local store of recent conversation
// turns per (userId, chatId). It is the fast first tier of memory: bounded,
// lock-striped, and best-effort; the durable copy lives in the vector store.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/hrygo/mnemo/mcos/internal/keymutex"
	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/mcos/observability/logging"
	"github.com/hrygo/mnemo/mcos/observability/metrics"
)

// Config holds session store tunables.
type Config struct {
	// TurnCap bounds turns per session; oldest are evicted first.
	TurnCap int
	// TTL is the inactivity window before a session is janitor-evicted.
	TTL time.Duration
	// JanitorInterval is the minimum spacing between janitor sweeps.
	JanitorInterval time.Duration
}

// DefaultConfig returns the default session store configuration.
func DefaultConfig() Config {
	return Config{
		TurnCap:         200,
		TTL:             24 * time.Hour,
		JanitorInterval: time.Minute,
	}
}

func (c *Config) normalize() {
	if c.TurnCap <= 0 {
		c.TurnCap = 200
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = time.Minute
	}
}

// chatSession is the transient state for one (userId, chatId). All fields are
// guarded by mu; readers take a consistent snapshot under it.
type chatSession struct {
	mu sync.Mutex

	userID string
	chatID string

	turns   []memory.Turn
	nextSeq int

	summary *memory.RollingSummary

	lastUploadAt   time.Time
	lastSummaryAt  time.Time
	lastAccessedAt time.Time

	// lastExtractSeq is the seq after which the most recent profile
	// extraction ran.
	lastExtractSeq int
}

// Snapshot is a consistent read of session state for context assembly.
type Snapshot struct {
	Turns          []memory.Turn
	Summary        *memory.RollingSummary
	TurnCount      int
	NextSeq        int
	LastUploadAt   time.Time
	LastSummaryAt  time.Time
	LastExtractSeq int
}

// EvictFunc is invoked before a TTL-expired session is dropped, so uncovered
// turns can be flushed first.
type EvictFunc func(userID, chatID string)

// Store is the bounded in-process session store.
type Store struct {
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Exporter

	mu       sync.RWMutex
	sessions map[string]*chatSession

	// creation serializes session creation per chat key so two concurrent
	// first-appends build one session.
	creation *keymutex.KeyMutex

	onEvict EvictFunc

	janitorMu   sync.Mutex
	lastSweepAt time.Time

	// nowFunc is swapped in tests.
	nowFunc func() time.Time
}

// New creates a session store.
func New(cfg Config, logger *logging.Logger, exporter *metrics.Exporter) *Store {
	cfg.normalize()
	if logger == nil {
		logger = logging.Default()
	}
	if exporter == nil {
		exporter = metrics.Nop()
	}
	return &Store{
		cfg:      cfg,
		logger:   logger.WithField("component", "session"),
		metrics:  exporter,
		sessions: make(map[string]*chatSession),
		creation: keymutex.New(64),
		nowFunc:  time.Now,
	}
}

// OnEvict sets the pre-eviction flush hook.
func (s *Store) OnEvict(fn EvictFunc) {
	s.onEvict = fn
}

func sessionKey(userID, chatID string) string {
	return userID + "/" + chatID
}

func (s *Store) lookup(userID, chatID string) (*chatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.sessions[sessionKey(userID, chatID)]
	return cs, ok
}

func (s *Store) getOrCreate(userID, chatID string) *chatSession {
	if cs, ok := s.lookup(userID, chatID); ok {
		return cs
	}

	key := sessionKey(userID, chatID)
	s.creation.Lock(key)
	defer s.creation.Unlock(key)

	// Re-check under the creation stripe.
	if cs, ok := s.lookup(userID, chatID); ok {
		return cs
	}

	cs := &chatSession{
		userID:         userID,
		chatID:         chatID,
		lastAccessedAt: s.nowFunc(),
		lastExtractSeq: -1,
	}
	s.mu.Lock()
	s.sessions[key] = cs
	s.metrics.SetActiveSessions(len(s.sessions))
	s.mu.Unlock()
	return cs
}

// Append validates the turn input, assigns the next seq and a deterministic
// id, and appends the turn. The oldest turn is evicted when the cap is
// exceeded. Returns the completed turn.
func (s *Store) Append(userID, chatID, userText, assistantText string, artifacts []memory.Artifact) (memory.Turn, error) {
	if err := memory.ValidateTurnInput(userID, chatID, userText, assistantText); err != nil {
		return memory.Turn{}, err
	}

	cs := s.getOrCreate(userID, chatID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := s.nowFunc()
	createdAt := now.UnixMilli()
	// Keep createdAt non-decreasing within the chat even under clock skew.
	if n := len(cs.turns); n > 0 && cs.turns[n-1].CreatedAt > createdAt {
		createdAt = cs.turns[n-1].CreatedAt
	}

	turn := memory.Turn{
		ID:            memory.TurnID(userID, chatID, cs.nextSeq, createdAt),
		UserID:        userID,
		ChatID:        chatID,
		Seq:           cs.nextSeq,
		CreatedAt:     createdAt,
		UserText:      userText,
		AssistantText: assistantText,
		Artifacts:     artifacts,
	}
	cs.nextSeq++
	cs.turns = append(cs.turns, turn)
	if len(cs.turns) > s.cfg.TurnCap {
		cs.turns = cs.turns[len(cs.turns)-s.cfg.TurnCap:]
	}
	cs.lastAccessedAt = now

	return turn, nil
}

// Recent returns the last n turns, oldest first. Returns nil when the session
// does not exist.
func (s *Store) Recent(userID, chatID string, n int) []memory.Turn {
	cs, ok := s.lookup(userID, chatID)
	if !ok || n <= 0 {
		return nil
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.lastAccessedAt = s.nowFunc()

	start := len(cs.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]memory.Turn, len(cs.turns)-start)
	copy(out, cs.turns[start:])
	return out
}

// Turns returns all resident turns for a chat, oldest first.
func (s *Store) Turns(userID, chatID string) []memory.Turn {
	cs, ok := s.lookup(userID, chatID)
	if !ok {
		return nil
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.lastAccessedAt = s.nowFunc()
	out := make([]memory.Turn, len(cs.turns))
	copy(out, cs.turns)
	return out
}

// Snapshot returns a consistent view of one session's state. All fields are
// read under the same per-chat lock.
func (s *Store) Snapshot(userID, chatID string) (Snapshot, bool) {
	cs, ok := s.lookup(userID, chatID)
	if !ok {
		return Snapshot{}, false
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.lastAccessedAt = s.nowFunc()

	snap := Snapshot{
		Turns:          make([]memory.Turn, len(cs.turns)),
		TurnCount:      len(cs.turns),
		NextSeq:        cs.nextSeq,
		LastUploadAt:   cs.lastUploadAt,
		LastSummaryAt:  cs.lastSummaryAt,
		LastExtractSeq: cs.lastExtractSeq,
	}
	copy(snap.Turns, cs.turns)
	if cs.summary != nil {
		sum := *cs.summary
		sum.KeyFacts = append([]string(nil), cs.summary.KeyFacts...)
		snap.Summary = &sum
	}
	return snap, true
}

// UpdateSummary replaces the rolling summary atomically. Updates that do not
// advance CoveredThroughSeq are rejected; a summary may never claim coverage
// of turns that do not exist yet.
func (s *Store) UpdateSummary(userID, chatID string, summary memory.RollingSummary) error {
	cs, ok := s.lookup(userID, chatID)
	if !ok {
		return memory.Invalidf("unknown session %s/%s", userID, chatID)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.summary != nil && summary.CoveredThroughSeq <= cs.summary.CoveredThroughSeq {
		return memory.Invalidf("summary coverage %d does not advance past %d",
			summary.CoveredThroughSeq, cs.summary.CoveredThroughSeq)
	}
	if summary.CoveredThroughSeq >= cs.nextSeq {
		return memory.Invalidf("summary coverage %d exceeds last assigned seq %d",
			summary.CoveredThroughSeq, cs.nextSeq-1)
	}

	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = s.nowFunc()
	}
	cs.summary = &summary
	cs.lastSummaryAt = summary.UpdatedAt
	cs.lastAccessedAt = s.nowFunc()
	return nil
}

// SetDerivedSummary records a per-turn derived summary if the turn is still
// resident. Best-effort; evicted turns are skipped silently.
func (s *Store) SetDerivedSummary(userID, chatID, turnID, derived string) {
	cs, ok := s.lookup(userID, chatID)
	if !ok {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for i := range cs.turns {
		if cs.turns[i].ID == turnID {
			cs.turns[i].DerivedSummary = derived
			return
		}
	}
}

// MarkUploaded records the time of the most recent successful long-term write.
func (s *Store) MarkUploaded(userID, chatID string, at time.Time) {
	cs, ok := s.lookup(userID, chatID)
	if !ok {
		return
	}
	cs.mu.Lock()
	cs.lastUploadAt = at
	cs.mu.Unlock()
}

// MarkExtracted records the last seq covered by a profile extraction run.
func (s *Store) MarkExtracted(userID, chatID string, seq int) {
	cs, ok := s.lookup(userID, chatID)
	if !ok {
		return
	}
	cs.mu.Lock()
	if seq > cs.lastExtractSeq {
		cs.lastExtractSeq = seq
	}
	cs.mu.Unlock()
}

// UncoveredTurns returns resident turns beyond the rolling summary coverage,
// oldest first, plus the current summary (nil when absent).
func (s *Store) UncoveredTurns(userID, chatID string) ([]memory.Turn, *memory.RollingSummary) {
	cs, ok := s.lookup(userID, chatID)
	if !ok {
		return nil, nil
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	covered := -1
	var sum *memory.RollingSummary
	if cs.summary != nil {
		covered = cs.summary.CoveredThroughSeq
		c := *cs.summary
		sum = &c
	}
	var out []memory.Turn
	for _, t := range cs.turns {
		if t.Seq > covered {
			out = append(out, t)
		}
	}
	return out, sum
}

// Purge removes one chat, or all chats for a user when chatID is empty.
func (s *Store) Purge(userID, chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.metrics.SetActiveSessions(len(s.sessions)) }()
	if chatID != "" {
		delete(s.sessions, sessionKey(userID, chatID))
		return
	}
	prefix := userID + "/"
	for key := range s.sessions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(s.sessions, key)
		}
	}
}

// ChatIDs lists chat ids with resident sessions for a user.
func (s *Store) ChatIDs(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := userID + "/"
	var out []string
	for key := range s.sessions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, key[len(prefix):])
		}
	}
	return out
}

// Active lists chat ids with resident sessions, grouped by user.
func (s *Store) Active() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string)
	for key := range s.sessions {
		if i := strings.IndexByte(key, '/'); i > 0 {
			out[key[:i]] = append(out[key[:i]], key[i+1:])
		}
	}
	return out
}

// Len returns the number of resident sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
