// Package assembler builds the bounded, prompt-ready context bundle for one
// user turn. It reads the memory tiers in cost order (session snapshot,
// profile, long-term retrieval, document chunks), decides whether retrieval
// is worth paying for, and trims the result to the token cap. Downstream
// failures degrade sections instead of failing the turn.
package assembler

import (
	"context"
	"time"

	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/mcos/model"
	"github.com/hrygo/mnemo/mcos/observability/logging"
	"github.com/hrygo/mnemo/mcos/observability/metrics"
	"github.com/hrygo/mnemo/mcos/session"
	"github.com/hrygo/mnemo/mcos/userprofile"
	"github.com/hrygo/mnemo/mcos/vectormem"
	"github.com/hrygo/mnemo/store"
)

// Retrieval decision reasons, logged and counted.
const (
	ReasonSkipped       = "skipped"
	ReasonSparseLocal   = "sparse_local"
	ReasonIntent        = "intent"
	ReasonTriggerPhrase = "trigger_phrase"
)

// SessionReader is the slice of the session store the assembler needs.
type SessionReader interface {
	Snapshot(userID, chatID string) (session.Snapshot, bool)
}

// ProfileReader is the slice of the profile store the assembler needs.
type ProfileReader interface {
	Get(ctx context.Context, userID string) (*store.UserProfile, error)
}

// Retriever is the slice of the vector memory the assembler needs.
type Retriever interface {
	Query(ctx context.Context, userID, query string, k int, scope vectormem.Scope) ([]memory.Chunk, error)
}

// IntentClassifier tags the user message for the retrieval decision.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, message string) (model.Intent, error)
}

// Config holds assembler tunables.
type Config struct {
	// RecentN is how many recent turns to pull from the session tier.
	RecentN int
	// MinLocalTurns is the local-tier threshold below which retrieval runs.
	MinLocalTurns int
	// TokenCap is the hard ceiling on the assembled bundle.
	TokenCap int
	// SummaryTokenCap is the rolling summary's trimmed size under pressure.
	SummaryTokenCap int
	// TopK is the retrieval depth.
	TopK int
	// DocumentChunks is how many document chunks to request.
	DocumentChunks int
	// Deadline bounds one assembly; on expiry the bundle is partial.
	Deadline time.Duration
}

// DefaultConfig returns the default assembler configuration.
func DefaultConfig() Config {
	return Config{
		RecentN:         5,
		MinLocalTurns:   3,
		TokenCap:        6000,
		SummaryTokenCap: 400,
		TopK:            10,
		DocumentChunks:  3,
		Deadline:        3 * time.Second,
	}
}

func (c *Config) normalize() {
	if c.RecentN <= 0 {
		c.RecentN = 5
	}
	if c.MinLocalTurns <= 0 {
		c.MinLocalTurns = 3
	}
	if c.TokenCap <= 0 {
		c.TokenCap = 6000
	}
	if c.SummaryTokenCap <= 0 {
		c.SummaryTokenCap = 400
	}
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.DocumentChunks <= 0 {
		c.DocumentChunks = 3
	}
	if c.Deadline < 0 {
		c.Deadline = 3 * time.Second
	}
}

// Options modify one assembly call.
type Options struct {
	// DocumentID requests document chunks from the document cache.
	DocumentID string
	// Deadline overrides the configured deadline. The zero value is
	// deliberately "not set" and keeps the configured default, so callers
	// who leave Options empty get normal assembly. To assemble without
	// waiting at all, pass a negative value: only synchronously available
	// sections are returned and the bundle is marked partial.
	Deadline time.Duration
}

// TokenBudget reports bundle size against the cap.
type TokenBudget struct {
	Used int `json:"used"`
	Cap  int `json:"cap"`
}

// ContextBundle is the prompt-ready assembly result.
type ContextBundle struct {
	ProfileText     string         `json:"profile_text,omitempty"`
	RollingSummary  string         `json:"rolling_summary,omitempty"`
	KeyFacts        []string       `json:"key_facts,omitempty"`
	RecentTurns     []memory.Turn  `json:"recent_turns,omitempty"`
	RetrievedChunks []memory.Chunk `json:"retrieved_chunks,omitempty"`
	DocumentChunks  []memory.Chunk `json:"document_chunks,omitempty"`
	TokenBudget     TokenBudget    `json:"token_budget"`

	// Partial marks a bundle cut short by the deadline; Degraded marks one
	// with sections omitted after downstream failures.
	Partial  bool     `json:"partial,omitempty"`
	Degraded bool     `json:"degraded,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	// RetrievalReason records why long-term retrieval ran (or "skipped").
	RetrievalReason string `json:"retrieval_reason"`
}

// Assembler builds context bundles.
type Assembler struct {
	cfg      Config
	sessions SessionReader
	profiles ProfileReader
	vectors  Retriever
	intents  IntentClassifier
	docs     store.DocumentCache
	logger   *logging.Logger
	metrics  *metrics.Exporter
}

// New creates an assembler. docs may be nil; document chunks are then
// unavailable. intents may be nil; the keyword classifier is used.
func New(cfg Config, sessions SessionReader, profiles ProfileReader, vectors Retriever,
	intents IntentClassifier, docs store.DocumentCache,
	logger *logging.Logger, exporter *metrics.Exporter,
) *Assembler {
	cfg.normalize()
	if logger == nil {
		logger = logging.Default()
	}
	if exporter == nil {
		exporter = metrics.Nop()
	}
	if intents == nil {
		intents = model.KeywordClassifier{}
	}
	return &Assembler{
		cfg:      cfg,
		sessions: sessions,
		profiles: profiles,
		vectors:  vectors,
		intents:  intents,
		docs:     docs,
		logger:   logger.WithField("component", "assembler"),
		metrics:  exporter,
	}
}

// AssembleContext builds the bundle for one turn. Only invalid input is an
// error; everything downstream degrades.
func (a *Assembler) AssembleContext(ctx context.Context, userID, chatID, userMessage string, opts Options) (*ContextBundle, error) {
	if userMessage == "" {
		return nil, memory.Invalidf("empty user message")
	}
	if !memory.ValidID(userID) {
		return nil, memory.Invalidf("user id %q", userID)
	}
	if !memory.ValidID(chatID) {
		return nil, memory.Invalidf("chat id %q", chatID)
	}

	start := time.Now()
	defer func() { a.metrics.ObserveAssemble(time.Since(start)) }()

	deadline := a.cfg.Deadline
	if opts.Deadline != 0 {
		deadline = opts.Deadline
	}
	noWait := deadline < 0
	if !noWait && deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	log := a.logger.WithFields(map[string]any{"user_id": userID, "chat_id": chatID})
	bundle := &ContextBundle{TokenBudget: TokenBudget{Cap: a.cfg.TokenCap}}

	// Session tier: always synchronously available.
	snap, haveSession := a.sessions.Snapshot(userID, chatID)
	var recent []memory.Turn
	if haveSession {
		recent = lastN(snap.Turns, a.cfg.RecentN)
	}
	bundle.RecentTurns = recent
	if haveSession && snap.Summary != nil {
		bundle.RollingSummary = snap.Summary.Text
		bundle.KeyFacts = snap.Summary.KeyFacts
	}

	var background string
	if a.sectionAllowed(ctx, noWait, bundle) {
		background = a.addProfile(ctx, userID, bundle, log)
	}

	reason := a.retrievalReason(ctx, userMessage, len(recent))
	bundle.RetrievalReason = reason
	a.metrics.RetrievalDecision(reason)
	log.Info("retrieval decision", "reason", reason, "local_turns", len(recent))

	if reason != ReasonSkipped && a.sectionAllowed(ctx, noWait, bundle) {
		a.addRetrieved(ctx, userID, chatID, userMessage, len(recent), bundle, log)
	}

	if opts.DocumentID != "" && a.sectionAllowed(ctx, noWait, bundle) {
		a.addDocumentChunks(ctx, opts.DocumentID, userMessage, bundle, log)
	}

	a.applyBudget(bundle, background, userMessage)

	if bundle.Partial {
		a.metrics.PartialBundle()
	}
	return bundle, nil
}

// sectionAllowed reports whether another network-bound section may run, and
// marks the bundle partial when it may not.
func (a *Assembler) sectionAllowed(ctx context.Context, noWait bool, bundle *ContextBundle) bool {
	if noWait || ctx.Err() != nil {
		bundle.Partial = true
		return false
	}
	return true
}

// addProfile fetches and renders the profile slice. Returns the background
// text separately so budgeting can trim it without touching identity fields.
func (a *Assembler) addProfile(ctx context.Context, userID string, bundle *ContextBundle, log *logging.Logger) string {
	profile, err := a.profiles.Get(ctx, userID)
	if err != nil {
		bundle.Degraded = true
		bundle.Warnings = append(bundle.Warnings, "profile unavailable")
		log.Warn("profile fetch failed, omitting section", "error", err)
		return ""
	}
	if profile.IsEmpty() {
		return ""
	}
	background := profile.Background
	trimmed := profile.Clone()
	trimmed.Background = ""
	bundle.ProfileText = userprofile.RenderText(trimmed)
	return background
}

// retrievalReason implements the cost-saving decision: retrieval runs iff the
// local tier is sparse, the intent classifier flags a reference to the past,
// or the message carries a recall trigger phrase.
func (a *Assembler) retrievalReason(ctx context.Context, userMessage string, localTurns int) string {
	if localTurns < a.cfg.MinLocalTurns {
		return ReasonSparseLocal
	}
	if model.HasRecallTrigger(userMessage) {
		return ReasonTriggerPhrase
	}
	if intent, err := a.intents.ClassifyIntent(ctx, userMessage); err == nil && intent == model.IntentReferencesPast {
		return ReasonIntent
	}
	return ReasonSkipped
}

// addRetrieved runs long-term retrieval. An empty local tier means a new chat
// (or cold process), so the whole user's memory is in scope; otherwise the
// current chat, widened to the whole user when the chat yields too little.
func (a *Assembler) addRetrieved(ctx context.Context, userID, chatID, userMessage string, localTurns int, bundle *ContextBundle, log *logging.Logger) {
	scope := vectormem.ChatOnly(chatID)
	if localTurns == 0 {
		scope = vectormem.WholeUser()
	}

	chunks, err := a.vectors.Query(ctx, userID, userMessage, a.cfg.TopK, scope)
	if err != nil {
		bundle.Degraded = true
		bundle.Warnings = append(bundle.Warnings, "retrieval unavailable")
		log.Warn("retrieval failed, omitting section", "error", err)
		return
	}

	if scope.IsChatScoped() && len(chunks) < a.cfg.TopK/2 {
		wider, err := a.vectors.Query(ctx, userID, userMessage, a.cfg.TopK, vectormem.WholeUser())
		if err == nil {
			chunks = mergeChunks(chunks, wider, a.cfg.TopK)
		} else {
			log.Warn("whole-user retrieval failed, keeping chat-scoped results", "error", err)
		}
	}

	bundle.RetrievedChunks = chunks
}

func (a *Assembler) addDocumentChunks(ctx context.Context, documentID, userMessage string, bundle *ContextBundle, log *logging.Logger) {
	if a.docs == nil {
		bundle.Warnings = append(bundle.Warnings, "document cache not configured")
		return
	}
	chunks, err := a.docs.TopChunks(ctx, documentID, userMessage, a.cfg.DocumentChunks)
	if err != nil {
		bundle.Degraded = true
		bundle.Warnings = append(bundle.Warnings, "document chunks unavailable")
		log.Warn("document chunk fetch failed, omitting section", "error", err, "document_id", documentID)
		return
	}
	bundle.DocumentChunks = chunks
}

func lastN(turns []memory.Turn, n int) []memory.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// mergeChunks appends wider-scope results not already present, preserving
// rank order, bounded to k.
func mergeChunks(primary, wider []memory.Chunk, k int) []memory.Chunk {
	seen := make(map[string]struct{}, len(primary))
	for _, c := range primary {
		seen[c.ID] = struct{}{}
	}
	out := primary
	for _, c := range wider {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		if len(out) >= k {
			break
		}
		out = append(out, c)
		seen[c.ID] = struct{}{}
	}
	return out
}
