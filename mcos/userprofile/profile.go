// Package userprofile maintains the durable per-user profile derived from
// conversations: confidence-gated merges, provenance bookkeeping, optimistic
// writes with retry, and the textual rendering used in prompts and embeddings.
package userprofile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hrygo/mnemo/mcos/cache"
	"github.com/hrygo/mnemo/mcos/internal/strutil"
	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/mcos/observability/logging"
	"github.com/hrygo/mnemo/mcos/observability/metrics"
	"github.com/hrygo/mnemo/store"
)

// Config holds profile store tunables.
type Config struct {
	// InterestsCap bounds the interests set.
	InterestsCap int
	// StaleWriteRetries is how many fresh-read retries a merge gets before
	// giving up silently.
	StaleWriteRetries int
	// CacheSize / CacheTTL configure the read-through cache.
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultConfig returns the default profile store configuration.
func DefaultConfig() Config {
	return Config{
		InterestsCap:      50,
		StaleWriteRetries: 3,
		CacheSize:         1024,
		CacheTTL:          5 * time.Minute,
	}
}

func (c *Config) normalize() {
	if c.InterestsCap <= 0 {
		c.InterestsCap = 50
	}
	if c.StaleWriteRetries <= 0 {
		c.StaleWriteRetries = 3
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1024
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
}

// VectorDeleter is the slice of the vector memory the profile store needs for
// deletes. Satisfied by *vectormem.Memory.
type VectorDeleter interface {
	DeleteProfile(ctx context.Context, userID string) error
}

// Store is the profile component.
type Store struct {
	cfg     Config
	docs    store.ProfileDocStore
	vectors VectorDeleter
	cache   *cache.LRU[string, *store.UserProfile]
	logger  *logging.Logger
	metrics *metrics.Exporter
	nowFunc func() time.Time
}

// New creates a profile store. vectors may be nil; deletes then skip the
// vector tier.
func New(cfg Config, docs store.ProfileDocStore, vectors VectorDeleter, logger *logging.Logger, exporter *metrics.Exporter) *Store {
	cfg.normalize()
	if logger == nil {
		logger = logging.Default()
	}
	if exporter == nil {
		exporter = metrics.Nop()
	}
	return &Store{
		cfg:     cfg,
		docs:    docs,
		vectors: vectors,
		cache:   cache.NewLRU[string, *store.UserProfile](cfg.CacheSize, cfg.CacheTTL),
		logger:  logger.WithField("component", "userprofile"),
		metrics: exporter,
	}
}

func (s *Store) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}

// Get returns the user's profile, or a default empty profile when none is
// stored. Reads go through the LRU cache.
func (s *Store) Get(ctx context.Context, userID string) (*store.UserProfile, error) {
	if !memory.ValidID(userID) {
		return nil, memory.Invalidf("user id %q", userID)
	}

	if p, ok := s.cache.Get(userID); ok {
		s.metrics.ProfileCache("hit")
		return p.Clone(), nil
	}
	s.metrics.ProfileCache("miss")

	p, err := s.docs.Read(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &store.UserProfile{UserID: userID}
	}
	s.cache.Set(userID, p.Clone(), 0)
	return p, nil
}

// Merge applies a partial extraction field-by-field. Scalar fields overwrite
// only when the incoming confidence is at least the recorded one; interests
// union with a cap; preference keys are gated individually. Optimistic write
// conflicts retry with a fresh read; after the retry budget the merge is
// dropped silently (the profile is best-effort).
func (s *Store) Merge(ctx context.Context, userID string, ext *Extraction) error {
	if !memory.ValidID(userID) {
		return memory.Invalidf("user id %q", userID)
	}
	if ext == nil || ext.IsEmpty() {
		return nil
	}

	for attempt := 0; attempt <= s.cfg.StaleWriteRetries; attempt++ {
		current, err := s.docs.Read(ctx, userID)
		if err != nil {
			return err
		}
		expected := time.Time{}
		if current != nil {
			expected = current.UpdatedAt
		} else {
			current = &store.UserProfile{UserID: userID, CreatedAt: s.now()}
		}

		merged, changed := s.apply(current.Clone(), ext)
		if !changed {
			return nil
		}
		merged.UpdatedAt = s.now()

		err = s.docs.Write(ctx, merged, expected)
		if err == nil {
			s.cache.Delete(userID)
			return nil
		}
		if !errors.Is(err, memory.ErrStaleWrite) {
			return err
		}
		s.logger.Debug("profile write conflict, re-reading", "user_id", userID, "attempt", attempt+1)
	}

	s.logger.Warn("profile merge dropped after retries", "user_id", userID)
	return nil
}

// apply merges ext into p, returning whether anything changed.
func (s *Store) apply(p *store.UserProfile, ext *Extraction) (*store.UserProfile, bool) {
	if p.Provenance == nil {
		p.Provenance = make(map[string]store.FieldEvidence)
	}
	changed := false

	setScalar := func(field string, f *FieldValue, dst *string) {
		if f == nil || f.Value == "" {
			return
		}
		if existing, ok := p.Provenance[field]; ok && f.Confidence < existing.Confidence {
			return
		}
		if *dst != f.Value {
			changed = true
		}
		*dst = f.Value
		p.Provenance[field] = store.FieldEvidence{
			TurnID:     ext.TurnID,
			ChatID:     ext.ChatID,
			Confidence: f.Confidence,
		}
	}

	setScalar(store.FieldDisplayName, ext.DisplayName, &p.DisplayName)
	setScalar(store.FieldRole, ext.Role, &p.Role)
	setScalar(store.FieldBackground, ext.Background, &p.Background)

	if len(ext.Interests) > 0 {
		existing := make(map[string]struct{}, len(p.Interests))
		for _, it := range p.Interests {
			existing[strings.ToLower(it)] = struct{}{}
		}
		for _, it := range ext.Interests {
			it = strings.TrimSpace(it)
			if it == "" {
				continue
			}
			if _, ok := existing[strings.ToLower(it)]; ok {
				continue
			}
			if len(p.Interests) >= s.cfg.InterestsCap {
				break
			}
			p.Interests = append(p.Interests, it)
			existing[strings.ToLower(it)] = struct{}{}
			changed = true
		}
	}

	for k, v := range ext.Preferences {
		field := "pref:" + k
		if existing, ok := p.Provenance[field]; ok && ext.Confidence < existing.Confidence {
			continue
		}
		if p.Preferences == nil {
			p.Preferences = make(map[string]string)
		}
		if p.Preferences[k] != v {
			changed = true
		}
		p.Preferences[k] = v
		p.Provenance[field] = store.FieldEvidence{
			TurnID:     ext.TurnID,
			ChatID:     ext.ChatID,
			Confidence: ext.Confidence,
		}
	}

	return p, changed
}

// InvalidateEvidence clears provenance entries sourced from chatID. Once the
// evidence chat is deleted, any future extraction may overwrite those fields
// regardless of confidence.
func (s *Store) InvalidateEvidence(ctx context.Context, userID, chatID string) error {
	for attempt := 0; attempt <= s.cfg.StaleWriteRetries; attempt++ {
		p, err := s.docs.Read(ctx, userID)
		if err != nil || p == nil || len(p.Provenance) == 0 {
			return err
		}
		changed := false
		for field, ev := range p.Provenance {
			if ev.ChatID == chatID {
				delete(p.Provenance, field)
				changed = true
			}
		}
		if !changed {
			return nil
		}
		expected := p.UpdatedAt
		p.UpdatedAt = s.now()
		if err := s.docs.Write(ctx, p, expected); err == nil {
			s.cache.Delete(userID)
			return nil
		} else if !errors.Is(err, memory.ErrStaleWrite) {
			return err
		}
	}
	return nil
}

// Delete removes the profile row and its vector-store copy.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if !memory.ValidID(userID) {
		return memory.Invalidf("user id %q", userID)
	}
	if err := s.docs.Delete(ctx, userID); err != nil {
		return err
	}
	s.cache.Delete(userID)
	if s.vectors != nil {
		return s.vectors.DeleteProfile(ctx, userID)
	}
	return nil
}

// RenderText renders the profile slice used in prompts and embeddings: name,
// role, up to five interests, and the first 200 characters of background.
func RenderText(p *store.UserProfile) string {
	if p.IsEmpty() {
		return ""
	}
	var b strings.Builder
	if p.DisplayName != "" {
		b.WriteString("Name: " + p.DisplayName + ". ")
	}
	if p.Role != "" {
		b.WriteString("Role: " + p.Role + ". ")
	}
	if len(p.Interests) > 0 {
		top := p.Interests
		if len(top) > 5 {
			top = top[:5]
		}
		b.WriteString("Interests: " + strings.Join(top, ", ") + ". ")
	}
	if p.Background != "" {
		b.WriteString("Background: " + strutil.Truncate(p.Background, 200))
	}
	return strings.TrimSpace(b.String())
}
