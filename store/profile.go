package store

import (
	"context"
	"time"
)

// Profile field names used for provenance bookkeeping.
const (
	FieldDisplayName = "display_name"
	FieldRole        = "role"
	FieldBackground  = "background"
	FieldInterests   = "interests"
	FieldPreferences = "preferences"
)

// FieldEvidence records which turn last set a profile field and with what
// confidence. Fields are only overwritten by evidence of equal or higher
// confidence.
type FieldEvidence struct {
	TurnID     string  `json:"turn_id"`
	ChatID     string  `json:"chat_id"`
	Confidence float64 `json:"confidence"`
}

// UserProfile is the durable per-user record derived from conversations.
type UserProfile struct {
	UserID      string                   `json:"user_id"`
	DisplayName string                   `json:"display_name,omitempty"`
	Role        string                   `json:"role,omitempty"`
	Interests   []string                 `json:"interests,omitempty"`
	Preferences map[string]string        `json:"preferences,omitempty"`
	Background  string                   `json:"background,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
	Provenance  map[string]FieldEvidence `json:"provenance,omitempty"`
}

// IsEmpty reports whether the profile carries no derived content.
func (p *UserProfile) IsEmpty() bool {
	return p == nil || (p.DisplayName == "" && p.Role == "" && p.Background == "" &&
		len(p.Interests) == 0 && len(p.Preferences) == 0)
}

// Clone returns a deep copy so callers can mutate without racing readers.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	out := *p
	out.Interests = append([]string(nil), p.Interests...)
	if p.Preferences != nil {
		out.Preferences = make(map[string]string, len(p.Preferences))
		for k, v := range p.Preferences {
			out.Preferences[k] = v
		}
	}
	if p.Provenance != nil {
		out.Provenance = make(map[string]FieldEvidence, len(p.Provenance))
		for k, v := range p.Provenance {
			out.Provenance[k] = v
		}
	}
	return &out
}

// ProfileDocStore persists user profiles in a durable document store.
// Read returns (nil, nil) when no profile exists. Write enforces optimistic
// concurrency: it fails with memory.ErrStaleWrite when expectedUpdatedAt no
// longer matches the stored row.
type ProfileDocStore interface {
	Read(ctx context.Context, userID string) (*UserProfile, error)
	Write(ctx context.Context, profile *UserProfile, expectedUpdatedAt time.Time) error
	Delete(ctx context.Context, userID string) error
}
