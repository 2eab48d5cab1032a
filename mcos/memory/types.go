// Package memory defines the shared data model for the memory and context
// orchestration subsystem: turns, rolling summaries, retrieved chunks, and
// the validation rules that gate every entry point.
package memory

import (
	"time"
)

// ArtifactKind identifies the type of a turn artifact.
type ArtifactKind string

const (
	ArtifactImage    ArtifactKind = "image"
	ArtifactDocument ArtifactKind = "document"
)

// Artifact is a reference to a blob produced by a turn. Only the object-store
// URL is kept; bytes never travel through the subsystem.
type Artifact struct {
	Kind   ArtifactKind `json:"kind"`
	URL    string       `json:"url"`
	Prompt string       `json:"prompt,omitempty"`
}

// Turn is one user+assistant exchange, the atomic memory unit.
type Turn struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	ChatID         string     `json:"chat_id"`
	Seq            int        `json:"seq"`
	CreatedAt      int64      `json:"created_at"` // unix milliseconds
	UserText       string     `json:"user_text"`
	AssistantText  string     `json:"assistant_text"`
	Artifacts      []Artifact `json:"artifacts,omitempty"`
	DerivedSummary string     `json:"derived_summary,omitempty"`
}

// HasArtifact reports whether the turn carries at least one artifact.
func (t *Turn) HasArtifact() bool {
	return len(t.Artifacts) > 0
}

// FirstArtifactURL returns the URL of the first artifact, or "".
func (t *Turn) FirstArtifactURL() string {
	if len(t.Artifacts) == 0 {
		return ""
	}
	return t.Artifacts[0].URL
}

// RollingSummary is the compressed representation of turns up to
// CoveredThroughSeq. Content beyond that seq is "uncovered".
type RollingSummary struct {
	Text              string    `json:"text"`
	KeyFacts          []string  `json:"key_facts,omitempty"`
	CoveredThroughSeq int       `json:"covered_through_seq"`
	UpdatedAt         time.Time `json:"updated_at"`
	Source            string    `json:"source,omitempty"` // "llm" | "fallback_first_para" | "fallback_first_sentence" | "fallback_truncate"
}

// Chunk is a unit of retrieved long-term or document content, ready for
// inclusion in a context bundle.
type Chunk struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	Source    string  `json:"source"` // "conversation" | "summary" | "profile" | "document"
	Score     float32 `json:"score"`
	ChatID    string  `json:"chat_id,omitempty"`
	Seq       int     `json:"seq,omitempty"`
	CreatedAt int64   `json:"created_at,omitempty"`
}

// Role labels the origin of an embedded record.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSummary   Role = "summary"
	RoleProfile   Role = "profile"
)

// Kind classifies vector records for retrieval tie-breaking and scoped deletes.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindSummary      Kind = "summary"
	KindProfile      Kind = "profile"
)

// TieBreakRank orders kinds for equal-similarity results: summaries beat raw
// conversation, which beats profile slices.
func (k Kind) TieBreakRank() int {
	switch k {
	case KindSummary:
		return 0
	case KindConversation:
		return 1
	case KindProfile:
		return 2
	default:
		return 3
	}
}
