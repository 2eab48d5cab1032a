package userprofile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hrygo/mnemo/mcos/memory"
)

// FieldValue is one extracted scalar field with its confidence.
type FieldValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Extraction is a partial profile produced by the model from recent turns.
// TurnID and ChatID identify the evidence used for provenance.
type Extraction struct {
	DisplayName *FieldValue       `json:"display_name,omitempty"`
	Role        *FieldValue       `json:"role,omitempty"`
	Background  *FieldValue       `json:"background,omitempty"`
	Interests   []string          `json:"interests,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
	// Confidence gates set-valued fields (preferences) that carry no
	// per-item confidence.
	Confidence float64 `json:"confidence"`

	TurnID string `json:"-"`
	ChatID string `json:"-"`
}

// IsEmpty reports whether the extraction carries nothing to merge.
func (e *Extraction) IsEmpty() bool {
	return e == nil || (e.DisplayName == nil && e.Role == nil && e.Background == nil &&
		len(e.Interests) == 0 && len(e.Preferences) == 0)
}

// ParseExtraction parses the model's JSON output. Markdown code fences are
// tolerated; anything else malformed is an error and the extraction is
// dropped by the caller.
func ParseExtraction(raw string) (*Extraction, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return &Extraction{}, nil
	}

	var ext Extraction
	if err := json.Unmarshal([]byte(cleaned), &ext); err != nil {
		return nil, fmt.Errorf("profile extraction parse: %w", err)
	}
	return &ext, nil
}

const extractionSystemPrompt = `You extract user profile facts from conversation transcripts.
Return ONLY a JSON object with this shape, omitting fields you cannot support with evidence:
{"display_name":{"value":"...","confidence":0.0},
 "role":{"value":"...","confidence":0.0},
 "background":{"value":"...","confidence":0.0},
 "interests":["..."],
 "preferences":{"key":"value"},
 "confidence":0.0}
Confidence is 0..1. Only state facts the user asserted about themselves.
If the transcript contains no profile facts, return {}.`

// BuildExtractionPrompt renders the extraction prompt over recent turns.
func BuildExtractionPrompt(turns []memory.Turn) string {
	var b strings.Builder
	b.WriteString(extractionSystemPrompt)
	b.WriteString("\n\nTranscript:\n")
	for _, t := range turns {
		if t.UserText != "" {
			b.WriteString("user: " + t.UserText + "\n")
		}
		if t.AssistantText != "" {
			b.WriteString("assistant: " + t.AssistantText + "\n")
		}
	}
	return b.String()
}
