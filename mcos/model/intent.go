package model

import (
	"context"
	"strings"
)

// RecallTriggers is the closed list of phrases that force long-term
// retrieval. Matching is case-insensitive substring.
var RecallTriggers = []string{
	"remember",
	"earlier",
	"last time",
	"we discussed",
	"you said",
	"my name",
	"my preferences",
}

// HasRecallTrigger reports whether the message contains any recall trigger
// phrase.
func HasRecallTrigger(message string) bool {
	lower := strings.ToLower(message)
	for _, trigger := range RecallTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}

var imageTriggers = []string{"draw", "generate an image", "make a picture", "illustrate"}

var documentTriggers = []string{"in the document", "in this file", "the attached", "the pdf"}

// KeywordClassifier is a deterministic, zero-cost intent classifier built on
// the recall trigger list. It satisfies the classification contract without a
// model round trip and is the default when no LLM classifier is configured.
type KeywordClassifier struct{}

// ClassifyIntent tags a message by keyword matching.
func (KeywordClassifier) ClassifyIntent(_ context.Context, message string) (Intent, error) {
	lower := strings.ToLower(message)
	for _, t := range documentTriggers {
		if strings.Contains(lower, t) {
			return IntentDocumentQuery, nil
		}
	}
	for _, t := range imageTriggers {
		if strings.Contains(lower, t) {
			return IntentImageRequest, nil
		}
	}
	if HasRecallTrigger(message) {
		return IntentReferencesPast, nil
	}
	return IntentNormal, nil
}
