package memory

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the subsystem error taxonomy. Callers classify with
// errors.Is; wrapping preserves the class across package boundaries.
var (
	// ErrInvalidInput marks malformed ids, empty-on-both-sides turns, or
	// oversize content. Always fatal to the caller, never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrChatDraining is returned when a write arrives for a chat that is
	// mid-flush. Callers should retry after a short delay.
	ErrChatDraining = errors.New("chat draining")

	// ErrStaleWrite marks an optimistic-concurrency failure on a profile
	// write. Recovered internally with a fresh read.
	ErrStaleWrite = errors.New("stale write")

	// ErrTerminal marks a job that exhausted its retry budget and was
	// dead-lettered.
	ErrTerminal = errors.New("terminal failure")
)

// transientError wraps an error that is worth retrying with backoff.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Invalidf builds an ErrInvalidInput with a formatted message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}

// MaxContentBytes is the hard cap on a single turn half and on embedded
// record content.
const MaxContentBytes = 8 * 1024

// ValidateTurnInput checks ids and content for a new turn. Either text half
// may be empty, but not both.
func ValidateTurnInput(userID, chatID, userText, assistantText string) error {
	if !ValidID(userID) {
		return Invalidf("user id %q", userID)
	}
	if !ValidID(chatID) {
		return Invalidf("chat id %q", chatID)
	}
	if userText == "" && assistantText == "" {
		return Invalidf("turn has no content on either side")
	}
	if len(userText) > MaxContentBytes {
		return Invalidf("user text exceeds %d bytes", MaxContentBytes)
	}
	if len(assistantText) > MaxContentBytes {
		return Invalidf("assistant text exceeds %d bytes", MaxContentBytes)
	}
	return nil
}
