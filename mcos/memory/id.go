package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

// idPattern is the required shape for user and chat identifiers. The host is
// responsible for translating its own conventions into this form.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidID reports whether s is an acceptable user or chat identifier.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// TurnID derives the globally unique, deterministic id for a turn from its
// coordinates. The same coordinates always produce the same id, so duplicate
// insertion is detectable without extra state.
func TurnID(userID, chatID string, seq int, createdAt int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d", userID, chatID, seq, createdAt)))
	return hex.EncodeToString(sum[:16])
}

// RecordID builds the vector-store id for one half of a turn:
// "{userId}:{chatId}:{turnId}:{role}". Profile records use an empty chatId
// and turnId segment.
func RecordID(userID, chatID, turnID string, role Role) string {
	return fmt.Sprintf("%s:%s:%s:%s", userID, chatID, turnID, role)
}
