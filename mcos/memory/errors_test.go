package memory

import (
	"errors"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransient(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Transient(nil))
	})

	t.Run("marked errors are detected through wrapping", func(t *testing.T) {
		err := Transient(errors.New("connection reset"))
		require.Error(t, err)
		assert.True(t, IsTransient(err))

		wrapped := pkgerrors.Wrap(err, "upsert batch")
		assert.True(t, IsTransient(wrapped))
	})

	t.Run("plain errors are not transient", func(t *testing.T) {
		assert.False(t, IsTransient(errors.New("boom")))
		assert.False(t, IsTransient(ErrInvalidInput))
	})
}

func TestInvalidf(t *testing.T) {
	err := Invalidf("user id %q", "bad id")
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "bad id")
}

func TestValidateTurnInput(t *testing.T) {
	big := strings.Repeat("x", MaxContentBytes+1)

	testCases := []struct {
		name          string
		userID        string
		chatID        string
		userText      string
		assistantText string
		wantErr       bool
	}{
		{"valid", "u1", "c1", "hello", "hi", false},
		{"assistant only", "u1", "c1", "", "hi", false},
		{"user only", "u1", "c1", "hello", "", false},
		{"both empty", "u1", "c1", "", "", true},
		{"bad user id", "u 1", "c1", "hello", "", true},
		{"bad chat id", "u1", "", "hello", "", true},
		{"oversize user text", "u1", "c1", big, "", true},
		{"oversize assistant text", "u1", "c1", "", big, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTurnInput(tc.userID, tc.chatID, tc.userText, tc.assistantText)
			if tc.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidInput))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTieBreakRank(t *testing.T) {
	assert.Less(t, KindSummary.TieBreakRank(), KindConversation.TieBreakRank())
	assert.Less(t, KindConversation.TieBreakRank(), KindProfile.TieBreakRank())
}
