package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpired(t *testing.T) {
	s := newTestStore(Config{TTL: time.Hour, JanitorInterval: time.Minute})
	now := time.Now()
	s.nowFunc = func() time.Time { return now }

	mustAppend(t, s, "u1", "stale")
	now = now.Add(30 * time.Minute)
	mustAppend(t, s, "u1", "fresh")

	var flushed [][2]string
	s.OnEvict(func(userID, chatID string) {
		flushed = append(flushed, [2]string{userID, chatID})
	})

	t.Run("evicts only sessions past the TTL", func(t *testing.T) {
		now = now.Add(45 * time.Minute) // stale at 75m idle, fresh at 45m
		evicted := s.SweepExpired()
		assert.Equal(t, 1, evicted)
		assert.Nil(t, s.Turns("u1", "stale"))
		assert.NotNil(t, s.Turns("u1", "fresh"))

		require.Len(t, flushed, 1)
		assert.Equal(t, [2]string{"u1", "stale"}, flushed[0])
	})

	t.Run("sweeps are rate limited", func(t *testing.T) {
		now = now.Add(30 * time.Second) // under the janitor interval
		assert.Equal(t, 0, s.SweepExpired())
	})

	t.Run("reads refresh last access", func(t *testing.T) {
		now = now.Add(50 * time.Minute)
		s.Turns("u1", "fresh") // touch
		now = now.Add(30 * time.Minute)
		assert.Equal(t, 0, s.SweepExpired())
		assert.NotNil(t, s.Turns("u1", "fresh"))
	})
}
