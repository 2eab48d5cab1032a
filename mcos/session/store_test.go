package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemo/mcos/memory"
)

func newTestStore(cfg Config) *Store {
	return New(cfg, nil, nil)
}

func TestStore_Append(t *testing.T) {
	s := newTestStore(Config{})

	t.Run("assigns dense seq from zero", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			turn, err := s.Append("u1", "c1", "hello", "hi", nil)
			require.NoError(t, err)
			assert.Equal(t, i, turn.Seq)
			assert.NotEmpty(t, turn.ID)
		}
	})

	t.Run("id is deterministic from coordinates", func(t *testing.T) {
		turns := s.Turns("u1", "c1")
		require.NotEmpty(t, turns)
		first := turns[0]
		assert.Equal(t, memory.TurnID("u1", "c1", first.Seq, first.CreatedAt), first.ID)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		_, err := s.Append("u 1", "c1", "x", "", nil)
		assert.True(t, errors.Is(err, memory.ErrInvalidInput))

		_, err = s.Append("u1", "c1", "", "", nil)
		assert.True(t, errors.Is(err, memory.ErrInvalidInput))
	})

	t.Run("chats are isolated", func(t *testing.T) {
		turn, err := s.Append("u1", "c2", "other chat", "", nil)
		require.NoError(t, err)
		assert.Equal(t, 0, turn.Seq)
	})
}

func TestStore_Append_CreatedAtMonotonic(t *testing.T) {
	s := newTestStore(Config{})
	now := time.Now()
	s.nowFunc = func() time.Time { return now }

	first, err := s.Append("u1", "c1", "a", "", nil)
	require.NoError(t, err)

	// Clock jumps backwards; createdAt must not regress.
	now = now.Add(-time.Hour)
	second, err := s.Append("u1", "c1", "b", "", nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, second.CreatedAt, first.CreatedAt)
}

func TestStore_TurnCapEviction(t *testing.T) {
	s := newTestStore(Config{TurnCap: 3})

	for i := 0; i < 5; i++ {
		_, err := s.Append("u1", "c1", "msg", "", nil)
		require.NoError(t, err)
	}

	turns := s.Turns("u1", "c1")
	require.Len(t, turns, 3)
	// Oldest evicted; seq keeps counting.
	assert.Equal(t, 2, turns[0].Seq)
	assert.Equal(t, 4, turns[2].Seq)

	next, err := s.Append("u1", "c1", "msg", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, next.Seq, "eviction must not reset seq")
}

func TestStore_Recent(t *testing.T) {
	s := newTestStore(Config{})
	for i := 0; i < 5; i++ {
		_, err := s.Append("u1", "c1", "msg", "", nil)
		require.NoError(t, err)
	}

	recent := s.Recent("u1", "c1", 2)
	require.Len(t, recent, 2)
	assert.Equal(t, 3, recent[0].Seq)
	assert.Equal(t, 4, recent[1].Seq)

	assert.Nil(t, s.Recent("u1", "nope", 2))
	assert.Len(t, s.Recent("u1", "c1", 100), 5)
}

func TestStore_UpdateSummary(t *testing.T) {
	s := newTestStore(Config{})
	for i := 0; i < 4; i++ {
		_, err := s.Append("u1", "c1", "msg", "", nil)
		require.NoError(t, err)
	}

	t.Run("accepts advancing coverage", func(t *testing.T) {
		err := s.UpdateSummary("u1", "c1", memory.RollingSummary{Text: "sum", CoveredThroughSeq: 2})
		require.NoError(t, err)

		snap, ok := s.Snapshot("u1", "c1")
		require.True(t, ok)
		require.NotNil(t, snap.Summary)
		assert.Equal(t, 2, snap.Summary.CoveredThroughSeq)
	})

	t.Run("rejects non-advancing coverage", func(t *testing.T) {
		err := s.UpdateSummary("u1", "c1", memory.RollingSummary{Text: "old", CoveredThroughSeq: 1})
		assert.Error(t, err)
		err = s.UpdateSummary("u1", "c1", memory.RollingSummary{Text: "same", CoveredThroughSeq: 2})
		assert.Error(t, err)
	})

	t.Run("rejects coverage beyond assigned seq", func(t *testing.T) {
		err := s.UpdateSummary("u1", "c1", memory.RollingSummary{Text: "future", CoveredThroughSeq: 99})
		assert.Error(t, err)
	})

	t.Run("unknown session is an error", func(t *testing.T) {
		err := s.UpdateSummary("u1", "nope", memory.RollingSummary{Text: "x", CoveredThroughSeq: 0})
		assert.True(t, errors.Is(err, memory.ErrInvalidInput))
	})
}

func TestStore_UncoveredTurns(t *testing.T) {
	s := newTestStore(Config{})
	for i := 0; i < 4; i++ {
		_, err := s.Append("u1", "c1", "msg", "", nil)
		require.NoError(t, err)
	}

	uncovered, sum := s.UncoveredTurns("u1", "c1")
	assert.Nil(t, sum)
	assert.Len(t, uncovered, 4)

	require.NoError(t, s.UpdateSummary("u1", "c1", memory.RollingSummary{Text: "s", CoveredThroughSeq: 1}))
	uncovered, sum = s.UncoveredTurns("u1", "c1")
	require.NotNil(t, sum)
	require.Len(t, uncovered, 2)
	assert.Equal(t, 2, uncovered[0].Seq)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := newTestStore(Config{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append("u1", "c1", "concurrent", "", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	turns := s.Turns("u1", "c1")
	require.Len(t, turns, 50)
	seen := make(map[int]bool)
	ids := make(map[string]bool)
	for _, turn := range turns {
		assert.False(t, seen[turn.Seq], "seq %d assigned twice", turn.Seq)
		seen[turn.Seq] = true
		ids[turn.ID] = true
	}
	assert.Len(t, ids, 50, "every turn id must be unique")
}

func TestStore_PurgeAndActive(t *testing.T) {
	s := newTestStore(Config{})
	mustAppend(t, s, "u1", "c1")
	mustAppend(t, s, "u1", "c2")
	mustAppend(t, s, "u2", "c1")

	active := s.Active()
	assert.Len(t, active["u1"], 2)
	assert.Len(t, active["u2"], 1)

	t.Run("purge one chat", func(t *testing.T) {
		s.Purge("u1", "c1")
		assert.Nil(t, s.Turns("u1", "c1"))
		assert.NotNil(t, s.Turns("u1", "c2"))
	})

	t.Run("purge whole user", func(t *testing.T) {
		s.Purge("u1", "")
		assert.Empty(t, s.ChatIDs("u1"))
		assert.NotNil(t, s.Turns("u2", "c1"))
	})
}

func mustAppend(t *testing.T, s *Store, userID, chatID string) memory.Turn {
	t.Helper()
	turn, err := s.Append(userID, chatID, "text", "", nil)
	require.NoError(t, err)
	return turn
}
