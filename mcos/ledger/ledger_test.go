package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/store"
	"github.com/hrygo/mnemo/store/storetest"
)

func seedRecord(t *testing.T, vs *storetest.VectorStore, userID, chatID, turnID string) {
	t.Helper()
	err := vs.Upsert(context.Background(), []store.MemoryRecord{{
		ID:     memory.RecordID(userID, chatID, turnID, memory.RoleUser),
		Vector: []float32{1, 0},
		Metadata: store.RecordMetadata{
			UserID: userID,
			ChatID: chatID,
			TurnID: turnID,
			Role:   memory.RoleUser,
			Kind:   memory.KindConversation,
		},
	}})
	require.NoError(t, err)
}

func TestUnuploaded(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown turns are pending", func(t *testing.T) {
		l := New(Config{}, nil, nil)
		pending := l.Unuploaded(ctx, "u1", "c1", []string{"t1", "t2"})
		assert.Equal(t, []string{"t1", "t2"}, pending)
	})

	t.Run("marked turns are filtered out", func(t *testing.T) {
		l := New(Config{}, nil, nil)
		l.MarkUploaded("u1", "c1", []string{"t1"})
		pending := l.Unuploaded(ctx, "u1", "c1", []string{"t1", "t2"})
		assert.Equal(t, []string{"t2"}, pending)
	})

	t.Run("chats are tracked independently", func(t *testing.T) {
		l := New(Config{}, nil, nil)
		l.MarkUploaded("u1", "c1", []string{"t1"})
		pending := l.Unuploaded(ctx, "u1", "c2", []string{"t1"})
		assert.Equal(t, []string{"t1"}, pending)
	})
}

func TestReconcile_ColdStart(t *testing.T) {
	ctx := context.Background()
	vs := storetest.NewVectorStore()
	seedRecord(t, vs, "u1", "c1", "turn-a")
	seedRecord(t, vs, "u1", "c1", "turn-b")
	seedRecord(t, vs, "u1", "c2", "turn-other")

	// Fresh ledger, as after a restart: the vector store is the truth.
	l := New(Config{}, vs, nil)

	pending := l.Unuploaded(ctx, "u1", "c1", []string{"turn-a", "turn-b", "turn-new"})
	assert.Equal(t, []string{"turn-new"}, pending)

	t.Run("reconciliation happens once per chat", func(t *testing.T) {
		before := vs.QueryCalls
		l.Unuploaded(ctx, "u1", "c1", []string{"turn-a"})
		assert.Equal(t, before, vs.QueryCalls)
	})
}

func TestReconcile_FailureAssumesNothingUploaded(t *testing.T) {
	ctx := context.Background()
	vs := storetest.NewVectorStore()
	seedRecord(t, vs, "u1", "c1", "turn-a")
	vs.FailNext = 1
	vs.Err = errors.New("store down")

	l := New(Config{}, vs, nil)

	// First call: reconciliation fails, everything looks pending.
	pending := l.Unuploaded(ctx, "u1", "c1", []string{"turn-a"})
	assert.Equal(t, []string{"turn-a"}, pending)

	// Next call retries the sync and finds the record.
	pending = l.Unuploaded(ctx, "u1", "c1", []string{"turn-a"})
	assert.Empty(t, pending)
}

func TestCooldown(t *testing.T) {
	l := New(Config{Cooldown: time.Minute}, nil, nil)
	now := time.Now()
	l.nowFunc = func() time.Time { return now }

	t.Run("no upload yet means expired", func(t *testing.T) {
		assert.True(t, l.CooldownExpired("u1", "c1"))
		assert.Zero(t, l.CooldownRemaining("u1", "c1"))
	})

	t.Run("upload starts the cooldown", func(t *testing.T) {
		l.MarkUploaded("u1", "c1", []string{"t1"})
		assert.False(t, l.CooldownExpired("u1", "c1"))
		assert.Equal(t, time.Minute, l.CooldownRemaining("u1", "c1"))
	})

	t.Run("cooldown decays with time", func(t *testing.T) {
		now = now.Add(40 * time.Second)
		assert.Equal(t, 20*time.Second, l.CooldownRemaining("u1", "c1"))

		now = now.Add(21 * time.Second)
		assert.True(t, l.CooldownExpired("u1", "c1"))
	})
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	l := New(Config{}, nil, nil)
	l.MarkUploaded("u1", "c1", []string{"t1"})
	l.MarkUploaded("u1", "c2", []string{"t2"})
	l.MarkUploaded("u2", "c1", []string{"t3"})

	l.Reset("u1", "c1")
	assert.Equal(t, []string{"t1"}, l.Unuploaded(ctx, "u1", "c1", []string{"t1"}))
	assert.Empty(t, l.Unuploaded(ctx, "u1", "c2", []string{"t2"}))

	l.ResetUser("u1")
	assert.Equal(t, []string{"t2"}, l.Unuploaded(ctx, "u1", "c2", []string{"t2"}))
	assert.Empty(t, l.Unuploaded(ctx, "u2", "c1", []string{"t3"}))
}
