package assembler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/mcos/model"
	"github.com/hrygo/mnemo/mcos/session"
	"github.com/hrygo/mnemo/mcos/vectormem"
	"github.com/hrygo/mnemo/store"
	"github.com/hrygo/mnemo/store/storetest"
)

type fakeSessions struct {
	snaps map[string]session.Snapshot
}

func (f *fakeSessions) Snapshot(userID, chatID string) (session.Snapshot, bool) {
	s, ok := f.snaps[userID+"/"+chatID]
	return s, ok
}

type fakeProfiles struct {
	profile *store.UserProfile
	err     error
}

func (f *fakeProfiles) Get(ctx context.Context, userID string) (*store.UserProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.profile != nil {
		return f.profile, nil
	}
	return &store.UserProfile{UserID: userID}, nil
}

type queryCall struct {
	k     int
	scope vectormem.Scope
}

type fakeRetriever struct {
	chatChunks []memory.Chunk
	userChunks []memory.Chunk
	err        error
	calls      []queryCall
}

func (f *fakeRetriever) Query(ctx context.Context, userID, query string, k int, scope vectormem.Scope) ([]memory.Chunk, error) {
	f.calls = append(f.calls, queryCall{k: k, scope: scope})
	if f.err != nil {
		return nil, f.err
	}
	if scope.IsChatScoped() {
		return f.chatChunks, nil
	}
	return f.userChunks, nil
}

type fixedIntent struct{ intent model.Intent }

func (f fixedIntent) ClassifyIntent(ctx context.Context, message string) (model.Intent, error) {
	return f.intent, nil
}

func sessionTurns(n int) []memory.Turn {
	out := make([]memory.Turn, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, memory.Turn{
			Seq:      i + 1,
			UserText: fmt.Sprintf("message %d", i+1),
		})
	}
	return out
}

func chunks(prefix string, n int) []memory.Chunk {
	out := make([]memory.Chunk, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, memory.Chunk{
			ID:      fmt.Sprintf("%s-%d", prefix, i),
			Content: fmt.Sprintf("%s content %d", prefix, i),
			Source:  "conversation",
			Score:   1 - float32(i)/100,
		})
	}
	return out
}

func newTestAssembler(cfg Config, sessions *fakeSessions, profiles *fakeProfiles, vectors Retriever, intents IntentClassifier, docs store.DocumentCache) *Assembler {
	if sessions == nil {
		sessions = &fakeSessions{snaps: map[string]session.Snapshot{}}
	}
	if profiles == nil {
		profiles = &fakeProfiles{}
	}
	if vectors == nil {
		vectors = &fakeRetriever{}
	}
	return New(cfg, sessions, profiles, vectors, intents, docs, nil, nil)
}

func TestAssembleContext_RetrievalDecision(t *testing.T) {
	ctx := context.Background()

	t.Run("ample local history and normal intent skips retrieval", func(t *testing.T) {
		sessions := &fakeSessions{snaps: map[string]session.Snapshot{
			"u1/c1": {Turns: sessionTurns(6)},
		}}
		vectors := &fakeRetriever{chatChunks: chunks("chat", 5)}
		a := newTestAssembler(Config{}, sessions, nil, vectors, fixedIntent{model.IntentNormal}, nil)

		bundle, err := a.AssembleContext(ctx, "u1", "c1", "tell me more about that", Options{})
		require.NoError(t, err)
		assert.Equal(t, ReasonSkipped, bundle.RetrievalReason)
		assert.Empty(t, bundle.RetrievedChunks)
		assert.Empty(t, vectors.calls)
		assert.Len(t, bundle.RecentTurns, 5, "recent turns default to the last five")
	})

	t.Run("sparse local history forces retrieval", func(t *testing.T) {
		sessions := &fakeSessions{snaps: map[string]session.Snapshot{
			"u1/c1": {Turns: sessionTurns(2)},
		}}
		vectors := &fakeRetriever{chatChunks: chunks("chat", 8)}
		a := newTestAssembler(Config{}, sessions, nil, vectors, fixedIntent{model.IntentNormal}, nil)

		bundle, err := a.AssembleContext(ctx, "u1", "c1", "continue", Options{})
		require.NoError(t, err)
		assert.Equal(t, ReasonSparseLocal, bundle.RetrievalReason)
		require.Len(t, vectors.calls, 1)
		assert.True(t, vectors.calls[0].scope.IsChatScoped())
		assert.Len(t, bundle.RetrievedChunks, 8)
	})

	t.Run("trigger phrase forces retrieval despite ample history", func(t *testing.T) {
		sessions := &fakeSessions{snaps: map[string]session.Snapshot{
			"u1/c1": {Turns: sessionTurns(10)},
		}}
		vectors := &fakeRetriever{chatChunks: chunks("chat", 8)}
		a := newTestAssembler(Config{}, sessions, nil, vectors, fixedIntent{model.IntentNormal}, nil)

		bundle, err := a.AssembleContext(ctx, "u1", "c1", "do you remember my budget?", Options{})
		require.NoError(t, err)
		assert.Equal(t, ReasonTriggerPhrase, bundle.RetrievalReason)
		assert.Len(t, vectors.calls, 1)
	})

	t.Run("references-past intent forces retrieval", func(t *testing.T) {
		sessions := &fakeSessions{snaps: map[string]session.Snapshot{
			"u1/c1": {Turns: sessionTurns(10)},
		}}
		vectors := &fakeRetriever{chatChunks: chunks("chat", 8)}
		a := newTestAssembler(Config{}, sessions, nil, vectors, fixedIntent{model.IntentReferencesPast}, nil)

		bundle, err := a.AssembleContext(ctx, "u1", "c1", "back to that itinerary", Options{})
		require.NoError(t, err)
		assert.Equal(t, ReasonIntent, bundle.RetrievalReason)
	})

	t.Run("unknown chat retrieves across the whole user", func(t *testing.T) {
		vectors := &fakeRetriever{userChunks: chunks("user", 4)}
		a := newTestAssembler(Config{}, nil, nil, vectors, fixedIntent{model.IntentNormal}, nil)

		bundle, err := a.AssembleContext(ctx, "u1", "brand-new-chat", "hello again", Options{})
		require.NoError(t, err)
		assert.Equal(t, ReasonSparseLocal, bundle.RetrievalReason)
		require.Len(t, vectors.calls, 1)
		assert.False(t, vectors.calls[0].scope.IsChatScoped())
		assert.Len(t, bundle.RetrievedChunks, 4)
	})
}

func TestAssembleContext_Widening(t *testing.T) {
	ctx := context.Background()

	t.Run("thin chat-scoped results widen to the whole user", func(t *testing.T) {
		sessions := &fakeSessions{snaps: map[string]session.Snapshot{
			"u1/c1": {Turns: sessionTurns(1)},
		}}
		vectors := &fakeRetriever{
			chatChunks: chunks("chat", 2),
			userChunks: chunks("user", 10),
		}
		a := newTestAssembler(Config{TopK: 10}, sessions, nil, vectors, fixedIntent{model.IntentNormal}, nil)

		bundle, err := a.AssembleContext(ctx, "u1", "c1", "hi", Options{})
		require.NoError(t, err)
		require.Len(t, vectors.calls, 2)
		assert.True(t, vectors.calls[0].scope.IsChatScoped())
		assert.False(t, vectors.calls[1].scope.IsChatScoped())
		// Chat-scoped results keep their rank; the widened set fills to k.
		assert.Len(t, bundle.RetrievedChunks, 10)
		assert.Equal(t, "chat-0", bundle.RetrievedChunks[0].ID)
		assert.Equal(t, "chat-1", bundle.RetrievedChunks[1].ID)
		assert.Equal(t, "user-0", bundle.RetrievedChunks[2].ID)
	})

	t.Run("widening failure keeps chat-scoped results", func(t *testing.T) {
		sessions := &fakeSessions{snaps: map[string]session.Snapshot{
			"u1/c1": {Turns: sessionTurns(1)},
		}}
		vectors := &widenFailRetriever{chatChunks: chunks("chat", 2)}
		a := newTestAssembler(Config{TopK: 10}, sessions, nil, vectors, fixedIntent{model.IntentNormal}, nil)

		bundle, err := a.AssembleContext(ctx, "u1", "c1", "hi", Options{})
		require.NoError(t, err)
		assert.Len(t, bundle.RetrievedChunks, 2)
		assert.False(t, bundle.Degraded)
	})
}

type widenFailRetriever struct {
	chatChunks []memory.Chunk
}

func (f *widenFailRetriever) Query(ctx context.Context, userID, query string, k int, scope vectormem.Scope) ([]memory.Chunk, error) {
	if scope.IsChatScoped() {
		return f.chatChunks, nil
	}
	return nil, errors.New("store offline")
}

func TestAssembleContext_Degradation(t *testing.T) {
	ctx := context.Background()

	t.Run("retriever error degrades instead of failing", func(t *testing.T) {
		vectors := &fakeRetriever{err: errors.New("connection refused")}
		a := newTestAssembler(Config{}, nil, nil, vectors, fixedIntent{model.IntentNormal}, nil)

		bundle, err := a.AssembleContext(ctx, "u1", "c1", "hello", Options{})
		require.NoError(t, err)
		assert.True(t, bundle.Degraded)
		assert.Contains(t, bundle.Warnings, "retrieval unavailable")
		assert.Empty(t, bundle.RetrievedChunks)
	})

	t.Run("profile error degrades instead of failing", func(t *testing.T) {
		profiles := &fakeProfiles{err: errors.New("db down")}
		a := newTestAssembler(Config{}, nil, profiles, nil, fixedIntent{model.IntentNormal}, nil)

		bundle, err := a.AssembleContext(ctx, "u1", "c1", "hello", Options{})
		require.NoError(t, err)
		assert.True(t, bundle.Degraded)
		assert.Contains(t, bundle.Warnings, "profile unavailable")
		assert.Empty(t, bundle.ProfileText)
	})

	t.Run("negative deadline returns only the session tier", func(t *testing.T) {
		sessions := &fakeSessions{snaps: map[string]session.Snapshot{
			"u1/c1": {
				Turns:   sessionTurns(2),
				Summary: &memory.RollingSummary{Text: "rolling"},
			},
		}}
		vectors := &fakeRetriever{chatChunks: chunks("chat", 3)}
		profiles := &fakeProfiles{profile: &store.UserProfile{UserID: "u1", DisplayName: "Sam"}}
		a := newTestAssembler(Config{}, sessions, profiles, vectors, fixedIntent{model.IntentNormal}, nil)

		bundle, err := a.AssembleContext(ctx, "u1", "c1", "hello", Options{Deadline: -1})
		require.NoError(t, err)
		assert.True(t, bundle.Partial)
		assert.Len(t, bundle.RecentTurns, 2)
		assert.Equal(t, "rolling", bundle.RollingSummary)
		assert.Empty(t, bundle.ProfileText)
		assert.Empty(t, bundle.RetrievedChunks)
		assert.Empty(t, vectors.calls)
	})

	t.Run("invalid input is the only hard error", func(t *testing.T) {
		a := newTestAssembler(Config{}, nil, nil, nil, fixedIntent{model.IntentNormal}, nil)
		for _, tc := range []struct{ user, chat, msg string }{
			{"u1", "c1", ""},
			{"bad id", "c1", "hello"},
			{"u1", "bad id", "hello"},
		} {
			_, err := a.AssembleContext(ctx, tc.user, tc.chat, tc.msg, Options{})
			assert.ErrorIs(t, err, memory.ErrInvalidInput)
		}
	})
}

func TestAssembleContext_Profile(t *testing.T) {
	ctx := context.Background()
	profiles := &fakeProfiles{profile: &store.UserProfile{
		UserID:      "u1",
		DisplayName: "Sam",
		Role:        "engineer",
		Background:  "Builds storage engines.",
	}}
	a := newTestAssembler(Config{}, nil, profiles, nil, fixedIntent{model.IntentNormal}, nil)

	bundle, err := a.AssembleContext(ctx, "u1", "c1", "hello", Options{})
	require.NoError(t, err)
	assert.Contains(t, bundle.ProfileText, "Name: Sam.")
	assert.Contains(t, bundle.ProfileText, "Role: engineer.")
	assert.Contains(t, bundle.ProfileText, "Background: Builds storage engines.")
}

func TestAssembleContext_DocumentChunks(t *testing.T) {
	ctx := context.Background()

	t.Run("document chunks included when requested", func(t *testing.T) {
		docs := storetest.NewDocumentCache()
		docs.Put("doc1",
			memory.Chunk{ID: "d1", Content: "chapter one", Source: "document"},
			memory.Chunk{ID: "d2", Content: "chapter two", Source: "document"},
		)
		a := newTestAssembler(Config{}, nil, nil, nil, fixedIntent{model.IntentNormal}, docs)

		bundle, err := a.AssembleContext(ctx, "u1", "c1", "summarize the doc", Options{DocumentID: "doc1"})
		require.NoError(t, err)
		assert.Len(t, bundle.DocumentChunks, 2)
	})

	t.Run("document cache error degrades", func(t *testing.T) {
		docs := storetest.NewDocumentCache()
		docs.Err = errors.New("cache miss")
		a := newTestAssembler(Config{}, nil, nil, nil, fixedIntent{model.IntentNormal}, docs)

		bundle, err := a.AssembleContext(ctx, "u1", "c1", "summarize the doc", Options{DocumentID: "doc1"})
		require.NoError(t, err)
		assert.True(t, bundle.Degraded)
		assert.Contains(t, bundle.Warnings, "document chunks unavailable")
	})
}

func TestApplyBudget(t *testing.T) {
	ctx := context.Background()

	t.Run("over-budget bundle drops retrieved chunks first", func(t *testing.T) {
		sessions := &fakeSessions{snaps: map[string]session.Snapshot{
			"u1/c1": {Turns: sessionTurns(2), Summary: &memory.RollingSummary{Text: "summary"}},
		}}
		big := make([]memory.Chunk, 6)
		for i := range big {
			big[i] = memory.Chunk{ID: fmt.Sprintf("r-%d", i), Content: strings.Repeat("x", 400)}
		}
		vectors := &fakeRetriever{chatChunks: big, userChunks: big}
		a := newTestAssembler(Config{TokenCap: 300, TopK: 6}, sessions, nil, vectors, fixedIntent{model.IntentNormal}, nil)

		bundle, err := a.AssembleContext(ctx, "u1", "c1", "hello", Options{})
		require.NoError(t, err)
		// Chunks are dropped lowest-ranked first until the bundle fits;
		// the session tier survives.
		assert.Len(t, bundle.RetrievedChunks, 2)
		assert.Len(t, bundle.RecentTurns, 2)
		assert.LessOrEqual(t, bundle.TokenBudget.Used, 300)
		assert.Equal(t, 300, bundle.TokenBudget.Cap)
	})

	t.Run("recent turns never trimmed below two", func(t *testing.T) {
		turns := sessionTurns(5)
		for i := range turns {
			turns[i].UserText = strings.Repeat("y", 800)
		}
		sessions := &fakeSessions{snaps: map[string]session.Snapshot{
			"u1/c1": {Turns: turns},
		}}
		a := newTestAssembler(Config{TokenCap: 100}, sessions, nil, nil, fixedIntent{model.IntentNormal}, nil)

		bundle, err := a.AssembleContext(ctx, "u1", "c1", "hello", Options{})
		require.NoError(t, err)
		assert.Len(t, bundle.RecentTurns, 2)
	})

	t.Run("under-budget bundle is untouched", func(t *testing.T) {
		sessions := &fakeSessions{snaps: map[string]session.Snapshot{
			"u1/c1": {Turns: sessionTurns(4), Summary: &memory.RollingSummary{Text: "summary", KeyFacts: []string{"a"}}},
		}}
		a := newTestAssembler(Config{}, sessions, nil, nil, fixedIntent{model.IntentNormal}, nil)

		bundle, err := a.AssembleContext(ctx, "u1", "c1", "hello", Options{})
		require.NoError(t, err)
		assert.Len(t, bundle.RecentTurns, 4)
		assert.Equal(t, "summary", bundle.RollingSummary)
		assert.Greater(t, bundle.TokenBudget.Used, 0)
	})
}
