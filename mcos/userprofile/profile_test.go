package userprofile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemo/store"
	"github.com/hrygo/mnemo/store/storetest"
)

func newTestStore(docs store.ProfileDocStore) *Store {
	return New(Config{}, docs, nil, nil, nil)
}

func nameExtraction(name string, confidence float64, turnID, chatID string) *Extraction {
	return &Extraction{
		DisplayName: &FieldValue{Value: name, Confidence: confidence},
		TurnID:      turnID,
		ChatID:      chatID,
	}
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	docs := storetest.NewProfileDocStore()
	s := newTestStore(docs)

	t.Run("absent profile reads as empty, not nil", func(t *testing.T) {
		p, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "u1", p.UserID)
		assert.True(t, p.IsEmpty())
	})

	t.Run("invalid user id rejected", func(t *testing.T) {
		_, err := s.Get(ctx, "bad id")
		assert.Error(t, err)
	})
}

func TestMerge_ConfidenceMonotonicity(t *testing.T) {
	ctx := context.Background()
	docs := storetest.NewProfileDocStore()
	s := newTestStore(docs)

	// Sam at 0.9 sticks.
	require.NoError(t, s.Merge(ctx, "u1", nameExtraction("Sam", 0.9, "t1", "c1")))
	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Sam", p.DisplayName)

	t.Run("lower confidence does not overwrite", func(t *testing.T) {
		require.NoError(t, s.Merge(ctx, "u1", nameExtraction("Samuel", 0.6, "t2", "c1")))
		p, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Sam", p.DisplayName)
		assert.Equal(t, 0.9, p.Provenance[store.FieldDisplayName].Confidence)
	})

	t.Run("equal confidence overwrites", func(t *testing.T) {
		require.NoError(t, s.Merge(ctx, "u1", nameExtraction("Sammy", 0.9, "t3", "c1")))
		p, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Sammy", p.DisplayName)
	})

	t.Run("higher confidence overwrites and updates provenance", func(t *testing.T) {
		require.NoError(t, s.Merge(ctx, "u1", nameExtraction("Samantha", 0.95, "t4", "c2")))
		p, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Samantha", p.DisplayName)
		ev := p.Provenance[store.FieldDisplayName]
		assert.Equal(t, "t4", ev.TurnID)
		assert.Equal(t, "c2", ev.ChatID)
		assert.Equal(t, 0.95, ev.Confidence)
	})
}

func TestMerge_Interests(t *testing.T) {
	ctx := context.Background()
	s := New(Config{InterestsCap: 3}, storetest.NewProfileDocStore(), nil, nil, nil)

	require.NoError(t, s.Merge(ctx, "u1", &Extraction{Interests: []string{"go", "chess"}}))
	require.NoError(t, s.Merge(ctx, "u1", &Extraction{Interests: []string{"Chess", "hiking", "piano"}}))

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	// Union, case-insensitive dedupe, capped at 3.
	assert.Equal(t, []string{"go", "chess", "hiking"}, p.Interests)
}

func TestMerge_PreferencesGatedByExtractionConfidence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(storetest.NewProfileDocStore())

	require.NoError(t, s.Merge(ctx, "u1", &Extraction{
		Preferences: map[string]string{"tone": "formal"},
		Confidence:  0.8,
	}))
	require.NoError(t, s.Merge(ctx, "u1", &Extraction{
		Preferences: map[string]string{"tone": "casual"},
		Confidence:  0.4,
	}))

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "formal", p.Preferences["tone"])
}

func TestMerge_StaleWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("conflict retries with a fresh read", func(t *testing.T) {
		docs := storetest.NewProfileDocStore()
		s := newTestStore(docs)
		docs.ConflictNext = 1

		require.NoError(t, s.Merge(ctx, "u1", nameExtraction("Sam", 0.9, "t1", "c1")))
		p, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Sam", p.DisplayName)
		assert.Greater(t, docs.WriteCalls, 1)
	})

	t.Run("merge is dropped silently after the retry budget", func(t *testing.T) {
		docs := storetest.NewProfileDocStore()
		s := New(Config{StaleWriteRetries: 2}, docs, nil, nil, nil)
		docs.ConflictNext = 10

		require.NoError(t, s.Merge(ctx, "u1", nameExtraction("Sam", 0.9, "t1", "c1")))
		p, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, p.DisplayName)
	})
}

func TestInvalidateEvidence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(storetest.NewProfileDocStore())

	require.NoError(t, s.Merge(ctx, "u1", nameExtraction("Sam", 0.9, "t1", "chat-gone")))

	// With the evidence chat deleted, lower-confidence evidence may win.
	require.NoError(t, s.InvalidateEvidence(ctx, "u1", "chat-gone"))
	require.NoError(t, s.Merge(ctx, "u1", nameExtraction("Samuel", 0.3, "t2", "c2")))

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Samuel", p.DisplayName)
}

type profileDeleter struct{ deleted []string }

func (d *profileDeleter) DeleteProfile(_ context.Context, userID string) error {
	d.deleted = append(d.deleted, userID)
	return nil
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	docs := storetest.NewProfileDocStore()
	vd := &profileDeleter{}
	s := New(Config{}, docs, vd, nil, nil)

	require.NoError(t, s.Merge(ctx, "u1", nameExtraction("Sam", 0.9, "t1", "c1")))
	require.NoError(t, s.Delete(ctx, "u1"))

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.IsEmpty())
	assert.Equal(t, []string{"u1"}, vd.deleted)
}

func TestRenderText(t *testing.T) {
	t.Run("empty profile renders empty", func(t *testing.T) {
		assert.Equal(t, "", RenderText(&store.UserProfile{UserID: "u1"}))
	})

	t.Run("full profile renders all sections", func(t *testing.T) {
		p := &store.UserProfile{
			UserID:      "u1",
			DisplayName: "Sam",
			Role:        "engineer",
			Interests:   []string{"go", "chess", "hiking", "piano", "tea", "sixth"},
			Background:  "Works on storage systems.",
		}
		out := RenderText(p)
		assert.Contains(t, out, "Name: Sam.")
		assert.Contains(t, out, "Role: engineer.")
		assert.Contains(t, out, "go, chess, hiking, piano, tea")
		assert.NotContains(t, out, "sixth", "interests render caps at five")
		assert.Contains(t, out, "Background: Works on storage systems.")
	})
}
