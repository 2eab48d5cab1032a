package mcos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemo/mcos/assembler"
	"github.com/hrygo/mnemo/store/storetest"
)

func newTestService(t *testing.T, vs *storetest.VectorStore, docs *storetest.ProfileDocStore) *Service {
	t.Helper()
	svc, err := New(DefaultConfig(), Options{
		VectorStore: vs,
		ProfileDocs: docs,
		Adapter:     storetest.NewAdapter(8),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(5 * time.Second) })
	return svc
}

func TestNew_RequiredCollaborators(t *testing.T) {
	vs := storetest.NewVectorStore()
	docs := storetest.NewProfileDocStore()
	adapter := storetest.NewAdapter(8)

	for name, opts := range map[string]Options{
		"missing vector store": {ProfileDocs: docs, Adapter: adapter},
		"missing profile docs": {VectorStore: vs, Adapter: adapter},
		"missing adapter":      {VectorStore: vs, ProfileDocs: docs},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(DefaultConfig(), opts)
			assert.Error(t, err)
		})
	}
}

// A recorded conversation must be recallable after the session is flushed
// and released, through retrieval alone.
func TestService_ColdStartRecall(t *testing.T) {
	ctx := context.Background()
	vs := storetest.NewVectorStore()
	docs := storetest.NewProfileDocStore()
	svc := newTestService(t, vs, docs)

	_, err := svc.RecordTurn(ctx, "u1", "c1", "my budget for the trip is 3000 euros", "noted, 3000 euros", nil)
	require.NoError(t, err)
	require.NoError(t, svc.EndChat(ctx, "u1", "c1", true))
	require.NotZero(t, vs.Len())

	// The session is gone; assembly must fall back to whole-user retrieval.
	bundle, err := svc.AssembleContext(ctx, "u1", "c1", "my budget for the trip is 3000 euros", assembler.Options{})
	require.NoError(t, err)
	assert.Empty(t, bundle.RecentTurns)
	assert.Equal(t, assembler.ReasonSparseLocal, bundle.RetrievalReason)
	require.NotEmpty(t, bundle.RetrievedChunks)
	assert.Contains(t, bundle.RetrievedChunks[0].Content, "3000 euros")
}

func TestService_SearchTurns(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, storetest.NewVectorStore(), storetest.NewProfileDocStore())

	_, err := svc.RecordTurn(ctx, "u1", "c1", "let's talk about databases", "sure", nil)
	require.NoError(t, err)
	_, err = svc.RecordTurn(ctx, "u1", "c1", "and about gardening", "ok", nil)
	require.NoError(t, err)

	hits := svc.SearchTurns("u1", "c1", "databases", 10)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].UserText, "databases")
}

func TestService_PutArtifact(t *testing.T) {
	ctx := context.Background()

	t.Run("stores bytes and returns the url", func(t *testing.T) {
		objects := storetest.NewObjectStore()
		svc, err := New(DefaultConfig(), Options{
			VectorStore: storetest.NewVectorStore(),
			ProfileDocs: storetest.NewProfileDocStore(),
			Adapter:     storetest.NewAdapter(8),
			Objects:     objects,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = svc.Close(5 * time.Second) })

		url, err := svc.PutArtifact(ctx, "u1", "c1", []byte("png bytes"), "image/png")
		require.NoError(t, err)
		data, ok := objects.Get(url)
		require.True(t, ok)
		assert.Equal(t, []byte("png bytes"), data)
	})

	t.Run("fails without an object store", func(t *testing.T) {
		svc := newTestService(t, storetest.NewVectorStore(), storetest.NewProfileDocStore())
		_, err := svc.PutArtifact(ctx, "u1", "c1", []byte("x"), "image/png")
		assert.Error(t, err)
	})
}

func TestService_StatsAndFlush(t *testing.T) {
	ctx := context.Background()
	vs := storetest.NewVectorStore()
	svc := newTestService(t, vs, storetest.NewProfileDocStore())

	_, err := svc.RecordTurn(ctx, "u1", "c1", "hello", "hi", nil)
	require.NoError(t, err)
	_, err = svc.RecordTurn(ctx, "u2", "c9", "hey", "hello", nil)
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ActiveSessions)

	require.NoError(t, svc.Flush(ctx))
	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.ActiveSessions)
	assert.NotZero(t, stats.VectorCount)
}
