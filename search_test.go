package lethe_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lethedb/lethe"
	"github.com/lethedb/lethe/metadata"
)

// unit returns the basis vector along the given axis. Basis vectors give
// exact cosine scores, so threshold tests need no tolerance.
func unit(axis int) []float32 {
	vec := make([]float32, testDim)
	vec[axis] = 1
	return vec
}

// newAxisStore builds a store with three hand-placed vectors:
// "x" on axis 0, "y" on axis 1, and "z" between them. Against a query on
// axis 0 they score 1.0, 0.0 and 0.8 respectively.
func newAxisStore(t *testing.T) *lethe.Store {
	t.Helper()
	ctx := context.Background()

	store, _ := newTestStore(t)
	require.NoError(t, store.AddWithVector(ctx, "x", unit(0), metadata.Record{Title: "x"}))
	require.NoError(t, store.AddWithVector(ctx, "y", unit(1), metadata.Record{Title: "y"}))

	mixed := make([]float32, testDim)
	mixed[0], mixed[1] = 0.8, 0.6
	require.NoError(t, store.AddWithVector(ctx, "z", mixed, metadata.Record{Title: "z"}))
	return store
}

func TestQueryBuilder(t *testing.T) {
	ctx := context.Background()

	t.Run("Execute", func(t *testing.T) {
		store, _ := newTestStore(t)
		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("d%d", i)
			require.NoError(t, store.Add(ctx, doc(id, "body "+id)))
		}

		results, err := store.Query("body d2").K(3).Execute(ctx)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "d2", results[0].ID)
	})

	t.Run("DefaultK", func(t *testing.T) {
		store, _ := newTestStore(t)
		for i := 0; i < 15; i++ {
			id := fmt.Sprintf("d%d", i)
			require.NoError(t, store.Add(ctx, doc(id, "body "+id)))
		}

		results, err := store.Query("body d0").Execute(ctx)
		require.NoError(t, err)
		assert.Len(t, results, 10)
	})

	t.Run("ByVector", func(t *testing.T) {
		store := newAxisStore(t)

		results, err := store.Query("this text is ignored").ByVector(unit(1)).K(1).Execute(ctx)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "y", results[0].ID)
	})

	t.Run("MinScore", func(t *testing.T) {
		store := newAxisStore(t)

		results, err := store.Query("").ByVector(unit(0)).MinScore(0.5).Execute(ctx)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "x", results[0].ID)
		assert.Equal(t, "z", results[1].ID)
	})

	t.Run("MinScoreKeepsAll", func(t *testing.T) {
		store := newAxisStore(t)

		results, err := store.Query("").ByVector(unit(0)).MinScore(-1).Execute(ctx)
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})

	t.Run("Stream", func(t *testing.T) {
		store := newAxisStore(t)

		var got []string
		for r, err := range store.Query("").ByVector(unit(0)).MinScore(0.5).Stream(ctx) {
			require.NoError(t, err)
			got = append(got, r.ID)
		}
		assert.Equal(t, []string{"x", "z"}, got)
	})

	t.Run("StreamDeliversErrors", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.Close())

		var streamErr error
		for _, err := range store.Query("anything").Stream(ctx) {
			streamErr = err
			break
		}
		require.ErrorIs(t, streamErr, lethe.ErrStoreClosed)
	})

	t.Run("First", func(t *testing.T) {
		store := newAxisStore(t)

		r, err := store.Query("").ByVector(unit(0)).First(ctx)
		require.NoError(t, err)
		assert.Equal(t, "x", r.ID)
		assert.Equal(t, "x", r.Title)
	})

	t.Run("FirstEmptyStore", func(t *testing.T) {
		store, _ := newTestStore(t)

		_, err := store.Query("anything").First(ctx)
		require.ErrorIs(t, err, lethe.ErrNotFound)
	})

	t.Run("FirstBelowThreshold", func(t *testing.T) {
		store := newAxisStore(t)

		// Axis 2 is orthogonal to everything stored.
		_, err := store.Query("").ByVector(unit(2)).MinScore(0.5).First(ctx)
		require.ErrorIs(t, err, lethe.ErrNotFound)
	})

	t.Run("Count", func(t *testing.T) {
		store := newAxisStore(t)

		n, err := store.Query("").ByVector(unit(0)).MinScore(0.5).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("Exists", func(t *testing.T) {
		store := newAxisStore(t)

		ok, err := store.Query("").ByVector(unit(0)).Exists(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		empty, _ := newTestStore(t)
		ok, err = empty.Query("anything").Exists(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("MustExecute", func(t *testing.T) {
		store := newAxisStore(t)

		results := store.Query("").ByVector(unit(0)).MustExecute(ctx)
		assert.Len(t, results, 3)

		assert.Panics(t, func() {
			store.Query("bad k").K(0).MustExecute(ctx)
		})
	})
}
