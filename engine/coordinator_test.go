package engine_test

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/lethedb/lethe/codec"
	"github.com/lethedb/lethe/engine"
	"github.com/lethedb/lethe/index"
	"github.com/lethedb/lethe/index/flat"
	"github.com/lethedb/lethe/metadata"
)

func newTestCoordinator(t *testing.T, dim int) (*engine.Coordinator, *metadata.MapTable) {
	t.Helper()

	idx, err := flat.New(dim)
	require.NoError(t, err)
	adapter, err := index.NewAdapter(idx, dim)
	require.NoError(t, err)

	table := metadata.NewMapTable()
	c, err := engine.New(adapter, table)
	require.NoError(t, err)
	return c, table
}

func record(title string) metadata.Record {
	return metadata.Record{Title: title, URL: "https://example.com/" + title, Summary: "about " + title}
}

func TestNewValidation(t *testing.T) {
	idx, err := flat.New(3)
	require.NoError(t, err)
	adapter, err := index.NewAdapter(idx, 3)
	require.NoError(t, err)

	_, err = engine.New(nil, metadata.NewMapTable())
	require.Error(t, err)

	_, err = engine.New(adapter, nil)
	require.Error(t, err)
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, 3)

	require.NoError(t, c.Put(ctx, "a", []float32{1, 0, 0}, record("a")))

	rec, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record("a"), rec)

	exists, err := c.Contains(ctx, "a")
	require.NoError(t, err)
	assert.True(t, exists)

	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, c.IndexLen())

	existed, err := c.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, existed)

	_, ok, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err = c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, c.IndexLen())

	// Absent id is a no-op.
	existed, err = c.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestPutReplaces(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, 3)

	require.NoError(t, c.Put(ctx, "a", []float32{1, 0, 0}, record("first")))
	require.NoError(t, c.Put(ctx, "a", []float32{0, 1, 0}, record("second")))

	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, c.IndexLen())

	rec, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", rec.Title)

	matches, err := c.Query(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestPutValidation(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, 3)

	err := c.Put(ctx, "", []float32{1, 0, 0}, metadata.Record{})
	require.ErrorIs(t, err, index.ErrEmptyID)

	err = c.Put(ctx, "a", nil, metadata.Record{})
	require.ErrorIs(t, err, index.ErrEmptyVector)

	err = c.Put(ctx, "a", []float32{1, 0}, metadata.Record{})
	var dimErr *index.ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Actual)

	// Nothing was stored by the failed puts.
	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, c.IndexLen())
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, 3)

	err := c.Update(ctx, "a", []float32{1, 0, 0}, record("a"))
	require.ErrorIs(t, err, engine.ErrNotFound)

	require.NoError(t, c.Put(ctx, "a", []float32{1, 0, 0}, record("old")))
	require.NoError(t, c.Update(ctx, "a", []float32{0, 0, 1}, record("new")))

	rec, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", rec.Title)

	matches, err := c.Query(ctx, []float32{0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestPatch(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, 3)

	err := c.Patch(ctx, "a", metadata.Patch{Title: metadata.String("x")})
	require.ErrorIs(t, err, engine.ErrNotFound)

	require.NoError(t, c.Put(ctx, "a", []float32{1, 0, 0}, record("a")))

	require.NoError(t, c.Patch(ctx, "a", metadata.Patch{Title: metadata.String("patched")}))

	rec, _, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "patched", rec.Title)
	assert.Equal(t, record("a").URL, rec.URL)
	assert.Equal(t, record("a").Summary, rec.Summary)

	// Zero patch changes nothing.
	require.NoError(t, c.Patch(ctx, "a", metadata.Patch{}))
	again, _, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, rec, again)

	// The vector is untouched by patches.
	matches, err := c.Query(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestDeleteBatch(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, 3)

	require.NoError(t, c.Put(ctx, "a", []float32{1, 0, 0}, record("a")))
	require.NoError(t, c.Put(ctx, "b", []float32{0, 1, 0}, record("b")))
	require.NoError(t, c.Put(ctx, "c", []float32{0, 0, 1}, record("c")))

	deleted, err := c.DeleteBatch(ctx, []string{"a", "missing", "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, c.IndexLen())

	// An empty id aborts the batch, reporting progress so far.
	deleted, err = c.DeleteBatch(ctx, []string{"b", ""})
	require.ErrorIs(t, err, index.ErrEmptyID)
	assert.Equal(t, 1, deleted)
}

func TestQueryJoinsMetadata(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, 3)

	require.NoError(t, c.Put(ctx, "a", []float32{1, 0, 0}, record("a")))
	require.NoError(t, c.Put(ctx, "b", []float32{0, 1, 0}, record("b")))
	require.NoError(t, c.Put(ctx, "c", []float32{1, 1, 0}, record("c")))

	matches, err := c.Query(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, "a", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, record("a"), matches[0].Record)

	assert.Equal(t, "c", matches[1].ID)
	assert.InDelta(t, 0.7071068, matches[1].Score, 1e-6)

	assert.Equal(t, "b", matches[2].ID)
	assert.InDelta(t, 0.0, matches[2].Score, 1e-6)
}

func TestQueryDropsMissingRecords(t *testing.T) {
	ctx := context.Background()
	c, table := newTestCoordinator(t, 3)

	require.NoError(t, c.Put(ctx, "a", []float32{1, 0, 0}, record("a")))
	require.NoError(t, c.Put(ctx, "b", []float32{0.9, 0.1, 0}, record("b")))

	// Remove the record behind the coordinator's back; the index entry stays.
	require.NoError(t, table.Delete(ctx, "b"))

	matches, err := c.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)
}

func TestQueryStream(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, 3)

	require.NoError(t, c.Put(ctx, "a", []float32{1, 0, 0}, record("a")))
	require.NoError(t, c.Put(ctx, "b", []float32{0.9, 0.1, 0}, record("b")))
	require.NoError(t, c.Put(ctx, "c", []float32{0, 1, 0}, record("c")))

	t.Run("MatchesQuery", func(t *testing.T) {
		want, err := c.Query(ctx, []float32{1, 0, 0}, 3)
		require.NoError(t, err)

		var got []engine.Match
		for m, err := range c.QueryStream(ctx, []float32{1, 0, 0}, 3) {
			require.NoError(t, err)
			got = append(got, m)
		}
		assert.Equal(t, want, got)
	})

	t.Run("EarlyBreak", func(t *testing.T) {
		var got []engine.Match
		for m, err := range c.QueryStream(ctx, []float32{1, 0, 0}, 3) {
			require.NoError(t, err)
			got = append(got, m)
			if len(got) == 1 {
				break
			}
		}
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].ID)
	})

	t.Run("InvalidK", func(t *testing.T) {
		seen := false
		for _, err := range c.QueryStream(ctx, []float32{1, 0, 0}, 0) {
			require.ErrorIs(t, err, index.ErrInvalidK)
			seen = true
		}
		assert.True(t, seen)
	})
}

func TestQueryStreamDropsDeletedMidIteration(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, 3)

	require.NoError(t, c.Put(ctx, "a", []float32{1, 0, 0}, record("a")))
	require.NoError(t, c.Put(ctx, "b", []float32{0.9, 0.1, 0}, record("b")))
	require.NoError(t, c.Put(ctx, "c", []float32{0.8, 0.2, 0}, record("c")))

	// The lock is not held across yields, so the consumer itself can
	// mutate the store between items.
	var ids []string
	for m, err := range c.QueryStream(ctx, []float32{1, 0, 0}, 3) {
		require.NoError(t, err)
		ids = append(ids, m.ID)
		if m.ID == "a" {
			_, err := c.Delete(ctx, "b")
			require.NoError(t, err)
		}
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestCoordinator(t, 3)

	require.NoError(t, src.Put(ctx, "a", []float32{1, 0, 0}, record("a")))
	require.NoError(t, src.Put(ctx, "b", []float32{0, 1, 0}, record("b")))

	var buf bytes.Buffer
	header, err := src.WriteSnapshot(ctx, &buf, codec.Default)
	require.NoError(t, err)
	assert.Equal(t, 3, header.Dimension)
	assert.Equal(t, 2, header.Count)
	assert.Equal(t, "flat", header.Index)

	dst, _ := newTestCoordinator(t, 3)
	restored, err := dst.ReadSnapshot(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, header.ID, restored.ID)

	count, err := dst.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, dst.IndexLen())

	rec, ok, err := dst.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record("a"), rec)

	matches, err := dst.Query(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].ID)

	// The restored store accepts further writes.
	require.NoError(t, dst.Put(ctx, "c", []float32{0, 0, 1}, record("c")))
	count, err = dst.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRestoreReplacesExistingState(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestCoordinator(t, 3)
	require.NoError(t, src.Put(ctx, "a", []float32{1, 0, 0}, record("a")))

	snap, err := src.Snapshot(ctx)
	require.NoError(t, err)

	dst, _ := newTestCoordinator(t, 3)
	require.NoError(t, dst.Put(ctx, "stale", []float32{0, 1, 0}, record("stale")))

	require.NoError(t, dst.Restore(ctx, snap))

	_, ok, err := dst.Get(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := dst.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, dst.IndexLen())
}

func TestSnapshotDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestCoordinator(t, 3)
	require.NoError(t, src.Put(ctx, "a", []float32{1, 0, 0}, record("a")))

	var buf bytes.Buffer
	_, err := src.WriteSnapshot(ctx, &buf, nil)
	require.NoError(t, err)

	dst, _ := newTestCoordinator(t, 4)
	_, err = dst.ReadSnapshot(ctx, bytes.NewReader(buf.Bytes()))

	var dimErr *index.ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Actual)

	// The failed restore left the destination untouched.
	count, err := dst.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// plainIndex is a minimal collaborator without the Serializer capability.
type plainIndex struct {
	mu   sync.Mutex
	vecs map[string][]float32
}

func (p *plainIndex) Upsert(_ context.Context, id string, vector []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := make([]float32, len(vector))
	copy(v, vector)
	p.vecs[id] = v
	return nil
}

func (p *plainIndex) Query(context.Context, []float32, int) ([]index.Result, error) {
	return nil, nil
}

func (p *plainIndex) Delete(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.vecs, id)
	return nil
}

func (p *plainIndex) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.vecs)
}

func TestSnapshotUnsupported(t *testing.T) {
	ctx := context.Background()

	adapter, err := index.NewAdapter(&plainIndex{vecs: make(map[string][]float32)}, 3)
	require.NoError(t, err)
	c, err := engine.New(adapter, metadata.NewMapTable())
	require.NoError(t, err)

	_, err = c.Snapshot(ctx)
	require.ErrorIs(t, err, engine.ErrSnapshotUnsupported)

	_, err = c.WriteSnapshot(ctx, &bytes.Buffer{}, nil)
	require.ErrorIs(t, err, engine.ErrSnapshotUnsupported)
}

func TestConcurrentMutationsAndQueries(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, 3)

	var g errgroup.Group

	for w := 0; w < 4; w++ {
		g.Go(func() error {
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("doc-%d", i)
				vec := []float32{float32(i%7) + 1, float32(i%3) + 1, 1}
				if err := c.Put(ctx, id, vec, record(id)); err != nil {
					return err
				}
				if i%5 == 0 {
					if _, err := c.Delete(ctx, id); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}

	for r := 0; r < 4; r++ {
		g.Go(func() error {
			for i := 0; i < 50; i++ {
				if _, err := c.Query(ctx, []float32{1, 1, 1}, 10); err != nil {
					return err
				}
				for _, err := range c.QueryStream(ctx, []float32{1, 1, 1}, 5) {
					if err != nil {
						return err
					}
				}
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())

	// Both sides agree once the dust settles.
	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, count, c.IndexLen())
}
