package flat

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lethedb/lethe/index"
)

func TestNew(t *testing.T) {
	f, err := New(3)
	require.NoError(t, err)
	assert.Equal(t, 3, f.Dimension())
	assert.Equal(t, 0, f.Len())

	_, err = New(0)
	assert.Error(t, err)
	_, err = New(-1)
	assert.Error(t, err)
}

func TestUpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	f, err := New(3)
	require.NoError(t, err)

	require.NoError(t, f.Upsert(ctx, "a", []float32{1, 0, 0}))
	require.NoError(t, f.Upsert(ctx, "b", []float32{0, 1, 0}))
	require.NoError(t, f.Upsert(ctx, "c", []float32{1, 1, 0}))
	assert.Equal(t, 3, f.Len())

	results, err := f.Query(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "c", results[1].ID)
	assert.InDelta(t, 0.7071068, results[1].Score, 1e-6)
	assert.Equal(t, "b", results[2].ID)
	assert.InDelta(t, 0.0, results[2].Score, 1e-6)

	// k larger than the live count returns everything.
	results, err = f.Query(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	// k smaller truncates after ranking.
	results, err = f.Query(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestUpsertReplace(t *testing.T) {
	ctx := context.Background()
	f, err := New(2)
	require.NoError(t, err)

	require.NoError(t, f.Upsert(ctx, "a", []float32{1, 0}))
	require.NoError(t, f.Upsert(ctx, "a", []float32{0, 1}))
	assert.Equal(t, 1, f.Len())

	results, err := f.Query(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	f, err := New(3)
	require.NoError(t, err)

	err = f.Upsert(ctx, "a", []float32{1, 2})
	var mismatch *index.ErrDimensionMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 3, mismatch.Expected)
	assert.Equal(t, 2, mismatch.Actual)

	assert.ErrorIs(t, f.Upsert(ctx, "", []float32{1, 2, 3}), index.ErrEmptyID)
	assert.Error(t, f.Upsert(ctx, "z", []float32{0, 0, 0}))

	_, err = f.Query(ctx, []float32{1, 2}, 1)
	require.ErrorAs(t, err, &mismatch)

	_, err = f.Query(ctx, []float32{1, 2, 3}, 0)
	assert.ErrorIs(t, err, index.ErrInvalidK)

	// Zero entries: empty result, not an error.
	results, err := f.Query(ctx, []float32{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Zero query vector against a non-empty index is rejected.
	require.NoError(t, f.Upsert(ctx, "a", []float32{1, 2, 3}))
	_, err = f.Query(ctx, []float32{0, 0, 0}, 1)
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f, err := New(2)
	require.NoError(t, err)

	// Absent id is a no-op.
	require.NoError(t, f.Delete(ctx, "ghost"))

	require.NoError(t, f.Upsert(ctx, "a", []float32{1, 0}))
	require.NoError(t, f.Upsert(ctx, "b", []float32{0, 1}))
	require.NoError(t, f.Delete(ctx, "a"))
	assert.Equal(t, 1, f.Len())

	results, err := f.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)

	// Double delete stays a no-op.
	require.NoError(t, f.Delete(ctx, "a"))
	assert.Equal(t, 1, f.Len())
}

func TestSlotReuse(t *testing.T) {
	ctx := context.Background()
	f, err := New(2)
	require.NoError(t, err)

	require.NoError(t, f.Upsert(ctx, "a", []float32{1, 0}))
	require.NoError(t, f.Upsert(ctx, "b", []float32{1, 0}))
	require.NoError(t, f.Delete(ctx, "a"))
	require.NoError(t, f.Upsert(ctx, "c", []float32{1, 0}))
	assert.Equal(t, 2, f.Len())

	// c reuses a's slot but ranks by its own, later insertion.
	results, err := f.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
}

func TestTieOrder(t *testing.T) {
	ctx := context.Background()
	f, err := New(2)
	require.NoError(t, err)

	// Identical vectors: every hit ties at score 1 for this query.
	require.NoError(t, f.Upsert(ctx, "first", []float32{2, 0}))
	require.NoError(t, f.Upsert(ctx, "second", []float32{3, 0}))
	require.NoError(t, f.Upsert(ctx, "third", []float32{1, 0}))

	results, err := f.Query(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "first", results[0].ID)
	assert.Equal(t, "second", results[1].ID)
	assert.Equal(t, "third", results[2].ID)

	// Replacing a vector keeps its original position among ties.
	require.NoError(t, f.Upsert(ctx, "first", []float32{5, 0}))
	results, err = f.Query(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, "first", results[0].ID)
}

func TestQueryStream(t *testing.T) {
	ctx := context.Background()
	f, err := New(3)
	require.NoError(t, err)

	require.NoError(t, f.Upsert(ctx, "a", []float32{1, 0, 0}))
	require.NoError(t, f.Upsert(ctx, "b", []float32{0, 1, 0}))
	require.NoError(t, f.Upsert(ctx, "c", []float32{1, 1, 0}))

	want, err := f.Query(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)

	var got []index.Result
	for r, err := range f.QueryStream(ctx, []float32{1, 0, 0}, 3) {
		require.NoError(t, err)
		got = append(got, r)
	}
	assert.Equal(t, want, got)

	// Early break stops cleanly.
	count := 0
	for _, err := range f.QueryStream(ctx, []float32{1, 0, 0}, 3) {
		require.NoError(t, err)
		count++
		if count == 1 {
			break
		}
	}
	assert.Equal(t, 1, count)

	// Errors surface through the stream.
	for _, err := range f.QueryStream(ctx, []float32{1, 0, 0}, 0) {
		assert.ErrorIs(t, err, index.ErrInvalidK)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	ctx := context.Background()
	f, err := New(3)
	require.NoError(t, err)

	require.NoError(t, f.Upsert(ctx, "a", []float32{1, 0, 0}))
	require.NoError(t, f.Upsert(ctx, "b", []float32{0, 1, 0}))
	require.NoError(t, f.Upsert(ctx, "c", []float32{1, 1, 0}))
	require.NoError(t, f.Delete(ctx, "b"))

	var buf bytes.Buffer
	n, err := f.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	restored, err := New(3)
	require.NoError(t, err)
	m, err := restored.ReadFrom(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, n, m)
	assert.Equal(t, f.Len(), restored.Len())

	want, err := f.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	got, err := restored.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Writes keep working after a restore, without id collisions.
	require.NoError(t, restored.Upsert(ctx, "d", []float32{0, 0, 1}))
	assert.Equal(t, 3, restored.Len())
}

func TestReadFromRejectsBadInput(t *testing.T) {
	f, err := New(3)
	require.NoError(t, err)

	_, err = f.ReadFrom(bytes.NewReader([]byte("XXXXGARBAGE")))
	assert.Error(t, err)

	// Dimension mismatch between stream and index.
	src, err := New(2)
	require.NoError(t, err)
	require.NoError(t, src.Upsert(context.Background(), "a", []float32{1, 0}))
	var buf bytes.Buffer
	_, err = src.WriteTo(&buf)
	require.NoError(t, err)

	var mismatch *index.ErrDimensionMismatch
	_, err = f.ReadFrom(bytes.NewReader(buf.Bytes()))
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 3, mismatch.Expected)
	assert.Equal(t, 2, mismatch.Actual)
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	ctx := context.Background()
	f, err := New(2)
	require.NoError(t, err)
	require.NoError(t, f.Upsert(ctx, "seed", []float32{1, 0}))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				results, err := f.Query(ctx, []float32{1, 0}, 3)
				if err != nil {
					t.Errorf("query: %v", err)
					return
				}
				if len(results) == 0 {
					t.Error("seed entry missing")
					return
				}
			}
		}()
	}

	ids := []string{"w1", "w2", "w3"}
	for i := 0; i < 50; i++ {
		id := ids[i%len(ids)]
		require.NoError(t, f.Upsert(ctx, id, []float32{float32(i + 1), 1}))
		if i%3 == 0 {
			require.NoError(t, f.Delete(ctx, id))
		}
	}
	close(stop)
	wg.Wait()
}
