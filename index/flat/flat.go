// Package flat provides the default in-memory brute-force collaborator:
// exact cosine search over a copy-on-write slot table.
package flat

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"maps"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/viterin/vek/vek32"

	"github.com/lethedb/lethe/index"
	"github.com/lethedb/lethe/internal/queue"
)

// Compile-time checks for the collaborator contract and its optional
// capabilities.
var (
	_ index.Index      = (*Flat)(nil)
	_ index.Streamer   = (*Flat)(nil)
	_ index.Serializer = (*Flat)(nil)
	_ index.Namer      = (*Flat)(nil)
)

// state is the immutable view published to readers. Writers clone it,
// modify the clone, and publish; inner vector slices are never mutated
// after publication.
type state struct {
	slots map[string]uint32 // id -> slot
	ids   []string          // slot -> id ("" when free)
	vecs  [][]float32       // slot -> stored vector
	norms []float32         // slot -> L2 norm of the stored vector
	seqs  []uint64          // slot -> insertion sequence (pins tie order)
	live  *roaring.Bitmap   // live slots
	free  []uint32          // slots available for reuse
}

func newState() *state {
	return &state{
		slots: make(map[string]uint32),
		live:  roaring.New(),
	}
}

// clone re-backs every slice and the bitmap. Inner vector slices are
// shared; writers replace them wholesale instead of mutating in place.
func (s *state) clone() *state {
	return &state{
		slots: maps.Clone(s.slots),
		ids:   slices.Clone(s.ids),
		vecs:  slices.Clone(s.vecs),
		norms: slices.Clone(s.norms),
		seqs:  slices.Clone(s.seqs),
		live:  s.live.Clone(),
		free:  slices.Clone(s.free),
	}
}

// Flat scores every live vector against the query with a SIMD dot product
// and keeps the top k on a bounded heap. Queries are lock-free against a
// published snapshot; writes serialize on a mutex.
type Flat struct {
	state   atomic.Value // *state
	writeMu sync.Mutex
	nextSeq uint64 // guarded by writeMu
	dim     int
}

// New creates an empty index for vectors of the given dimension.
func New(dimension int) (*Flat, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("flat: invalid dimension %d", dimension)
	}
	f := &Flat{dim: dimension}
	f.state.Store(newState())
	return f, nil
}

func (f *Flat) load() *state {
	return f.state.Load().(*state)
}

// Dimension returns the vector dimension the index was created with.
func (f *Flat) Dimension() int {
	return f.dim
}

// Name identifies the index type in snapshot headers.
func (f *Flat) Name() string {
	return "flat"
}

// Upsert inserts or replaces the vector for id. The vector is copied;
// callers may reuse their buffer.
func (f *Flat) Upsert(ctx context.Context, id string, vector []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return index.ErrEmptyID
	}
	if len(vector) != f.dim {
		return &index.ErrDimensionMismatch{Expected: f.dim, Actual: len(vector)}
	}

	vec := slices.Clone(vector)
	norm := float32(math.Sqrt(float64(vek32.Dot(vec, vec))))
	if norm == 0 {
		return fmt.Errorf("flat: cannot index zero vector")
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	st := f.load().clone()
	if slot, ok := st.slots[id]; ok {
		// Replacement keeps the slot's original insertion sequence.
		st.vecs[slot] = vec
		st.norms[slot] = norm
		f.state.Store(st)
		return nil
	}

	f.nextSeq++
	var slot uint32
	if n := len(st.free); n > 0 {
		slot = st.free[n-1]
		st.free = st.free[:n-1]
		st.ids[slot] = id
		st.vecs[slot] = vec
		st.norms[slot] = norm
		st.seqs[slot] = f.nextSeq
	} else {
		slot = uint32(len(st.ids))
		st.ids = append(st.ids, id)
		st.vecs = append(st.vecs, vec)
		st.norms = append(st.norms, norm)
		st.seqs = append(st.seqs, f.nextSeq)
	}
	st.slots[id] = slot
	st.live.Add(slot)
	f.state.Store(st)
	return nil
}

// Delete removes the entry for id. Absent ids are a no-op.
func (f *Flat) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return index.ErrEmptyID
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	st := f.load()
	slot, ok := st.slots[id]
	if !ok {
		return nil
	}

	c := st.clone()
	delete(c.slots, id)
	c.ids[slot] = ""
	c.vecs[slot] = nil
	c.norms[slot] = 0
	c.seqs[slot] = 0
	c.live.Remove(slot)
	c.free = append(c.free, slot)
	f.state.Store(c)
	return nil
}

// Len returns the number of live entries.
func (f *Flat) Len() int {
	return int(f.load().live.GetCardinality())
}

// search scores every live slot and returns the snapshot it ran against
// together with the ranked top k.
func (f *Flat) search(ctx context.Context, vector []float32, k int) (*state, []queue.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if k <= 0 {
		return nil, nil, index.ErrInvalidK
	}
	if len(vector) != f.dim {
		return nil, nil, &index.ErrDimensionMismatch{Expected: f.dim, Actual: len(vector)}
	}

	st := f.load()
	if st.live.IsEmpty() {
		return st, nil, nil
	}

	qnorm := float32(math.Sqrt(float64(vek32.Dot(vector, vector))))
	if qnorm == 0 {
		return nil, nil, fmt.Errorf("flat: cannot score zero query vector")
	}

	top := queue.NewTopK(k)
	it := st.live.Iterator()
	for it.HasNext() {
		slot := it.Next()
		score := vek32.Dot(vector, st.vecs[slot]) / (qnorm * st.norms[slot])
		top.Offer(queue.Item{Slot: slot, Score: score, Seq: st.seqs[slot]})
	}
	return st, top.Ranked(), nil
}

// Query returns up to k hits ordered by descending cosine similarity;
// equal scores keep insertion order.
func (f *Flat) Query(ctx context.Context, vector []float32, k int) ([]index.Result, error) {
	st, top, err := f.search(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	results := make([]index.Result, len(top))
	for i, item := range top {
		results[i] = index.Result{ID: st.ids[item.Slot], Score: item.Score}
	}
	return results, nil
}

// QueryStream yields hits one at a time, nearest first. Selection runs
// eagerly on the snapshot; only result construction is lazy.
func (f *Flat) QueryStream(ctx context.Context, vector []float32, k int) iter.Seq2[index.Result, error] {
	return func(yield func(index.Result, error) bool) {
		st, top, err := f.search(ctx, vector, k)
		if err != nil {
			yield(index.Result{}, err)
			return
		}
		for _, item := range top {
			if !yield(index.Result{ID: st.ids[item.Slot], Score: item.Score}, nil) {
				return
			}
		}
	}
}

const (
	magic = "LFI1"

	// maxEntries bounds the entry count read from a stream before any
	// allocation happens.
	maxEntries = 100_000_000

	// maxIDLen bounds a single id read from a stream.
	maxIDLen = 1 << 20
)

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// WriteTo serializes the index: magic, dimension, entry count, then one
// (sequence, id, vector) record per live entry. Norms are recomputed on
// load. Matches io.WriterTo.
func (f *Flat) WriteTo(w io.Writer) (int64, error) {
	st := f.load()
	cw := &countingWriter{w: w}

	if _, err := cw.Write([]byte(magic)); err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, binary.LittleEndian, uint32(f.dim)); err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, binary.LittleEndian, st.live.GetCardinality()); err != nil {
		return cw.n, err
	}

	it := st.live.Iterator()
	for it.HasNext() {
		slot := it.Next()
		if err := binary.Write(cw, binary.LittleEndian, st.seqs[slot]); err != nil {
			return cw.n, err
		}
		id := st.ids[slot]
		if err := binary.Write(cw, binary.LittleEndian, uint32(len(id))); err != nil {
			return cw.n, err
		}
		if _, err := cw.Write([]byte(id)); err != nil {
			return cw.n, err
		}
		if err := binary.Write(cw, binary.LittleEndian, st.vecs[slot]); err != nil {
			return cw.n, err
		}
	}
	return cw.n, nil
}

// ReadFrom replaces the index contents with a stream produced by WriteTo.
// The stream's dimension must match the index's. Matches io.ReaderFrom.
func (f *Flat) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}

	head := make([]byte, len(magic))
	if _, err := io.ReadFull(cr, head); err != nil {
		return cr.n, fmt.Errorf("flat: read magic: %w", err)
	}
	if string(head) != magic {
		return cr.n, fmt.Errorf("flat: bad magic %q", head)
	}

	var dim uint32
	if err := binary.Read(cr, binary.LittleEndian, &dim); err != nil {
		return cr.n, fmt.Errorf("flat: read dimension: %w", err)
	}
	if int(dim) != f.dim {
		return cr.n, &index.ErrDimensionMismatch{Expected: f.dim, Actual: int(dim)}
	}

	var count uint64
	if err := binary.Read(cr, binary.LittleEndian, &count); err != nil {
		return cr.n, fmt.Errorf("flat: read entry count: %w", err)
	}
	if count > maxEntries {
		return cr.n, fmt.Errorf("flat: entry count %d exceeds limit", count)
	}

	// Capacity hint only; a hostile count still has to survive per-entry
	// reads before it costs real memory.
	hint := count
	if hint > 65536 {
		hint = 65536
	}
	st := newState()
	st.ids = make([]string, 0, hint)
	st.vecs = make([][]float32, 0, hint)
	st.norms = make([]float32, 0, hint)
	st.seqs = make([]uint64, 0, hint)
	var maxSeq uint64

	for i := uint64(0); i < count; i++ {
		var seq uint64
		if err := binary.Read(cr, binary.LittleEndian, &seq); err != nil {
			return cr.n, fmt.Errorf("flat: read entry %d sequence: %w", i, err)
		}
		var idLen uint32
		if err := binary.Read(cr, binary.LittleEndian, &idLen); err != nil {
			return cr.n, fmt.Errorf("flat: read entry %d id length: %w", i, err)
		}
		if idLen == 0 || idLen > maxIDLen {
			return cr.n, fmt.Errorf("flat: entry %d id length %d out of range", i, idLen)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(cr, idBytes); err != nil {
			return cr.n, fmt.Errorf("flat: read entry %d id: %w", i, err)
		}
		id := string(idBytes)
		if _, ok := st.slots[id]; ok {
			return cr.n, fmt.Errorf("flat: duplicate id %q in stream", id)
		}

		vec := make([]float32, f.dim)
		if err := binary.Read(cr, binary.LittleEndian, vec); err != nil {
			return cr.n, fmt.Errorf("flat: read entry %d vector: %w", i, err)
		}
		norm := float32(math.Sqrt(float64(vek32.Dot(vec, vec))))
		if norm == 0 {
			return cr.n, fmt.Errorf("flat: entry %d has zero vector", i)
		}

		slot := uint32(len(st.ids))
		st.slots[id] = slot
		st.ids = append(st.ids, id)
		st.vecs = append(st.vecs, vec)
		st.norms = append(st.norms, norm)
		st.seqs = append(st.seqs, seq)
		st.live.Add(slot)
		if seq > maxSeq {
			maxSeq = seq
		}
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	f.nextSeq = maxSeq
	f.state.Store(st)
	return cr.n, nil
}
