package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/lethedb/lethe/embedding"
)

// Embedder is a deterministic in-process embedder for tests: the vector for
// a text depends only on the text and the configured dimension, so runs are
// reproducible without a model or network access.
//
// Vectors are L2-normalized. With cosine scoring that makes a text score
// exactly 1 against itself, which keeps relevance assertions simple.
type Embedder struct {
	// Hook, when non-nil, runs at the start of every provider call with
	// the texts about to be embedded. Returning an error fails the call;
	// blocking simulates a slow provider. Set it before the embedder is
	// shared between goroutines.
	Hook func(ctx context.Context, texts []string) error

	dim      int
	calls    atomic.Int64
	inflight atomic.Int64
	peak     atomic.Int64
}

var _ embedding.Embedder = (*Embedder)(nil)

// NewEmbedder creates a deterministic embedder producing vectors of the
// given dimension.
func NewEmbedder(dimension int) *Embedder {
	return &Embedder{dim: dimension}
}

// Embed converts a single text into its deterministic vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch converts multiple texts in one simulated provider call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)

	n := e.inflight.Add(1)
	defer e.inflight.Add(-1)
	for {
		peak := e.peak.Load()
		if n <= peak || e.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if len(texts) == 0 {
		return nil, embedding.ErrEmptyText
	}
	if e.Hook != nil {
		if err := e.Hook(ctx, texts); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if text == "" {
			return nil, embedding.ErrEmptyText
		}
		out[i] = Vector(e.dim, text)
	}
	return out, nil
}

// Dimension reports the configured vector width.
func (e *Embedder) Dimension() int {
	return e.dim
}

// Calls returns the number of provider calls made so far.
func (e *Embedder) Calls() int64 {
	return e.calls.Load()
}

// MaxInFlight returns the highest number of provider calls that were ever
// in flight at the same time.
func (e *Embedder) MaxInFlight() int64 {
	return e.peak.Load()
}

// Vector returns the deterministic L2-normalized vector the Embedder
// produces for text, so tests can compute expected values independently.
func Vector(dimension int, text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, dimension)
	var norm float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		// A zero draw is practically impossible; pin the first axis so the
		// vector is still usable with cosine scoring.
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// RNG is a seeded random vector source for tests and benchmarks.
// It is safe for concurrent use.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates an RNG with the given seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset rewinds the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed))
}

// Vector returns a random unit vector of the given dimension.
func (r *RNG) Vector(dimension int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vec := make([]float32, dimension)
	var norm float64
	for i := range vec {
		v := r.rand.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// Vectors returns count random unit vectors of the given dimension.
func (r *RNG) Vectors(count, dimension int) [][]float32 {
	out := make([][]float32, count)
	for i := range out {
		out[i] = r.Vector(dimension)
	}
	return out
}
