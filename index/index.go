// Package index defines the contract the store requires from a
// nearest-neighbor index collaborator, and the adapter that owns the
// collaborator handle on the store's behalf.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
)

var (
	// ErrInvalidK is returned when a query requests a non-positive k.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyVector is returned when an empty vector is provided.
	ErrEmptyVector = errors.New("vector must not be empty")

	// ErrEmptyID is returned when an empty document id is provided.
	ErrEmptyID = errors.New("id must not be empty")
)

// ErrDimensionMismatch indicates a vector of the wrong dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Result is a single nearest-neighbor hit. Score is a similarity:
// higher means more relevant.
type Result struct {
	ID    string
	Score float32
}

// Index is the nearest-neighbor collaborator consumed by the store.
//
// Query returns results ordered by descending score; that order is
// authoritative and callers must not re-sort. Upsert replaces the vector
// for an existing id. Delete on an absent id is a no-op.
type Index interface {
	Upsert(ctx context.Context, id string, vector []float32) error
	Query(ctx context.Context, vector []float32, k int) ([]Result, error)
	Delete(ctx context.Context, id string) error
	Len() int
}

// Streamer is an optional capability: a result cursor that yields hits
// one at a time, nearest first, without materializing the result set.
type Streamer interface {
	QueryStream(ctx context.Context, vector []float32, k int) iter.Seq2[Result, error]
}

// Serializer is an optional capability: the collaborator persists and
// restores itself through opaque byte streams. The layout is the
// collaborator's own concern.
type Serializer interface {
	WriteTo(w io.Writer) (int64, error)
	ReadFrom(r io.Reader) (int64, error)
}

// Namer is an optional capability: the collaborator reports a stable type
// name, recorded in snapshot headers.
type Namer interface {
	Name() string
}

// Compile-time checks live with implementations; see index/flat.

// Adapter owns the collaborator handle. It is the only component that
// calls into the collaborator, and it enforces the configured dimension
// on every vector before the call crosses the boundary.
type Adapter struct {
	idx Index
	dim int
}

// NewAdapter wraps idx, pinning the vector dimension for the store's
// lifetime.
func NewAdapter(idx Index, dimension int) (*Adapter, error) {
	if idx == nil {
		return nil, fmt.Errorf("index: collaborator is nil")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("index: invalid dimension %d", dimension)
	}
	return &Adapter{idx: idx, dim: dimension}, nil
}

// Dimension returns the pinned vector dimension.
func (a *Adapter) Dimension() int {
	return a.dim
}

// Validate checks a vector against the pinned dimension without touching
// the collaborator.
func (a *Adapter) Validate(vector []float32) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	if len(vector) != a.dim {
		return &ErrDimensionMismatch{Expected: a.dim, Actual: len(vector)}
	}
	return nil
}

// Upsert inserts or replaces the vector entry for id.
func (a *Adapter) Upsert(ctx context.Context, id string, vector []float32) error {
	if id == "" {
		return ErrEmptyID
	}
	if err := a.Validate(vector); err != nil {
		return err
	}
	return a.idx.Upsert(ctx, id, vector)
}

// Query returns up to k hits ordered by descending score.
func (a *Adapter) Query(ctx context.Context, vector []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if err := a.Validate(vector); err != nil {
		return nil, err
	}
	return a.idx.Query(ctx, vector, k)
}

// QueryStream returns a result cursor. When the collaborator implements
// Streamer the cursor is the collaborator's own; otherwise the hits of a
// regular Query are yielded one at a time.
func (a *Adapter) QueryStream(ctx context.Context, vector []float32, k int) iter.Seq2[Result, error] {
	if k <= 0 {
		return func(yield func(Result, error) bool) {
			yield(Result{}, ErrInvalidK)
		}
	}
	if err := a.Validate(vector); err != nil {
		return func(yield func(Result, error) bool) {
			yield(Result{}, err)
		}
	}

	if s, ok := a.idx.(Streamer); ok {
		return s.QueryStream(ctx, vector, k)
	}

	return func(yield func(Result, error) bool) {
		results, err := a.idx.Query(ctx, vector, k)
		if err != nil {
			yield(Result{}, err)
			return
		}
		for _, r := range results {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Delete removes the vector entry for id. Absent ids are ignored.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return a.idx.Delete(ctx, id)
}

// Len returns the number of vector entries in the collaborator.
func (a *Adapter) Len() int {
	return a.idx.Len()
}

// Serializer returns the collaborator's serialization capability, if any.
func (a *Adapter) Serializer() (Serializer, bool) {
	s, ok := a.idx.(Serializer)
	return s, ok
}

// Name returns the collaborator's type name, or "custom" when it does not
// report one.
func (a *Adapter) Name() string {
	if n, ok := a.idx.(Namer); ok {
		return n.Name()
	}
	return "custom"
}

// Close closes the collaborator when it holds closable resources.
func (a *Adapter) Close() error {
	if c, ok := a.idx.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
