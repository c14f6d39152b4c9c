// Package embedding defines the contract for turning document text into
// dense vectors, together with adapters for hosted and local providers.
//
// The store invokes embedders strictly outside of its internal locking, so
// implementations are free to block on network calls or model inference.
// Implementations must be safe for concurrent use.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyText is returned when there is no text to embed.
	ErrEmptyText = errors.New("text must not be empty")

	// ErrBatchMismatch is returned when a provider yields a different
	// number of vectors than texts it was given.
	ErrBatchMismatch = errors.New("provider returned wrong number of vectors")
)

// Embedder converts text into dense vectors of a fixed dimension.
type Embedder interface {
	// Embed converts a single text into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts in a single round trip. The
	// returned slice is positionally aligned with texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the width of the vectors this embedder produces.
	Dimension() int
}

// Func adapts a plain batch function into an Embedder. It is the lightest
// way to plug an existing embedding callback into the store.
type Func struct {
	dim int
	fn  func(ctx context.Context, texts []string) ([][]float32, error)
}

var _ Embedder = (*Func)(nil)

// NewFunc wraps fn as an Embedder producing vectors of the given dimension.
func NewFunc(dimension int, fn func(ctx context.Context, texts []string) ([][]float32, error)) (*Func, error) {
	if fn == nil {
		return nil, fmt.Errorf("embedding: function is nil")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding: invalid dimension %d", dimension)
	}
	return &Func{dim: dimension, fn: fn}, nil
}

// Embed converts a single text into a vector.
func (f *Func) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch converts multiple texts in a single call to the wrapped
// function.
func (f *Func) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyText
	}
	vecs, err := f.fn(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d texts", ErrBatchMismatch, len(vecs), len(texts))
	}
	return vecs, nil
}

// Dimension reports the configured vector width.
func (f *Func) Dimension() int {
	return f.dim
}
