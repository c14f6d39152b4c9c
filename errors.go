package lethe

import (
	"errors"
	"fmt"

	"github.com/lethedb/lethe/engine"
	"github.com/lethedb/lethe/index"
)

var (
	// ErrNotFound is returned when a document id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrEmbedding is returned when the embedding gateway fails or yields
	// a vector of the wrong dimension.
	ErrEmbedding = errors.New("embedding failed")

	// ErrEmbeddingTimeout is returned when an embedding call exceeds the
	// timeout configured with WithEmbedTimeout.
	ErrEmbeddingTimeout = errors.New("embedding timed out")

	// ErrValidation is returned when a document fails input validation.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidK is returned when a search requests a non-positive k.
	ErrInvalidK = errors.New("k must be positive")

	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrNilEmbedder is returned by New when no embedder is supplied.
	ErrNilEmbedder = errors.New("embedder is nil")
)

// ValidationError describes which document field failed validation.
//
// It unwraps to ErrValidation, so errors.Is(err, ErrValidation) holds.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// translateError maps internal errors onto the public taxonomy. Typed
// errors such as *index.ErrDimensionMismatch pass through unchanged; they
// are already part of the public surface.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, engine.ErrPoolClosed) {
		return fmt.Errorf("%w: %w", ErrStoreClosed, err)
	}
	if errors.Is(err, index.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}
	if errors.Is(err, index.ErrEmptyID) || errors.Is(err, index.ErrEmptyVector) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	return err
}
