package embedding

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limits holds provider throttling settings. Zero values leave the
// corresponding limit unenforced.
type Limits struct {
	// MaxConcurrent caps in-flight provider calls.
	MaxConcurrent int64

	// RequestsPerSecond caps the call rate.
	RequestsPerSecond float64

	// Burst is the rate limiter burst size. Zero defaults to 1.
	Burst int
}

// Limited decorates an Embedder with concurrency and rate limits so that
// provider pressure stays bounded when many writers embed at once.
type Limited struct {
	inner   Embedder
	sem     *semaphore.Weighted // nil if unlimited
	limiter *rate.Limiter       // nil if unlimited
}

var _ Embedder = (*Limited)(nil)

// NewLimited wraps inner with the given limits.
func NewLimited(inner Embedder, limits Limits) (*Limited, error) {
	if inner == nil {
		return nil, fmt.Errorf("embedding: inner embedder is nil")
	}
	l := &Limited{inner: inner}
	if limits.MaxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(limits.MaxConcurrent)
	}
	if limits.RequestsPerSecond > 0 {
		burst := limits.Burst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), burst)
	}
	return l, nil
}

// acquire waits for the rate limiter and a concurrency slot. The returned
// release must be called once the provider call finishes.
func (l *Limited) acquire(ctx context.Context) (release func(), err error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return func() { l.sem.Release(1) }, nil
	}
	return func() {}, nil
}

// Embed converts a single text into a vector.
func (l *Limited) Embed(ctx context.Context, text string) ([]float32, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.inner.Embed(ctx, text)
}

// EmbedBatch converts multiple texts in a single provider call.
func (l *Limited) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.inner.EmbedBatch(ctx, texts)
}

// Dimension reports the wrapped embedder's vector width.
func (l *Limited) Dimension() int {
	return l.inner.Dimension()
}

// Close closes the wrapped embedder when it holds closable resources.
func (l *Limited) Close() error {
	if c, ok := l.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
