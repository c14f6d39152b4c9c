package lethe

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/lethedb/lethe/codec"
	"github.com/lethedb/lethe/embedding"
	"github.com/lethedb/lethe/engine"
	"github.com/lethedb/lethe/index"
	"github.com/lethedb/lethe/index/flat"
	"github.com/lethedb/lethe/metadata"
)

// Document is the unit of ingestion. Content exists only for the duration
// of the add: it is embedded and then discarded, never stored or logged.
type Document struct {
	// ID is the caller-assigned unique identifier.
	ID string

	// Content is the text to embed. It is not retained after the add
	// call returns.
	Content string

	// Title, URL, and Summary are the metadata kept alongside the vector.
	// All default to empty.
	Title   string
	URL     string
	Summary string
}

// SearchResult is a single search hit: the document id, its similarity
// score (higher is more relevant), and the stored metadata. It never
// carries a vector or document content.
type SearchResult struct {
	ID      string
	Score   float32
	Title   string
	URL     string
	Summary string
}

// Store is a content-discarding document index. Documents go in as text,
// live on as a vector plus a metadata record, and come back out as
// metadata-only search results.
//
// All methods are safe for concurrent use. Embedding runs outside the
// store's internal locking, so slow gateways never stall readers.
type Store struct {
	embedder     embedding.Embedder
	coord        *engine.Coordinator
	pool         *engine.WorkerPool
	codec        codec.Codec
	metrics      MetricsCollector
	logger       *Logger
	embedTimeout time.Duration
	closed       atomic.Bool
}

// New creates a Store around an embedding gateway.
//
// By default the store uses an exact cosine index sized to the embedder's
// dimension and an in-memory metadata table; see WithIndex and WithTable
// to swap either out.
//
// The store does not take ownership of the embedder: Close leaves it
// untouched, so one embedder can back several stores.
func New(embedder embedding.Embedder, optFns ...Option) (*Store, error) {
	opts := applyOptions(optFns)
	return newStore(embedder, opts)
}

func newStore(embedder embedding.Embedder, opts options) (*Store, error) {
	if embedder == nil {
		return nil, ErrNilEmbedder
	}

	dim := embedder.Dimension()
	if dim <= 0 {
		return nil, fmt.Errorf("lethe: embedder reports dimension %d", dim)
	}

	idx := opts.index
	if idx == nil {
		f, err := flat.New(dim)
		if err != nil {
			return nil, translateError(err)
		}
		idx = f
	}

	adapter, err := index.NewAdapter(idx, dim)
	if err != nil {
		return nil, translateError(err)
	}

	table := opts.table
	if table == nil {
		table = metadata.NewMapTable()
	}

	c := opts.codec
	if c == nil {
		c = codec.Default
	}

	coord, err := engine.New(adapter, table, engine.WithLogger(opts.logger.Logger))
	if err != nil {
		return nil, translateError(err)
	}

	return &Store{
		embedder:     embedder,
		coord:        coord,
		pool:         engine.NewWorkerPool(opts.batchWorkers),
		codec:        c,
		metrics:      opts.metricsCollector,
		logger:       opts.logger,
		embedTimeout: opts.embedTimeout,
	}, nil
}

// Dimension returns the vector dimension the store enforces. It equals the
// embedder's reported dimension.
func (s *Store) Dimension() int {
	return s.coord.Dimension()
}

// checkOpen gates every operation on the store's lifecycle state.
func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

// embed runs one gateway call under the configured timeout and maps its
// failures onto the public taxonomy. The returned vector is guaranteed to
// match the store dimension.
func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	ectx := ctx
	if s.embedTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, s.embedTimeout)
		defer cancel()
	}

	vector, err := s.embedder.Embed(ectx, text)
	if err != nil {
		s.metrics.RecordEmbeddingError()
		// Distinguish the store's own deadline from a caller cancellation.
		if s.embedTimeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	if len(vector) != s.coord.Dimension() {
		s.metrics.RecordEmbeddingError()
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, &index.ErrDimensionMismatch{
			Expected: s.coord.Dimension(),
			Actual:   len(vector),
		})
	}
	return vector, nil
}

func validateDocument(doc Document) error {
	if doc.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if doc.Content == "" {
		return &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	return nil
}

func recordOf(doc Document) metadata.Record {
	return metadata.Record{
		Title:   doc.Title,
		URL:     doc.URL,
		Summary: doc.Summary,
	}
}

func newSearchResult(m engine.Match) SearchResult {
	return SearchResult{
		ID:      m.ID,
		Score:   m.Score,
		Title:   m.Record.Title,
		URL:     m.Record.URL,
		Summary: m.Record.Summary,
	}
}

// Add embeds doc.Content and stores the resulting vector with the
// document's metadata. Adding an existing id replaces its vector and
// metadata atomically with respect to readers.
//
// The content is referenced only until the embedding call returns; it is
// never stored, logged, or reachable through any query afterwards.
func (s *Store) Add(ctx context.Context, doc Document) error {
	start := time.Now()
	err := s.add(ctx, doc)
	s.metrics.RecordAdd(time.Since(start), err)
	s.logger.LogAdd(ctx, doc.ID, s.coord.Dimension(), err)
	return err
}

func (s *Store) add(ctx context.Context, doc Document) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := validateDocument(doc); err != nil {
		return err
	}

	vector, err := s.embed(ctx, doc.Content)
	if err != nil {
		return err
	}

	return translateError(s.coord.Put(ctx, doc.ID, vector, recordOf(doc)))
}

// AddWithVector stores a caller-computed vector, bypassing the embedding
// gateway. The vector length must match the store dimension; a mismatch
// fails with *index.ErrDimensionMismatch before anything is written.
func (s *Store) AddWithVector(ctx context.Context, id string, vector []float32, rec metadata.Record) error {
	start := time.Now()
	err := s.addWithVector(ctx, id, vector, rec)
	s.metrics.RecordAdd(time.Since(start), err)
	s.logger.LogAdd(ctx, id, len(vector), err)
	return err
}

func (s *Store) addWithVector(ctx context.Context, id string, vector []float32, rec metadata.Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if id == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	return translateError(s.coord.Put(ctx, id, vector, rec))
}

// Get returns the metadata record for id, or nil when the id is unknown.
// Looking up an absent id is not an error.
func (s *Store) Get(ctx context.Context, id string) (*metadata.Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rec, ok, err := s.coord.Get(ctx, id)
	if err != nil {
		return nil, translateError(err)
	}
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Update applies a partial metadata update to an existing document. Fields
// left nil in the patch keep their stored values; the vector is untouched.
// It returns ErrNotFound when the id is unknown.
//
// To re-embed a document, call Add again with the same id.
func (s *Store) Update(ctx context.Context, id string, patch metadata.Patch) error {
	start := time.Now()
	err := s.update(ctx, id, patch)
	s.metrics.RecordUpdate(time.Since(start), err)
	s.logger.LogUpdate(ctx, id, err)
	return err
}

func (s *Store) update(ctx context.Context, id string, patch metadata.Patch) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return translateError(s.coord.Patch(ctx, id, patch))
}

// Delete removes a document's vector and metadata. Deleting an absent id
// is a silent no-op, so Delete is idempotent.
func (s *Store) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.deleteOne(ctx, id)
	s.metrics.RecordDelete(time.Since(start), err)
	s.logger.LogDelete(ctx, id, err)
	return err
}

func (s *Store) deleteOne(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.coord.Delete(ctx, id)
	return translateError(err)
}

// DeleteBatch removes several documents under a single exclusive section.
// Absent ids are silently skipped.
func (s *Store) DeleteBatch(ctx context.Context, ids []string) error {
	start := time.Now()
	removed, err := s.deleteBatch(ctx, ids)
	s.metrics.RecordDelete(time.Since(start), err)
	if err != nil {
		s.logger.ErrorContext(ctx, "batch delete failed",
			"requested", len(ids), "removed", removed, "error", err)
	} else {
		s.logger.DebugContext(ctx, "batch delete completed",
			"requested", len(ids), "removed", removed)
	}
	return err
}

func (s *Store) deleteBatch(ctx context.Context, ids []string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	removed, err := s.coord.DeleteBatch(ctx, ids)
	return removed, translateError(err)
}

// Search embeds the query and returns the k nearest documents, most
// relevant first. The result order comes from the index and is never
// re-sorted. The query text and its vector are discarded when the call
// returns.
//
// An empty store yields an empty slice, not an error. k must be positive.
func (s *Store) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	start := time.Now()
	results, err := s.search(ctx, query, k)
	s.metrics.RecordSearch(k, time.Since(start), err)
	s.logger.LogSearch(ctx, k, len(results), err)
	return results, err
}

func (s *Store) search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}

	vector, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.searchVector(ctx, vector, k)
}

// SearchByVector runs a nearest-neighbor query with a caller-computed
// vector, bypassing the embedding gateway.
func (s *Store) SearchByVector(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	start := time.Now()
	results, err := s.searchByVector(ctx, vector, k)
	s.metrics.RecordSearch(k, time.Since(start), err)
	s.logger.LogSearch(ctx, k, len(results), err)
	return results, err
}

func (s *Store) searchByVector(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	return s.searchVector(ctx, vector, k)
}

func (s *Store) searchVector(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	matches, err := s.coord.Query(ctx, vector, k)
	if err != nil {
		return nil, translateError(err)
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, newSearchResult(m))
	}
	return results, nil
}

// SearchStream embeds the query eagerly, then returns an iterator that
// yields the k nearest documents one at a time, most relevant first. On a
// quiescent store the stream is element-for-element equal to Search.
//
// Iteration is lazy: breaking out of the loop stops all remaining work.
// The store's read lock is held per item, never across the loop body, so a
// slow consumer does not block writers.
//
//	stream, err := store.SearchStream(ctx, "lock contention", 100)
//	if err != nil {
//	    return err
//	}
//	for r, err := range stream {
//	    if err != nil {
//	        return err
//	    }
//	    if r.Score < 0.2 {
//	        break
//	    }
//	    process(r)
//	}
func (s *Store) SearchStream(ctx context.Context, query string, k int) (iter.Seq2[SearchResult, error], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}

	vector, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.stream(ctx, vector, k), nil
}

// SearchByVectorStream is the vector-mode twin of SearchStream: no
// embedding call, the caller supplies the query vector.
func (s *Store) SearchByVectorStream(ctx context.Context, vector []float32, k int) (iter.Seq2[SearchResult, error], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	return s.stream(ctx, vector, k), nil
}

// stream adapts the coordinator's match stream to SearchResults, recording
// metrics and logs when iteration finishes or breaks.
func (s *Store) stream(ctx context.Context, vector []float32, k int) iter.Seq2[SearchResult, error] {
	return func(yield func(SearchResult, error) bool) {
		start := time.Now()
		count := 0

		for m, err := range s.coord.QueryStream(ctx, vector, k) {
			if err != nil {
				err = translateError(err)
				s.metrics.RecordSearch(k, time.Since(start), err)
				s.logger.LogSearch(ctx, k, count, err)
				yield(SearchResult{}, err)
				return
			}

			count++
			if !yield(newSearchResult(m), nil) {
				s.metrics.RecordSearch(k, time.Since(start), nil)
				s.logger.LogSearch(ctx, k, count, nil)
				return
			}
		}

		s.metrics.RecordSearch(k, time.Since(start), nil)
		s.logger.LogSearch(ctx, k, count, nil)
	}
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	n, err := s.coord.Count(ctx)
	return n, translateError(err)
}

// IsEmpty reports whether the store holds no documents.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	n, err := s.Count(ctx)
	return n == 0, err
}

// Contains reports whether a document with the given id exists.
func (s *Store) Contains(ctx context.Context, id string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	ok, err := s.coord.Contains(ctx, id)
	return ok, translateError(err)
}
