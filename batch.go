package lethe

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BatchResult reports the outcome of an AddBatch call per document.
type BatchResult struct {
	// Added lists the ids committed to the store, in input order.
	Added []string

	// Failed maps a document id to the error that kept it out of the
	// store. Documents without an id are keyed "#<position>".
	Failed map[string]error
}

type batchOptions struct {
	sequential bool
}

// BatchOption adjusts a single AddBatch call.
type BatchOption func(*batchOptions)

// WithSequential makes AddBatch embed documents one at a time on the
// calling goroutine instead of fanning out over the worker pool. Useful
// against gateways that reject concurrent callers.
func WithSequential() BatchOption {
	return func(o *batchOptions) {
		o.sequential = true
	}
}

// AddBatch ingests several documents, embedding them in parallel over the
// store's worker pool (see WithBatchWorkers). Embedding runs unsynchronized;
// only the write-through serializes.
//
// Failures are per document: an invalid document or a failed embedding never
// aborts the rest of the batch, and committed documents stay committed. The
// returned error is non-nil only when the batch could not run at all, such
// as after Close.
func (s *Store) AddBatch(ctx context.Context, docs []Document, optFns ...BatchOption) (BatchResult, error) {
	start := time.Now()
	result, err := s.addBatch(ctx, docs, optFns)

	failed := len(result.Failed)
	if err != nil {
		failed = len(docs)
	}
	s.metrics.RecordBatch(len(docs), failed, time.Since(start))
	s.logger.LogBatch(ctx, len(docs), failed)
	return result, err
}

func (s *Store) addBatch(ctx context.Context, docs []Document, optFns []BatchOption) (BatchResult, error) {
	var opts batchOptions
	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}

	result := BatchResult{
		Added:  make([]string, 0, len(docs)),
		Failed: make(map[string]error),
	}
	if err := s.checkOpen(); err != nil {
		return result, err
	}
	if len(docs) == 0 {
		return result, nil
	}

	vectors := make([][]float32, len(docs))
	errs := make([]error, len(docs))

	// Validate up front so the embed phase only sees usable documents.
	for i, doc := range docs {
		errs[i] = validateDocument(doc)
	}

	if opts.sequential {
		for i := range docs {
			if errs[i] != nil {
				continue
			}
			vectors[i], errs[i] = s.embed(ctx, docs[i].Content)
		}
	} else {
		s.embedParallel(ctx, docs, vectors, errs)
	}

	// Write-through in input order. Each document commits or fails on its
	// own; the coordinator serializes the mutations.
	for i, doc := range docs {
		if errs[i] == nil {
			errs[i] = translateError(s.coord.Put(ctx, doc.ID, vectors[i], recordOf(doc)))
		}
		if errs[i] != nil {
			result.Failed[failKey(doc, i)] = errs[i]
			continue
		}
		result.Added = append(result.Added, doc.ID)
	}
	return result, nil
}

// embedParallel fans the embedding calls out over the worker pool and waits
// for all of them. Each task owns exactly one slot of vectors/errs, so the
// WaitGroup is the only synchronization needed.
func (s *Store) embedParallel(ctx context.Context, docs []Document, vectors [][]float32, errs []error) {
	var wg sync.WaitGroup
	for i := range docs {
		if errs[i] != nil {
			continue
		}

		wg.Add(1)
		content := docs[i].Content
		err := s.pool.Submit(ctx, func() {
			defer wg.Done()
			vectors[i], errs[i] = s.embed(ctx, content)
		})
		if err != nil {
			wg.Done()
			errs[i] = translateError(err)
		}
	}
	wg.Wait()
}

// failKey identifies a failed document in BatchResult.Failed. Documents
// without an id get a positional key; an id-keyed map cannot hold them.
func failKey(doc Document, position int) string {
	if doc.ID == "" {
		return fmt.Sprintf("#%d", position)
	}
	return doc.ID
}
