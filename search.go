package lethe

import (
	"context"
	"iter"
)

// Query creates a fluent search builder for the given query text.
//
// Example:
//
//	results, err := store.Query("lock contention").
//	    K(10).
//	    MinScore(0.2).
//	    Execute(ctx)
//
//	// Or with streaming:
//	for result, err := range store.Query("lock contention").K(100).Stream(ctx) {
//	    if err != nil { break }
//	    process(result)
//	}
func (s *Store) Query(query string) *SearchBuilder {
	return &SearchBuilder{
		store: s,
		query: query,
		k:     10, // Default k
	}
}

// SearchBuilder is a fluent builder for constructing search queries.
// It adds no semantics of its own; every terminal method maps onto one of
// the store's search operations.
type SearchBuilder struct {
	store    *Store
	query    string
	vector   []float32
	k        int
	minScore float32
	hasMin   bool
}

// K sets the number of nearest neighbors to return.
func (sb *SearchBuilder) K(k int) *SearchBuilder {
	sb.k = k
	return sb
}

// ByVector searches with a caller-computed vector instead of embedding the
// query text. The builder's query string is ignored.
func (sb *SearchBuilder) ByVector(vector []float32) *SearchBuilder {
	sb.vector = vector
	return sb
}

// MinScore drops results scoring below min. Scores arrive in descending
// order, so the cut is a truncation: once one result falls below the
// threshold, the rest are discarded too.
func (sb *SearchBuilder) MinScore(min float32) *SearchBuilder {
	sb.minScore = min
	sb.hasMin = true
	return sb
}

// Execute runs the search and returns the results.
func (sb *SearchBuilder) Execute(ctx context.Context) ([]SearchResult, error) {
	results, err := sb.run(ctx)
	if err != nil {
		return nil, err
	}
	if sb.hasMin {
		for i, r := range results {
			if r.Score < sb.minScore {
				results = results[:i]
				break
			}
		}
	}
	return results, nil
}

func (sb *SearchBuilder) run(ctx context.Context) ([]SearchResult, error) {
	if sb.vector != nil {
		return sb.store.SearchByVector(ctx, sb.vector, sb.k)
	}
	return sb.store.Search(ctx, sb.query, sb.k)
}

// MustExecute runs the search, panicking on error.
// Use this only in tests or when you're certain the query is valid.
func (sb *SearchBuilder) MustExecute(ctx context.Context) []SearchResult {
	results, err := sb.Execute(ctx)
	if err != nil {
		panic(err)
	}
	return results
}

// Stream returns an iterator over search results, most relevant first.
// Errors, including embedding failures, are delivered through the
// iterator's second value. Breaking from the loop stops all remaining work.
//
// Example:
//
//	for result, err := range store.Query("lock contention").K(100).Stream(ctx) {
//	    if err != nil { break }
//	    process(result)
//	}
func (sb *SearchBuilder) Stream(ctx context.Context) iter.Seq2[SearchResult, error] {
	return func(yield func(SearchResult, error) bool) {
		stream, err := sb.runStream(ctx)
		if err != nil {
			yield(SearchResult{}, err)
			return
		}

		for r, err := range stream {
			if err != nil {
				yield(SearchResult{}, err)
				return
			}
			// Descending scores: nothing after the first miss qualifies.
			if sb.hasMin && r.Score < sb.minScore {
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (sb *SearchBuilder) runStream(ctx context.Context) (iter.Seq2[SearchResult, error], error) {
	if sb.vector != nil {
		return sb.store.SearchByVectorStream(ctx, sb.vector, sb.k)
	}
	return sb.store.SearchStream(ctx, sb.query, sb.k)
}

// First returns only the most relevant result, or ErrNotFound if there is
// none (including when every candidate falls below MinScore).
func (sb *SearchBuilder) First(ctx context.Context) (SearchResult, error) {
	sb.k = 1
	results, err := sb.Execute(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	if len(results) == 0 {
		return SearchResult{}, ErrNotFound
	}
	return results[0], nil
}

// Count executes the search and returns the number of results.
func (sb *SearchBuilder) Count(ctx context.Context) (int, error) {
	results, err := sb.Execute(ctx)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

// Exists checks if at least one result matches the search.
func (sb *SearchBuilder) Exists(ctx context.Context) (bool, error) {
	sb.k = 1
	results, err := sb.Execute(ctx)
	if err != nil {
		return false, err
	}
	return len(results) > 0, nil
}
