package metadata

import (
	"context"
	"maps"
	"sync"
)

// Compile-time check to ensure MapTable satisfies the Table interface.
var _ Table = (*MapTable)(nil)

// MapTable is an in-memory Table backed by a map with RWMutex protection.
// It is the default backend: O(1) lookups, no durability.
type MapTable struct {
	mu   sync.RWMutex
	recs map[string]Record
}

// NewMapTable creates an empty in-memory table.
func NewMapTable() *MapTable {
	return &MapTable{
		recs: make(map[string]Record),
	}
}

// Get returns the record for id, if present.
func (t *MapTable) Get(_ context.Context, id string) (Record, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.recs[id]
	return rec, ok, nil
}

// Set stores or replaces the record for id.
func (t *MapTable) Set(_ context.Context, id string, rec Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recs[id] = rec
	return nil
}

// Delete removes the record for id. Deleting an absent id is a no-op.
func (t *MapTable) Delete(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.recs, id)
	return nil
}

// Len returns the number of stored records.
func (t *MapTable) Len(_ context.Context) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.recs), nil
}

// All returns a copy of the table contents.
func (t *MapTable) All(_ context.Context) (map[string]Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Record, len(t.recs))
	maps.Copy(out, t.recs)
	return out, nil
}

// ReplaceAll atomically replaces the table contents with recs.
func (t *MapTable) ReplaceAll(_ context.Context, recs map[string]Record) error {
	next := make(map[string]Record, len(recs))
	maps.Copy(next, recs)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.recs = next
	return nil
}

// Close is a no-op for the in-memory table.
func (t *MapTable) Close() error {
	return nil
}
