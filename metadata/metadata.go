// Package metadata defines the per-document metadata records kept by the
// store and the table abstraction they live in. A record never carries
// document content or vectors; it is the only state that survives
// vectorization besides the vector entry itself.
package metadata

import "context"

// Record is the small per-document payload stored alongside a vector entry.
type Record struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// Patch describes a partial update to a Record. Nil fields are left
// unchanged, so callers can update any subset of fields independently.
type Patch struct {
	Title   *string
	URL     *string
	Summary *string
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Title == nil && p.URL == nil && p.Summary == nil
}

// Apply returns a copy of rec with the non-nil patch fields replaced.
func (p Patch) Apply(rec Record) Record {
	if p.Title != nil {
		rec.Title = *p.Title
	}
	if p.URL != nil {
		rec.URL = *p.URL
	}
	if p.Summary != nil {
		rec.Summary = *p.Summary
	}
	return rec
}

// String returns a pointer to s, for building patches inline.
func String(s string) *string {
	return &s
}

// Table is a metadata store keyed by document id.
//
// Implementations must be safe for concurrent use. Delete on an absent id
// is a no-op; Get on an absent id reports ok=false without an error.
type Table interface {
	// Get returns the record for id, if present.
	Get(ctx context.Context, id string) (Record, bool, error)

	// Set stores or replaces the record for id.
	Set(ctx context.Context, id string, rec Record) error

	// Delete removes the record for id. Absent ids are ignored.
	Delete(ctx context.Context, id string) error

	// Len returns the number of stored records.
	Len(ctx context.Context) (int, error)

	// All returns a copy of every stored record keyed by id.
	All(ctx context.Context) (map[string]Record, error)

	// ReplaceAll atomically replaces the table contents with recs.
	ReplaceAll(ctx context.Context, recs map[string]Record) error

	// Close releases any resources held by the table.
	Close() error
}
