// Package engine provides the coordination layer between the metadata table
// and the index collaborator.
//
// All state transitions route through a Coordinator, which guards the
// (table, index) pair with a single RWMutex:
//   - mutations take the write lock and keep both sides in step
//   - queries take the read lock and join index hits with metadata records
//
// Embedding never happens here. The engine deals in vectors only; callers
// produce them before entering the lock, so a slow embedding gateway can
// never stall readers.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"

	"github.com/lethedb/lethe/codec"
	"github.com/lethedb/lethe/index"
	"github.com/lethedb/lethe/metadata"
	"github.com/lethedb/lethe/snapshot"
)

// Match is a search hit joined with its metadata record.
type Match struct {
	ID     string
	Score  float32
	Record metadata.Record
}

// Coordinator keeps the metadata table and the index collaborator in step.
//
// The zero value is not usable; construct with New.
type Coordinator struct {
	mu      sync.RWMutex
	adapter *index.Adapter
	table   metadata.Table
	logger  *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for rollback and restore diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs a Coordinator over an index adapter and a metadata table.
func New(adapter *index.Adapter, table metadata.Table, opts ...Option) (*Coordinator, error) {
	if adapter == nil {
		return nil, errors.New("coordinator: index adapter is nil")
	}
	if table == nil {
		return nil, errors.New("coordinator: metadata table is nil")
	}

	c := &Coordinator{
		adapter: adapter,
		table:   table,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dimension returns the vector dimension the coordinator enforces.
func (c *Coordinator) Dimension() int {
	return c.adapter.Dimension()
}

// IndexName returns the index collaborator's reported type name.
func (c *Coordinator) IndexName() string {
	return c.adapter.Name()
}

// Validate checks a vector against the configured dimension without
// taking the lock.
func (c *Coordinator) Validate(vector []float32) error {
	return c.adapter.Validate(vector)
}

// Put stores or replaces a document: metadata record and vector together.
//
// The table is written first and rolled back if the index rejects the
// vector, so a failed put never leaves a record without a matching index
// entry.
func (c *Coordinator) Put(ctx context.Context, id string, vector []float32, rec metadata.Record) error {
	if id == "" {
		return index.ErrEmptyID
	}
	if err := c.adapter.Validate(vector); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(ctx, id, vector, rec, false)
}

// Update replaces the vector and record of an existing document. It returns
// ErrNotFound when the id is unknown.
func (c *Coordinator) Update(ctx context.Context, id string, vector []float32, rec metadata.Record) error {
	if id == "" {
		return index.ErrEmptyID
	}
	if err := c.adapter.Validate(vector); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(ctx, id, vector, rec, true)
}

func (c *Coordinator) putLocked(ctx context.Context, id string, vector []float32, rec metadata.Record, mustExist bool) error {
	old, existed, err := c.table.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	if mustExist && !existed {
		return ErrNotFound
	}

	if err := c.table.Set(ctx, id, rec); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	if err := c.adapter.Upsert(ctx, id, vector); err != nil {
		// Restore the table so both sides still agree. The rollback runs
		// even when ctx is already canceled.
		rctx := context.WithoutCancel(ctx)
		var rbErr error
		if existed {
			rbErr = c.table.Set(rctx, id, old)
		} else {
			rbErr = c.table.Delete(rctx, id)
		}
		if rbErr != nil {
			c.logger.Error("metadata rollback failed; table and index may disagree",
				"id", id, "cause", err, "rollback_error", rbErr)
		}
		return err
	}
	return nil
}

// Patch applies a partial metadata update to an existing document. The
// vector is untouched. It returns ErrNotFound when the id is unknown.
func (c *Coordinator) Patch(ctx context.Context, id string, p metadata.Patch) error {
	if id == "" {
		return index.ErrEmptyID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok, err := c.table.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if p.IsZero() {
		return nil
	}
	if err := c.table.Set(ctx, id, p.Apply(old)); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Delete removes a document from both sides. It reports whether the
// document existed; deleting an absent id is a no-op.
func (c *Coordinator) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, index.ErrEmptyID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(ctx, id)
}

// DeleteBatch removes several documents under one lock acquisition. It
// returns the number of documents that existed and were removed. On error
// the count covers deletions applied before the failure.
func (c *Coordinator) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if id == "" {
			return deleted, index.ErrEmptyID
		}
		existed, err := c.deleteLocked(ctx, id)
		if err != nil {
			return deleted, err
		}
		if existed {
			deleted++
		}
	}
	return deleted, nil
}

func (c *Coordinator) deleteLocked(ctx context.Context, id string) (bool, error) {
	old, existed, err := c.table.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("read metadata: %w", err)
	}
	if !existed {
		return false, nil
	}

	if err := c.table.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("delete metadata: %w", err)
	}

	if err := c.adapter.Delete(ctx, id); err != nil {
		rctx := context.WithoutCancel(ctx)
		if rbErr := c.table.Set(rctx, id, old); rbErr != nil {
			c.logger.Error("metadata rollback failed; table and index may disagree",
				"id", id, "cause", err, "rollback_error", rbErr)
		}
		return false, err
	}
	return true, nil
}

// Get returns the metadata record for id, if present.
func (c *Coordinator) Get(ctx context.Context, id string) (metadata.Record, bool, error) {
	if id == "" {
		return metadata.Record{}, false, index.ErrEmptyID
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table.Get(ctx, id)
}

// Contains reports whether a document exists.
func (c *Coordinator) Contains(ctx context.Context, id string) (bool, error) {
	_, ok, err := c.Get(ctx, id)
	return ok, err
}

// Count returns the number of stored documents.
func (c *Coordinator) Count(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table.Len(ctx)
}

// IndexLen returns the number of entries in the index collaborator. Under
// normal operation it equals Count.
func (c *Coordinator) IndexLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adapter.Len()
}

// Query returns the k nearest documents joined with their metadata.
//
// A hit whose record was deleted between the index query and the join is
// dropped silently; concurrent mutation never fails a search.
func (c *Coordinator) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits, err := c.adapter.Query(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		rec, ok, err := c.table.Get(ctx, hit.ID)
		if err != nil {
			return nil, fmt.Errorf("join metadata: %w", err)
		}
		if !ok {
			continue
		}
		matches = append(matches, Match{ID: hit.ID, Score: hit.Score, Record: rec})
	}
	return matches, nil
}

// QueryStream yields the k nearest documents one at a time, nearest first,
// without materializing the joined result set.
//
// The read lock is held only while pulling a hit and joining its record,
// never across a consumer yield, so a slow consumer cannot block writers.
// Hits reflect the index state when iteration starts; joins see the table
// live, so records deleted mid-iteration are dropped.
func (c *Coordinator) QueryStream(ctx context.Context, vector []float32, k int) iter.Seq2[Match, error] {
	return func(yield func(Match, error) bool) {
		next, stop := iter.Pull2(c.adapter.QueryStream(ctx, vector, k))
		defer stop()

		for {
			c.mu.RLock()
			hit, err, ok := next()
			if !ok {
				c.mu.RUnlock()
				return
			}

			var match Match
			skip := false
			if err == nil {
				rec, found, gerr := c.table.Get(ctx, hit.ID)
				switch {
				case gerr != nil:
					err = fmt.Errorf("join metadata: %w", gerr)
				case !found:
					skip = true
				default:
					match = Match{ID: hit.ID, Score: hit.Score, Record: rec}
				}
			}
			c.mu.RUnlock()

			if err != nil {
				yield(Match{}, err)
				return
			}
			if skip {
				continue
			}
			if !yield(match, nil) {
				return
			}
		}
	}
}

// Snapshot captures the store state: every metadata record plus the
// serialized index. It returns ErrSnapshotUnsupported when the collaborator
// does not implement index.Serializer.
//
// The capture runs under the read lock, so it is a consistent point-in-time
// view; writers are blocked only for the serialization itself.
func (c *Coordinator) Snapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	ser, ok := c.adapter.Serializer()
	if !ok {
		return nil, ErrSnapshotUnsupported
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := c.table.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot metadata: %w", err)
	}

	var buf bytes.Buffer
	if _, err := ser.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize index: %w", err)
	}

	return snapshot.New(c.adapter.Dimension(), c.adapter.Name(), records, buf.Bytes()), nil
}

// WriteSnapshot captures the store state and writes the envelope to w,
// framed with cod. It returns the header of the written snapshot.
func (c *Coordinator) WriteSnapshot(ctx context.Context, w io.Writer, cod codec.Codec) (*snapshot.Header, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if err := snapshot.Write(w, cod, snap); err != nil {
		return nil, err
	}
	return &snap.Header, nil
}

// Restore replaces the store state with a parsed snapshot. The snapshot's
// dimension must match the coordinator's.
//
// The index is restored first: its ReadFrom swaps state atomically, so a
// corrupt snapshot leaves the store untouched.
func (c *Coordinator) Restore(ctx context.Context, snap *snapshot.Snapshot) error {
	ser, ok := c.adapter.Serializer()
	if !ok {
		return ErrSnapshotUnsupported
	}
	if snap.Header.Dimension != c.adapter.Dimension() {
		return &index.ErrDimensionMismatch{
			Expected: c.adapter.Dimension(),
			Actual:   snap.Header.Dimension,
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := ser.ReadFrom(bytes.NewReader(snap.Index)); err != nil {
		return fmt.Errorf("restore index: %w", err)
	}
	if err := c.table.ReplaceAll(ctx, snap.Records); err != nil {
		// The index already swapped; the table could not follow.
		c.logger.Error("metadata restore failed after index restore; close the store",
			"snapshot_id", snap.Header.ID, "error", err)
		return fmt.Errorf("restore metadata: %w", err)
	}
	return nil
}

// ReadSnapshot parses a snapshot envelope from r and restores it.
func (c *Coordinator) ReadSnapshot(ctx context.Context, r io.Reader) (*snapshot.Header, error) {
	snap, err := snapshot.Read(r)
	if err != nil {
		return nil, err
	}
	if err := c.Restore(ctx, snap); err != nil {
		return nil, err
	}
	return &snap.Header, nil
}

// Close releases the table and the index collaborator.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Join(c.table.Close(), c.adapter.Close())
}
