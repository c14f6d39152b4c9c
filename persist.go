package lethe

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/lethedb/lethe/blobstore"
	"github.com/lethedb/lethe/embedding"
	"github.com/lethedb/lethe/snapshot"
)

// Save writes a snapshot of the store to w: every metadata record plus the
// index's own serialization, framed with the configured codec. Document
// content is absent because the store never holds it.
//
// The capture is a consistent point-in-time view; writers are blocked only
// for the serialization itself. Save fails with engine.ErrSnapshotUnsupported
// when a custom index collaborator cannot serialize itself.
func (s *Store) Save(ctx context.Context, w io.Writer) error {
	start := time.Now()
	err := s.save(ctx, w)
	s.metrics.RecordSnapshot(time.Since(start), err)
	s.logger.LogSnapshot(ctx, "writer", err)
	return err
}

func (s *Store) save(ctx context.Context, w io.Writer) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.coord.WriteSnapshot(ctx, w, s.codec)
	return translateError(err)
}

// SaveToFile writes a snapshot to path atomically: the envelope goes to a
// uuid-named temporary file next to the target, then a rename. Readers of
// path never observe a partial snapshot.
func (s *Store) SaveToFile(ctx context.Context, path string) error {
	start := time.Now()
	err := s.saveToFile(ctx, path)
	s.metrics.RecordSnapshot(time.Since(start), err)
	s.logger.LogSnapshot(ctx, path, err)
	return err
}

func (s *Store) saveToFile(ctx context.Context, path string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	// Temp file lives next to the target so the rename stays on one filesystem.
	tmp := path + ".tmp-" + uuid.NewString()
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := s.coord.WriteSnapshot(ctx, f, s.codec); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return translateError(err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// SaveToBlobStore publishes a snapshot to bs under "snapshots/<id>" and
// points the CURRENT blob at it, so LoadFromBlobStore finds it without
// knowing its name. It returns the published blob name.
//
// With multiple concurrent publishers, wrap bs in a store with
// compare-and-swap CURRENT semantics such as s3.CommitStore.
func (s *Store) SaveToBlobStore(ctx context.Context, bs blobstore.BlobStore) (string, error) {
	start := time.Now()
	name, err := s.saveToBlobStore(ctx, bs)
	s.metrics.RecordSnapshot(time.Since(start), err)
	s.logger.LogSnapshot(ctx, name, err)
	return name, err
}

func (s *Store) saveToBlobStore(ctx context.Context, bs blobstore.BlobStore) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	snap, err := s.coord.Snapshot(ctx)
	if err != nil {
		return "", translateError(err)
	}
	return snapshot.Publish(ctx, bs, s.codec, snap)
}

// Load reads a snapshot from r into a fresh store backed by embedder. The
// embedder's dimension must match the snapshot's; the codec is resolved
// from the envelope, so WithSnapshotCodec is not needed to read.
func Load(ctx context.Context, r io.Reader, embedder embedding.Embedder, optFns ...Option) (*Store, error) {
	return load(ctx, r, embedder, "reader", optFns)
}

// LoadFromFile reads a snapshot file written by SaveToFile.
func LoadFromFile(ctx context.Context, path string, embedder embedding.Embedder, optFns ...Option) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return load(ctx, f, embedder, path, optFns)
}

func load(ctx context.Context, r io.Reader, embedder embedding.Embedder, dest string, optFns []Option) (*Store, error) {
	opts := applyOptions(optFns)
	s, err := newStore(embedder, opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	_, rerr := s.coord.ReadSnapshot(ctx, r)
	rerr = translateError(rerr)
	s.metrics.RecordSnapshot(time.Since(start), rerr)
	s.logger.LogSnapshot(ctx, dest, rerr)

	if rerr != nil {
		_ = s.Close()
		return nil, rerr
	}
	return s, nil
}

// LoadFromBlobStore resolves the latest published snapshot through the
// CURRENT pointer and loads it. If nothing has been published, the error
// satisfies errors.Is(err, blobstore.ErrNotFound).
func LoadFromBlobStore(ctx context.Context, bs blobstore.BlobStore, embedder embedding.Embedder, optFns ...Option) (*Store, error) {
	snap, err := snapshot.Latest(ctx, bs)
	if err != nil {
		return nil, err
	}

	opts := applyOptions(optFns)
	s, err := newStore(embedder, opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rerr := translateError(s.coord.Restore(ctx, snap))
	s.metrics.RecordSnapshot(time.Since(start), rerr)
	s.logger.LogSnapshot(ctx, snapshot.BlobName(snap.Header.ID), rerr)

	if rerr != nil {
		_ = s.Close()
		return nil, rerr
	}
	return s, nil
}

// Stats is a point-in-time view of the store for dashboards and debugging.
type Stats struct {
	// Documents is the number of stored documents.
	Documents int

	// Dimension is the enforced vector dimension.
	Dimension int

	// Index is the index collaborator's reported type name.
	Index string

	// Metrics holds the collector's counters when the configured collector
	// exposes a GetStats snapshot (BasicMetricsCollector does); nil
	// otherwise.
	Metrics *BasicMetricsStats
}

// Stats returns current counts plus, when available, the metrics snapshot.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if err := s.checkOpen(); err != nil {
		return Stats{}, err
	}

	n, err := s.coord.Count(ctx)
	if err != nil {
		return Stats{}, translateError(err)
	}

	st := Stats{
		Documents: n,
		Dimension: s.coord.Dimension(),
		Index:     s.coord.IndexName(),
	}
	if g, ok := s.metrics.(interface{ GetStats() BasicMetricsStats }); ok {
		stats := g.GetStats()
		st.Metrics = &stats
	}
	return st, nil
}
