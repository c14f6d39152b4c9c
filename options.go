package lethe

import (
	"log/slog"
	"time"

	"github.com/lethedb/lethe/codec"
	"github.com/lethedb/lethe/index"
	"github.com/lethedb/lethe/metadata"
)

type options struct {
	index            index.Index
	table            metadata.Table
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	embedTimeout     time.Duration
	batchWorkers     int
}

// Option configures Store constructor/load behavior.
type Option func(*options)

// WithIndex configures the nearest-neighbor index collaborator. The default
// is the exact cosine index from index/flat sized to the embedder's
// dimension; pass any index.Index to swap in an ANN structure.
func WithIndex(idx index.Index) Option {
	return func(o *options) {
		o.index = idx
	}
}

// WithTable configures the metadata table. The default is an in-memory
// table; pass metadata.NewSQLiteTable for a file-backed one.
func WithTable(t metadata.Table) Option {
	return func(o *options) {
		o.table = t
	}
}

// WithSnapshotCodec configures the codec used to frame snapshot payloads.
//
// If nil is passed, codec.Default is used. Loading auto-detects the codec
// recorded in the snapshot, so this only affects Save.
func WithSnapshotCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithEmbedTimeout bounds every embedding gateway call. Zero (the default)
// means calls are bounded only by the caller's context.
//
// When the deadline fires, the operation fails with ErrEmbeddingTimeout and
// the store is left unchanged.
func WithEmbedTimeout(d time.Duration) Option {
	return func(o *options) {
		o.embedTimeout = d
	}
}

// WithBatchWorkers configures the number of workers AddBatch uses to embed
// documents in parallel. The default is 4; non-positive values fall back to
// GOMAXPROCS.
//
// The pool is shared by all AddBatch calls on the store, so this also caps
// concurrent embedding requests across overlapping batches.
func WithBatchWorkers(n int) Option {
	return func(o *options) {
		o.batchWorkers = n
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &lethe.BasicMetricsCollector{}
//	store, _ := lethe.New(emb, lethe.WithMetricsCollector(metrics))
//	// ... use store ...
//	stats := metrics.GetStats()
//	fmt.Printf("Adds: %d, Avg latency: %dns\n", stats.AddCount, stats.AddAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := lethe.NewJSONLogger(slog.LevelInfo)
//	store, _ := lethe.New(emb, lethe.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            nil,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		batchWorkers:     4,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
