// Package onnx provides a local Embedder running sentence-transformer
// models through ONNX Runtime feature-extraction pipelines.
package onnx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/knights-analytics/hugot"
	hugotopts "github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/lethedb/lethe/embedding"
)

// Config holds the model location and runtime settings.
type Config struct {
	// ModelPath is the directory holding the exported ONNX model. When it
	// does not exist and Repo is set, the model is downloaded there first.
	ModelPath string

	// Repo is an optional HuggingFace repository ("org/model") to fetch
	// the model from when ModelPath is missing.
	Repo string

	// Dimension is the width of the vectors the model emits.
	Dimension int

	// LibraryPath points at the onnxruntime shared library. Empty uses
	// the hugot default.
	LibraryPath string

	// Threads caps intra-op parallelism. Zero uses all CPUs.
	Threads int

	// CUDA enables GPU execution with default device settings.
	CUDA bool
}

// Embedder runs inference against a loaded ONNX model. It is safe for
// concurrent use; Close releases the runtime session.
type Embedder struct {
	dim int

	mu       sync.RWMutex
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	closed   bool
}

var _ embedding.Embedder = (*Embedder)(nil)

// New loads the model described by cfg and returns a ready Embedder.
func New(cfg Config) (*Embedder, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("onnx: invalid dimension %d", cfg.Dimension)
	}
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: model path is required")
	}

	modelPath := cfg.ModelPath
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		if cfg.Repo == "" {
			return nil, fmt.Errorf("onnx: model %s not found and no repository configured", modelPath)
		}
		downloaded, err := hugot.DownloadModel(cfg.Repo, filepath.Dir(modelPath), hugot.NewDownloadOptions())
		if err != nil {
			return nil, fmt.Errorf("onnx: download model: %w", err)
		}
		modelPath = downloaded
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	sessionOpts := []hugotopts.WithOption{
		hugotopts.WithIntraOpNumThreads(threads),
	}
	if cfg.LibraryPath != "" {
		sessionOpts = append(sessionOpts, hugotopts.WithOnnxLibraryPath(cfg.LibraryPath))
	}
	if cfg.CUDA {
		sessionOpts = append(sessionOpts, hugotopts.WithCuda(nil))
	}

	session, err := hugot.NewORTSession(sessionOpts...)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      filepath.Base(modelPath),
	})
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("onnx: create pipeline: %w", err)
	}

	return &Embedder{dim: cfg.Dimension, session: session, pipeline: pipeline}, nil
}

// Embed converts a single text into a vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch runs one inference pass over texts.
func (e *Embedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, embedding.ErrEmptyText
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("onnx: embedder is closed")
	}

	output, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}
	if len(output.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d texts", embedding.ErrBatchMismatch, len(output.Embeddings), len(texts))
	}
	return output.Embeddings, nil
}

// Dimension reports the configured vector width.
func (e *Embedder) Dimension() int {
	return e.dim
}

// Close destroys the runtime session. Further calls are no-ops.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.pipeline = nil
	return e.session.Destroy()
}
