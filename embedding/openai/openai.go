// Package openai provides an Embedder backed by the OpenAI embeddings API.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lethedb/lethe/embedding"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.EmbeddingModelTextEmbedding3Small

// Native vector widths of the known embedding models.
var modelDimensions = map[openai.EmbeddingModel]int{
	openai.EmbeddingModelTextEmbedding3Small: 1536,
	openai.EmbeddingModelTextEmbedding3Large: 3072,
	openai.EmbeddingModelTextEmbeddingAda002: 1536,
}

type options struct {
	model      openai.EmbeddingModel
	dimensions int
	truncate   bool
	reqOpts    []option.RequestOption
}

// Option configures the embedder.
type Option func(*options)

// WithModel selects the embedding model. Known models pin their native
// dimension; for anything else combine with WithDimensions.
func WithModel(model openai.EmbeddingModel) Option {
	return func(o *options) {
		o.model = model
		if !o.truncate {
			o.dimensions = modelDimensions[model]
		}
	}
}

// WithDimensions requests vectors truncated to d dimensions. Only the
// text-embedding-3 family honors this server side.
func WithDimensions(d int) Option {
	return func(o *options) {
		o.dimensions = d
		o.truncate = true
	}
}

// WithBaseURL points the client at an OpenAI-compatible gateway.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.reqOpts = append(o.reqOpts, option.WithBaseURL(url))
	}
}

// WithRequestOptions appends raw client options such as custom headers.
func WithRequestOptions(reqOpts ...option.RequestOption) Option {
	return func(o *options) {
		o.reqOpts = append(o.reqOpts, reqOpts...)
	}
}

// Embedder converts text into vectors through the OpenAI embeddings API.
type Embedder struct {
	client   *openai.Client
	model    openai.EmbeddingModel
	dim      int
	truncate bool
}

var _ embedding.Embedder = (*Embedder)(nil)

// New returns an Embedder authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Embedder, error) {
	o := options{model: DefaultModel, dimensions: modelDimensions[DefaultModel]}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dimensions <= 0 {
		return nil, fmt.Errorf("openai: unknown dimension for model %q, use WithDimensions", o.model)
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, o.reqOpts...)
	client := openai.NewClient(reqOpts...)

	return &Embedder{
		client:   &client,
		model:    o.model,
		dim:      o.dimensions,
		truncate: o.truncate,
	}, nil
}

// Embed converts a single text into a vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch converts multiple texts in one API request. Vectors are
// returned in input order regardless of the order the API yields them.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, embedding.ErrEmptyText
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: e.model,
	}
	if e.truncate {
		params.Dimensions = openai.Int(int64(e.dim))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: embeddings request: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d texts", embedding.ErrBatchMismatch, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// Dimension reports the configured vector width.
func (e *Embedder) Dimension() int {
	return e.dim
}
