package openaicompat

import (
	"context"
	"time"

	"github.com/academick/academick"
)

// Embedder implements academick.Embedder against an OpenAI-compatible
// /embeddings endpoint. It returns dense vectors only; search falls back
// to dense scores when chunks carry no sparse weights.
type Embedder struct {
	client
}

// NewEmbedder creates an embedder for model at baseURL.
func NewEmbedder(apiKey, model, baseURL string, opts ...ProviderOption) *Embedder {
	return &Embedder{client: newClient(apiKey, model, baseURL, opts)}
}

// Name returns the embedder name.
func (e *Embedder) Name() string { return e.name }

// Embed makes a single /embeddings call for all texts.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([]academick.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()
	var resp EmbeddingResponse
	req := EmbeddingRequest{Model: e.model, Input: texts, Dimensions: e.dimensions}
	if err := e.post(ctx, "/embeddings", req, &resp); err != nil {
		return nil, err
	}
	e.logger.Debug("embeddings completed", "provider", e.name, "texts", len(texts), "duration", time.Since(start))
	return ParseEmbeddings(e.name, resp, len(texts))
}

var _ academick.Embedder = (*Embedder)(nil)
