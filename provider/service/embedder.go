package service

import (
	"context"
	"fmt"
	"time"

	"github.com/academick/academick"
)

type embedRequest struct {
	Texts        []string `json:"texts"`
	ReturnSparse bool     `json:"return_sparse"`
}

type embedResponse struct {
	Dense  [][]float32          `json:"dense_embeddings"`
	Sparse []map[string]float32 `json:"sparse_embeddings,omitempty"`
}

// Embedder implements academick.Embedder against the embedding service.
// Sparse weights are keyed by the service's token ids.
type Embedder struct {
	client
	sparse bool
}

// NewEmbedder creates an embedding service client. An empty baseURL uses
// DefaultEmbeddingURL.
func NewEmbedder(baseURL string, opts ...Option) *Embedder {
	if baseURL == "" {
		baseURL = DefaultEmbeddingURL
	}
	return &Embedder{client: newClient(baseURL, "embedding-service", opts), sparse: true}
}

// DenseOnly stops requesting sparse weights.
func (e *Embedder) DenseOnly() *Embedder {
	e.sparse = false
	return e
}

func (e *Embedder) Name() string { return e.name }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([]academick.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()
	var resp embedResponse
	if err := e.post(ctx, "/embed", embedRequest{Texts: texts, ReturnSparse: e.sparse}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Dense) != len(texts) {
		return nil, &academick.ErrLLM{
			Provider: e.name,
			Message:  fmt.Sprintf("got %d dense embeddings for %d texts", len(resp.Dense), len(texts)),
		}
	}
	if len(resp.Sparse) != 0 && len(resp.Sparse) != len(texts) {
		return nil, &academick.ErrLLM{
			Provider: e.name,
			Message:  fmt.Sprintf("got %d sparse embeddings for %d texts", len(resp.Sparse), len(texts)),
		}
	}

	out := make([]academick.Embedding, len(texts))
	for i := range texts {
		out[i].Dense = resp.Dense[i]
		if len(resp.Sparse) > 0 && len(resp.Sparse[i]) > 0 {
			out[i].Sparse = resp.Sparse[i]
		}
	}
	e.logger.Debug("embed completed", "texts", len(texts), "sparse", len(resp.Sparse) > 0, "duration", time.Since(start))
	return out, nil
}

var _ academick.Embedder = (*Embedder)(nil)
