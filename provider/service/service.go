// Package service talks to the standalone embedding and intent services
// over their small JSON HTTP APIs.
//
//	POST {embedding}/embed     {"texts": [...], "return_sparse": true}
//	                        -> {"dense_embeddings": [[...]], "sparse_embeddings": [{"id": w}]}
//	POST {intent}/classify     {"text": "..."}
//	                        -> {"intent": "question_answering", "confidence": 0.93}
//
// Each call is a single attempt. Callers bound it with a context deadline.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/academick/academick"
)

// Default service locations.
const (
	DefaultEmbeddingURL = "http://localhost:8002"
	DefaultIntentURL    = "http://localhost:8001"
)

// Option configures an Embedder or an IntentClient.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.http = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithName overrides the name used in errors and telemetry.
func WithName(name string) Option {
	return func(c *client) { c.name = name }
}

type client struct {
	baseURL string
	name    string
	http    *http.Client
	logger  *slog.Logger
}

func newClient(baseURL, name string, opts []Option) client {
	c := client{
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
		http:    &http.Client{},
		logger:  academick.NopLogger,
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

func (c *client) post(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return &academick.ErrLLM{Provider: c.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return &academick.ErrLLM{Provider: c.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &academick.ErrHTTP{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &academick.ErrLLM{Provider: c.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}
