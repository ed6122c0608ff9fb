package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/academick/academick"
)

// client holds what chat and embedding calls share.
type client struct {
	apiKey     string
	model      string
	baseURL    string
	http       *http.Client
	name       string
	opts       []Option
	dimensions int
	logger     *slog.Logger
}

func newClient(apiKey, model, baseURL string, opts []ProviderOption) client {
	c := client{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		name:    "openai",
		logger:  academick.NopLogger,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Provider implements academick.Provider for any OpenAI-compatible chat
// completions API.
type Provider struct {
	client
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1").
// The /chat/completions path is appended automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	return &Provider{client: newClient(apiKey, model, baseURL, opts)}
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// Chat sends a non-streaming chat request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req academick.ChatRequest) (academick.ChatResponse, error) {
	body := BuildBody(req, p.model, p.opts...)

	start := time.Now()
	var chatResp ChatResponse
	if err := p.post(ctx, "/chat/completions", body, &chatResp); err != nil {
		return academick.ChatResponse{}, err
	}
	p.logger.Debug("chat completed", "provider", p.name, "model", p.model, "duration", time.Since(start))
	return ParseResponse(p.name, chatResp)
}

// post marshals payload, sends it to path and decodes a 200 reply into out.
func (c *client) post(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return &academick.ErrLLM{Provider: c.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return &academick.ErrLLM{Provider: c.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpErr(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &academick.ErrLLM{Provider: c.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// httpErr reads the response body into an ErrHTTP. When the body is the
// usual {"error":{"message":...}} envelope only the message is kept.
func httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(body))
	var env ErrorResponse
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		msg = env.Error.Message
	}
	return &academick.ErrHTTP{Status: resp.StatusCode, Body: msg}
}

// Compile-time interface check.
var _ academick.Provider = (*Provider)(nil)
