package openaicompat

import (
	"log/slog"
	"net/http"
)

// ProviderOption configures a Provider or an Embedder.
type ProviderOption func(*client)

// WithName sets the name returned by Name() (default "openai").
// Use this to distinguish providers in logs and observability.
func WithName(name string) ProviderOption {
	return func(c *client) {
		if name != "" {
			c.name = name
		}
	}
}

// WithHTTPClient sets a custom HTTP client (e.g. for timeouts or proxies).
func WithHTTPClient(hc *http.Client) ProviderOption {
	return func(c *client) { c.http = hc }
}

// WithOptions appends request-level options (temperature, top_p, etc.)
// that are applied to every chat request.
func WithOptions(opts ...Option) ProviderOption {
	return func(c *client) { c.opts = append(c.opts, opts...) }
}

// WithDimensions requests reduced embedding dimensions where supported.
func WithDimensions(n int) ProviderOption {
	return func(c *client) { c.dimensions = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ProviderOption {
	return func(c *client) {
		if l != nil {
			c.logger = l
		}
	}
}
