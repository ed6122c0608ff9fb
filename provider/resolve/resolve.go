// Package resolve builds collaborator clients from provider-agnostic
// configuration.
package resolve

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/academick/academick"
	"github.com/academick/academick/provider/openaicompat"
	"github.com/academick/academick/provider/service"
)

// Config holds provider-agnostic configuration for a chat Provider.
type Config struct {
	Provider string // "openai", "groq", "gemini", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // auto-filled for known providers

	Temperature *float64
	Timeout     time.Duration
	RPM, TPM    int
	Logger      *slog.Logger
}

// EmbeddingConfig selects and configures the Embedder.
type EmbeddingConfig struct {
	Provider   string // "service" or any OpenAI-compatible provider name
	URL        string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
	Logger     *slog.Logger
}

// IntentConfig selects the IntentClassifier.
type IntentConfig struct {
	Provider string // "service", "llm" or "none"
	URL      string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Provider creates an OpenAI-compatible chat Provider, paced by RPM/TPM
// when set. Unknown provider names need an explicit BaseURL.
func Provider(cfg Config) (academick.Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("resolve: unknown provider %q and no base url", cfg.Provider)
	}

	provOpts := []openaicompat.ProviderOption{
		openaicompat.WithName(cfg.Provider),
		openaicompat.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		openaicompat.WithLogger(cfg.Logger),
	}
	if cfg.Temperature != nil {
		provOpts = append(provOpts, openaicompat.WithOptions(openaicompat.WithTemperature(*cfg.Temperature)))
	}
	p := openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, provOpts...)
	return academick.WithRateLimit(p, academick.RPM(cfg.RPM), academick.TPM(cfg.TPM)), nil
}

// Embedder creates the embedding client. "service" talks to the dense +
// sparse embedding service; any other name is an OpenAI-compatible
// /embeddings endpoint (dense only).
func Embedder(cfg EmbeddingConfig) (academick.Embedder, error) {
	hc := &http.Client{Timeout: cfg.Timeout}
	if cfg.Provider == "service" {
		return service.NewEmbedder(cfg.URL, service.WithHTTPClient(hc), service.WithLogger(cfg.Logger)), nil
	}

	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("resolve: unknown embedding provider %q and no url", cfg.Provider)
	}
	return openaicompat.NewEmbedder(cfg.APIKey, cfg.Model, baseURL,
		openaicompat.WithName(cfg.Provider+"-embeddings"),
		openaicompat.WithHTTPClient(hc),
		openaicompat.WithDimensions(cfg.Dimensions),
		openaicompat.WithLogger(cfg.Logger)), nil
}

// IntentClassifier creates the classifier, or nil when classification is
// off. "llm" reuses llm and yields nil when llm is nil.
func IntentClassifier(cfg IntentConfig, llm academick.Provider) (academick.IntentClassifier, error) {
	switch cfg.Provider {
	case "service":
		return service.NewIntentClient(cfg.URL,
			service.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			service.WithLogger(cfg.Logger)), nil
	case "llm":
		if llm == nil {
			return nil, nil
		}
		return academick.NewLLMIntentClassifier(llm), nil
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("resolve: unknown intent provider %q", cfg.Provider)
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "gemini":
		return "https://generativelanguage.googleapis.com/v1beta/openai"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
