package service

import (
	"context"
	"time"

	"github.com/academick/academick"
)

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence,omitempty"`
}

// IntentClient implements academick.IntentClassifier against the intent
// service. Labels outside the four categories are errors, so the search
// engine degrades to the searching_for_information weights.
type IntentClient struct {
	client
}

// NewIntentClient creates an intent service client. An empty baseURL uses
// DefaultIntentURL.
func NewIntentClient(baseURL string, opts ...Option) *IntentClient {
	if baseURL == "" {
		baseURL = DefaultIntentURL
	}
	return &IntentClient{client: newClient(baseURL, "intent-service", opts)}
}

func (c *IntentClient) Name() string { return c.name }

func (c *IntentClient) Classify(ctx context.Context, text string) (academick.IntentCategory, error) {
	start := time.Now()
	var resp classifyResponse
	if err := c.post(ctx, "/classify", classifyRequest{Text: text}, &resp); err != nil {
		return "", err
	}
	intent, ok := academick.ParseIntentCategory(resp.Intent)
	if !ok {
		return "", &academick.ErrLLM{Provider: c.name, Message: "unknown intent " + resp.Intent}
	}
	c.logger.Debug("intent classified", "intent", intent, "confidence", resp.Confidence, "duration", time.Since(start))
	return intent, nil
}

var _ academick.IntentClassifier = (*IntentClient)(nil)
