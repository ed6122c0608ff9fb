package openaicompat

import "github.com/academick/academick"

// BuildBody converts academick ChatMessages and a model name into an
// OpenAI-format ChatRequest. Request-level Temperature, MaxTokens and JSON
// are applied after opts, so they override provider defaults.
func BuildBody(req academick.ChatRequest, model string, opts ...Option) ChatRequest {
	msgs := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		msgs = append(msgs, Message{Role: role, Content: m.Content})
	}

	body := ChatRequest{
		Model:    model,
		Messages: msgs,
	}
	for _, opt := range opts {
		opt(&body)
	}
	if req.Temperature != nil {
		t := *req.Temperature
		body.Temperature = &t
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.JSON {
		WithJSONObject()(&body)
	}
	return body
}
