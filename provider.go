package academick

import "context"

// ChatMessage is one turn sent to an LLM.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// SystemMessage builds a system-role message.
func SystemMessage(text string) ChatMessage { return ChatMessage{Role: "system", Content: text} }

// UserMessage builds a user-role message.
func UserMessage(text string) ChatMessage { return ChatMessage{Role: "user", Content: text} }

// ChatRequest is a provider-neutral chat call.
type ChatRequest struct {
	Messages    []ChatMessage
	Temperature *float64
	MaxTokens   int
	// JSON asks for a JSON object reply where the backend supports it.
	JSON bool
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatResponse is the text reply of a chat call.
type ChatResponse struct {
	Content string
	Usage   Usage
}

// Provider abstracts the LLM backend used for chapter detection and query
// enhancement.
type Provider interface {
	// Chat sends a request and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai", "groq").
	Name() string
}

// Embedder turns texts into dense vectors and, when the backend supports
// it, sparse term weights. Implementations make a single attempt per call.
type Embedder interface {
	// Embed returns one Embedding per input text, in order.
	Embed(ctx context.Context, texts []string) ([]Embedding, error)
	// Name returns the embedder name.
	Name() string
}

// IntentClassifier maps a query to an IntentCategory.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) (IntentCategory, error)
	Name() string
}
