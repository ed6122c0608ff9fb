package academick

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// IntentSystemPrompt is sent to the LLM when it acts as intent classifier.
const IntentSystemPrompt = `You classify a student's message to a textbook assistant into exactly one intent.

Return a JSON object with a single "intent" field set to one of:
- "question_answering": the student asks a question that has a specific answer.
- "summarization": the student wants an overview or summary of a chapter, topic or concept.
- "coding": the student asks for code, an algorithm implementation or help with a program.
- "searching_for_information": the student is looking for where something is covered or wants references.

Respond with ONLY the JSON object, no extra text.`

// LLMIntentClassifier classifies queries with a chat model.
type LLMIntentClassifier struct {
	provider Provider
}

var _ IntentClassifier = (*LLMIntentClassifier)(nil)

// NewLLMIntentClassifier creates an IntentClassifier backed by provider.
func NewLLMIntentClassifier(provider Provider) *LLMIntentClassifier {
	return &LLMIntentClassifier{provider: provider}
}

func (c *LLMIntentClassifier) Name() string { return "llm:" + c.provider.Name() }

// Classify returns an error when the call fails or the reply names no known
// intent; the caller decides the fallback.
func (c *LLMIntentClassifier) Classify(ctx context.Context, text string) (IntentCategory, error) {
	resp, err := c.provider.Chat(ctx, ChatRequest{
		Messages: []ChatMessage{
			SystemMessage(IntentSystemPrompt),
			UserMessage(text),
		},
		JSON: true,
	})
	if err != nil {
		return "", fmt.Errorf("classify intent: %w", err)
	}
	intent, ok := ParseIntentReply(resp.Content)
	if !ok {
		return "", &ErrLLM{Provider: c.provider.Name(), Message: "unrecognized intent reply"}
	}
	return intent, nil
}

// ParseIntentReply reads {"intent": "..."} from an LLM reply, tolerating
// code fences and surrounding prose.
func ParseIntentReply(reply string) (IntentCategory, bool) {
	var parsed struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(ExtractJSON(reply)), &parsed); err != nil {
		return "", false
	}
	return ParseIntentCategory(parsed.Intent)
}

// ExtractJSON finds the first JSON object or array in a string (handles
// code fences).
func ExtractJSON(input string) string {
	trimmed := strings.TrimSpace(input)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	openCh, closeCh := "{", "}"
	if i, j := strings.Index(trimmed, "["), strings.Index(trimmed, "{"); i >= 0 && (j < 0 || i < j) {
		openCh, closeCh = "[", "]"
	}
	start := strings.Index(trimmed, openCh)
	end := strings.LastIndex(trimmed, closeCh)
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}
