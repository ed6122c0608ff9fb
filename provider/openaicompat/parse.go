package openaicompat

import (
	"sort"

	"github.com/academick/academick"
)

// ParseResponse converts an OpenAI-format ChatResponse to an academick
// ChatResponse using choices[0]. A refusal is returned as an ErrLLM.
func ParseResponse(provider string, resp ChatResponse) (academick.ChatResponse, error) {
	var out academick.ChatResponse
	if resp.Usage != nil {
		out.Usage = academick.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	if len(resp.Choices) == 0 {
		return out, &academick.ErrLLM{Provider: provider, Message: "response has no choices"}
	}

	msg := resp.Choices[0].Message
	if msg == nil {
		return out, nil
	}
	if msg.Content == "" && msg.Refusal != "" {
		return out, &academick.ErrLLM{Provider: provider, Message: "refused: " + msg.Refusal}
	}
	out.Content = msg.Content
	return out, nil
}

// ParseEmbeddings orders vectors by input index and checks the count.
func ParseEmbeddings(provider string, resp EmbeddingResponse, want int) ([]academick.Embedding, error) {
	if len(resp.Data) != want {
		return nil, &academick.ErrLLM{Provider: provider, Message: "embedding count mismatch"}
	}
	data := append([]EmbeddingData(nil), resp.Data...)
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([]academick.Embedding, len(data))
	for i, d := range data {
		out[i] = academick.Embedding{Dense: d.Embedding}
	}
	return out, nil
}
