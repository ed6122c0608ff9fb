package openaicompat

import (
	"errors"
	"testing"

	"github.com/academick/academick"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		resp    ChatResponse
		want    string
		wantErr bool
	}{
		{
			name: "content",
			resp: ChatResponse{Choices: []Choice{{Message: &ChoiceMessage{Content: "hello"}}}},
			want: "hello",
		},
		{
			name:    "no choices",
			resp:    ChatResponse{},
			wantErr: true,
		},
		{
			name:    "refusal",
			resp:    ChatResponse{Choices: []Choice{{Message: &ChoiceMessage{Refusal: "cannot help"}}}},
			wantErr: true,
		},
		{
			name: "nil message",
			resp: ChatResponse{Choices: []Choice{{FinishReason: "length"}}},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse("openai", tt.resp)
			if tt.wantErr {
				var llmErr *academick.ErrLLM
				if !errors.As(err, &llmErr) {
					t.Fatalf("expected *ErrLLM, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Content != tt.want {
				t.Errorf("content = %q, want %q", got.Content, tt.want)
			}
		})
	}
}

func TestParseResponse_Usage(t *testing.T) {
	got, _ := ParseResponse("openai", ChatResponse{
		Choices: []Choice{{Message: &ChoiceMessage{Content: "x"}}},
		Usage:   &Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
	})
	if got.Usage.InputTokens != 12 || got.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", got.Usage)
	}
}

func TestParseEmbeddings(t *testing.T) {
	resp := EmbeddingResponse{Data: []EmbeddingData{
		{Index: 2, Embedding: []float32{3}},
		{Index: 0, Embedding: []float32{1}},
		{Index: 1, Embedding: []float32{2}},
	}}
	got, err := ParseEmbeddings("openai", resp, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, e := range got {
		if e.Dense[0] != float32(i+1) {
			t.Errorf("embedding %d = %v", i, e.Dense)
		}
	}
	if _, err := ParseEmbeddings("openai", resp, 4); err == nil {
		t.Error("expected count mismatch error")
	}
}
