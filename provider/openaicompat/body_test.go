package openaicompat

import (
	"testing"

	"github.com/academick/academick"
)

func TestBuildBody_Messages(t *testing.T) {
	req := academick.ChatRequest{Messages: []academick.ChatMessage{
		academick.SystemMessage("You extract chapters."),
		{Content: "no role"},
		{Role: "assistant", Content: "ok"},
	}}

	body := BuildBody(req, "gpt-4o-mini")

	if body.Model != "gpt-4o-mini" {
		t.Errorf("expected model 'gpt-4o-mini', got %q", body.Model)
	}
	want := []Message{
		{Role: "system", Content: "You extract chapters."},
		{Role: "user", Content: "no role"},
		{Role: "assistant", Content: "ok"},
	}
	if len(body.Messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(body.Messages))
	}
	for i := range want {
		if body.Messages[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, body.Messages[i], want[i])
		}
	}
}

func TestBuildBody_RequestOverridesOptions(t *testing.T) {
	temp := 0.1
	req := academick.ChatRequest{Temperature: &temp, MaxTokens: 256}

	body := BuildBody(req, "m", WithTemperature(0.9))

	if body.Temperature == nil || *body.Temperature != 0.1 {
		t.Errorf("temperature = %v, want 0.1", body.Temperature)
	}
	if body.MaxTokens != 256 {
		t.Errorf("max_tokens = %d, want 256", body.MaxTokens)
	}
	if body.ResponseFormat != nil {
		t.Errorf("response_format = %+v, want unset", body.ResponseFormat)
	}
}

func TestBuildBody_JSONMode(t *testing.T) {
	tests := []struct {
		name string
		req  academick.ChatRequest
		opts []Option
		want bool
	}{
		{"request flag", academick.ChatRequest{JSON: true}, nil, true},
		{"provider option", academick.ChatRequest{}, []Option{WithJSONObject()}, true},
		{"plain text", academick.ChatRequest{}, []Option{WithTemperature(0.3)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := BuildBody(tt.req, "m", tt.opts...)
			got := body.ResponseFormat != nil && body.ResponseFormat.Type == "json_object"
			if got != tt.want {
				t.Errorf("json_object = %v, want %v (response_format %+v)", got, tt.want, body.ResponseFormat)
			}
		})
	}
}
