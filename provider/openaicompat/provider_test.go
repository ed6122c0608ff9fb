package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/academick/academick"
)

func TestProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "llama-3.1-8b" {
			t.Errorf("expected model llama-3.1-8b, got %s", req.Model)
		}
		if req.Temperature == nil || *req.Temperature != 0 {
			t.Errorf("expected temperature 0, got %v", req.Temperature)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			ID: "chatcmpl-1",
			Choices: []Choice{{
				Message: &ChoiceMessage{Role: "assistant", Content: `["Chapter 1"]`},
			}},
			Usage: &Usage{PromptTokens: 5, CompletionTokens: 2},
		})
	}))
	defer srv.Close()

	p := NewProvider("test-key", "llama-3.1-8b", srv.URL+"/", WithName("groq"))
	temp := 0.0
	resp, err := p.Chat(context.Background(), academick.ChatRequest{
		Messages:    []academick.ChatMessage{academick.UserMessage("Hi")},
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Content != `["Chapter 1"]` {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Usage.InputTokens != 5 || resp.Usage.OutputTokens != 2 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
	if p.Name() != "groq" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()

	p := NewProvider("k", "m", srv.URL)
	_, err := p.Chat(context.Background(), academick.ChatRequest{
		Messages: []academick.ChatMessage{academick.UserMessage("Hi")},
	})

	var httpErr *academick.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *ErrHTTP, got %T: %v", err, err)
	}
	if httpErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d", httpErr.Status)
	}
	if httpErr.Body != "rate limited" {
		t.Errorf("body = %q", httpErr.Body)
	}
}

func TestProvider_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := NewProvider("", "m", srv.URL).Chat(context.Background(), academick.ChatRequest{})
	var llmErr *academick.ErrLLM
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *ErrLLM, got %T: %v", err, err)
	}
}

func TestProvider_NoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("unexpected auth header %q", got)
		}
		json.NewEncoder(w).Encode(ChatResponse{Choices: []Choice{{Message: &ChoiceMessage{Content: "ok"}}}})
	}))
	defer srv.Close()

	resp, err := NewProvider("", "llama3", srv.URL).Chat(context.Background(), academick.ChatRequest{
		Messages: []academick.ChatMessage{academick.UserMessage("Hi")},
	})
	if err != nil || resp.Content != "ok" {
		t.Fatalf("resp = %+v, err = %v", resp, err)
	}
}

func TestEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("expected path /embeddings, got %s", r.URL.Path)
		}
		var req EmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) != 2 || req.Dimensions != 3 {
			t.Errorf("unexpected request %+v", req)
		}
		// Out of order on purpose.
		json.NewEncoder(w).Encode(EmbeddingResponse{Data: []EmbeddingData{
			{Index: 1, Embedding: []float32{0, 1, 0}},
			{Index: 0, Embedding: []float32{1, 0, 0}},
		}})
	}))
	defer srv.Close()

	e := NewEmbedder("k", "text-embedding-3-small", srv.URL, WithDimensions(3))
	embs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(embs) != 2 || embs[0].Dense[0] != 1 || embs[1].Dense[1] != 1 {
		t.Errorf("unexpected embeddings %+v", embs)
	}
	if embs[0].Sparse != nil {
		t.Errorf("expected no sparse weights, got %v", embs[0].Sparse)
	}
}

func TestEmbedder_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(EmbeddingResponse{Data: []EmbeddingData{{Embedding: []float32{1}}}})
	}))
	defer srv.Close()

	_, err := NewEmbedder("k", "m", srv.URL).Embed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error for count mismatch")
	}
}

func TestEmbedder_EmptyInput(t *testing.T) {
	embs, err := NewEmbedder("k", "m", "http://unused").Embed(context.Background(), nil)
	if err != nil || embs != nil {
		t.Fatalf("embs = %v, err = %v", embs, err)
	}
}
