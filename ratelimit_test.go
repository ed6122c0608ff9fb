package academick

import (
	"context"
	"errors"
	"testing"
	"time"
)

type usageProvider struct {
	usage Usage
	calls int
}

func (u *usageProvider) Name() string { return "usage" }
func (u *usageProvider) Chat(context.Context, ChatRequest) (ChatResponse, error) {
	u.calls++
	return ChatResponse{Content: "ok", Usage: u.usage}, nil
}

func TestWithRateLimit_NoLimitsReturnsInner(t *testing.T) {
	p := &mockProvider{}
	if got := WithRateLimit(p); got != Provider(p) {
		t.Errorf("WithRateLimit without limits wrapped the provider: %T", got)
	}
}

func TestWithRateLimit_Name(t *testing.T) {
	p := WithRateLimit(&mockProvider{name: "groq"}, RPM(10))
	if p.Name() != "groq" {
		t.Errorf("Name() = %q, want %q", p.Name(), "groq")
	}
}

func TestWithRateLimit_RPM(t *testing.T) {
	inner := &mockProvider{reply: "a"}
	p := WithRateLimit(inner, RPM(1))

	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Chat(ctx, ChatRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
}

func TestWithRateLimit_TPM(t *testing.T) {
	inner := &usageProvider{usage: Usage{InputTokens: 600, OutputTokens: 500}}
	p := WithRateLimit(inner, TPM(1000))

	// The first call crosses the budget but completes.
	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Chat(ctx, ChatRequest{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
}

func TestWithRateLimit_WindowSlides(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := &rateLimitProvider{inner: &mockProvider{}, rpm: 2, now: func() time.Time { return now }}

	for i := range 2 {
		if _, ok := r.reserve(); !ok {
			t.Fatalf("reserve %d refused", i)
		}
	}
	wait, ok := r.reserve()
	if ok {
		t.Fatal("third reserve allowed within the minute")
	}
	if wait != time.Minute {
		t.Errorf("wait = %v, want 1m", wait)
	}

	now = now.Add(time.Minute + time.Second)
	if _, ok := r.reserve(); !ok {
		t.Error("reserve refused after the window slid")
	}
}
