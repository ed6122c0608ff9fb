package academick

import (
	"context"
	"sync"
	"time"
)

// rateLimitProvider wraps a Provider with proactive rate limiting.
// Requests block until the per-minute budget allows them; waiting counts
// against the caller's context deadline.
type rateLimitProvider struct {
	inner Provider
	mu    sync.Mutex
	now   func() time.Time

	// RPM state: sliding window of request timestamps.
	rpm       int
	rpmWindow []time.Time

	// TPM state: sliding window of (timestamp, tokenCount) pairs.
	tpm       int
	tpmWindow []tpmEntry
}

type tpmEntry struct {
	at     time.Time
	tokens int
}

// RateLimitOption configures WithRateLimit.
type RateLimitOption func(*rateLimitProvider)

// RPM sets the maximum requests per minute.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.rpm = n }
}

// TPM sets the maximum tokens per minute (input + output combined).
// Token counts are recorded from ChatResponse.Usage after each request.
// The request that crosses the budget completes; later ones wait.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.tpm = n }
}

// WithRateLimit wraps p with proactive rate limiting. With neither RPM nor
// TPM set it returns p unchanged.
//
//	llm = academick.WithRateLimit(provider, academick.RPM(30))
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	r := &rateLimitProvider{inner: p, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.rpm <= 0 && r.tpm <= 0 {
		return p
	}
	return r
}

func (r *rateLimitProvider) Name() string { return r.inner.Name() }

func (r *rateLimitProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := r.waitForBudget(ctx); err != nil {
		return ChatResponse{}, err
	}
	resp, err := r.inner.Chat(ctx, req)
	if err == nil {
		r.recordUsage(resp.Usage)
	}
	return resp, err
}

// waitForBudget blocks until both budgets allow a request.
func (r *rateLimitProvider) waitForBudget(ctx context.Context) error {
	for {
		wait, ok := r.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve records a request when the budget allows it, otherwise returns
// how long until the oldest blocking entry leaves the window.
func (r *rateLimitProvider) reserve() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-time.Minute)
	r.rpmWindow = pruneTime(r.rpmWindow, cutoff)
	r.tpmWindow = pruneTpm(r.tpmWindow, cutoff)

	rpmOK := r.rpm <= 0 || len(r.rpmWindow) < r.rpm
	tpmOK := true
	if r.tpm > 0 {
		var total int
		for _, e := range r.tpmWindow {
			total += e.tokens
		}
		tpmOK = total < r.tpm
	}

	if rpmOK && tpmOK {
		if r.rpm > 0 {
			r.rpmWindow = append(r.rpmWindow, now)
		}
		return 0, true
	}

	var wait time.Duration
	if !rpmOK && len(r.rpmWindow) > 0 {
		wait = r.rpmWindow[0].Add(time.Minute).Sub(now)
	}
	if !tpmOK && len(r.tpmWindow) > 0 {
		w := r.tpmWindow[0].at.Add(time.Minute).Sub(now)
		if wait == 0 || w < wait {
			wait = w
		}
	}
	if wait <= 0 {
		wait = 10 * time.Millisecond
	}
	return wait, false
}

func (r *rateLimitProvider) recordUsage(u Usage) {
	if r.tpm <= 0 {
		return
	}
	total := u.InputTokens + u.OutputTokens
	if total <= 0 {
		return
	}
	r.mu.Lock()
	r.tpmWindow = append(r.tpmWindow, tpmEntry{at: r.now(), tokens: total})
	r.mu.Unlock()
}

// pruneTime drops entries older than cutoff from a sorted slice.
func pruneTime(s []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(s) && s[i].Before(cutoff) {
		i++
	}
	return s[i:]
}

func pruneTpm(s []tpmEntry, cutoff time.Time) []tpmEntry {
	i := 0
	for i < len(s) && s[i].at.Before(cutoff) {
		i++
	}
	return s[i:]
}

var _ Provider = (*rateLimitProvider)(nil)
