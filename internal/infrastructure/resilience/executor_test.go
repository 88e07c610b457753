package resilience

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

// upstream answers with the given statuses in order, then 200.
func upstream(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(hits.Add(1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			_, _ = w.Write([]byte("upstream says no"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func callUpstream(url string) func(context.Context) error {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/rerank", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return ReadHTTPError("rerank", "score", resp)
		}
		return nil
	}
}

func TestExecuteRetriesUnavailableUpstream(t *testing.T) {
	srv, hits := upstream(t, http.StatusServiceUnavailable, http.StatusTooManyRequests)
	exec := NewExecutor(Config{Retry: fastRetry(3)})

	if err := exec.Execute(context.Background(), "rerank_score", callUpstream(srv.URL), ClassifyHTTPError); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("expected 3 upstream calls, got %d", got)
	}
}

func TestExecuteExhaustedRetriesAreTemporary(t *testing.T) {
	srv, hits := upstream(t, http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway)
	exec := NewExecutor(Config{Retry: fastRetry(2)})

	err := exec.Execute(context.Background(), "rerank_score", callUpstream(srv.URL), ClassifyHTTPError)
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 status error, got %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", got)
	}
	if !domain.IsKind(WrapTemporary("rerank", err), domain.ErrTemporary) {
		t.Fatalf("exhausted retryable failure must surface as temporary")
	}
}

func TestExecuteRejectedRequestIsNotRetriedAndKeepsBreakerClosed(t *testing.T) {
	srv, hits := upstream(t, http.StatusBadRequest, http.StatusBadRequest, http.StatusBadRequest)
	exec := NewExecutor(Config{
		Retry: fastRetry(3),
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      2,
			FailureRatio:     0.5,
			OpenTimeout:      time.Minute,
			HalfOpenMaxCalls: 1,
		},
	})

	for i := 0; i < 3; i++ {
		err := exec.Execute(context.Background(), "qdrant_search", callUpstream(srv.URL), ClassifyHTTPError)
		if IsCircuitOpen(err) {
			t.Fatalf("call %d: client errors must not open the breaker", i)
		}
		if domain.IsKind(WrapTemporary("qdrant search", err), domain.ErrTemporary) {
			t.Fatalf("call %d: 400 must stay permanent", i)
		}
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("expected one upstream call per request, got %d", got)
	}
}

func TestExecuteOpensCircuitOnUpstreamFailures(t *testing.T) {
	srv, hits := upstream(t, http.StatusServiceUnavailable, http.StatusServiceUnavailable)
	exec := NewExecutor(Config{
		Retry: fastRetry(1),
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      2,
			FailureRatio:     0.5,
			OpenTimeout:      time.Minute,
			HalfOpenMaxCalls: 1,
		},
	})

	for i := 0; i < 2; i++ {
		if err := exec.Execute(context.Background(), "ollama_embed", callUpstream(srv.URL), ClassifyHTTPError); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}
	err := exec.Execute(context.Background(), "ollama_embed", callUpstream(srv.URL), ClassifyHTTPError)
	if !IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("open circuit must not reach upstream, got %d calls", got)
	}
	if !domain.IsKind(WrapTemporary("embed query", err), domain.ErrTemporary) {
		t.Fatalf("open circuit must surface as temporary")
	}

	// Breakers are per operation.
	if err := exec.Execute(context.Background(), "qdrant_search", callUpstream(srv.URL), ClassifyHTTPError); err != nil {
		t.Fatalf("other operations must keep their own breaker: %v", err)
	}
}

func TestExecuteCanceledContextSkipsCall(t *testing.T) {
	srv, hits := upstream(t)
	exec := NewExecutor(Config{Retry: fastRetry(3)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exec.Execute(ctx, "corpus_fetch", callUpstream(srv.URL), ClassifyHTTPError)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("canceled request must not reach upstream")
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	policy := DefaultConfig().Retry
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 400 * time.Millisecond}
	for i, w := range want {
		if got := policy.Backoff(i + 1); got != w {
			t.Fatalf("Backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}

	bad := DefaultConfig()
	bad.Retry.MaxAttempts = 0
	bad.Breaker.FailureRatio = 1.5
	err := bad.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, part := range []string{"retry attempts", "failure ratio"} {
		if !strings.Contains(err.Error(), part) {
			t.Fatalf("error %q does not mention %q", err.Error(), part)
		}
	}

	disabled := DefaultConfig()
	disabled.Breaker = BreakerPolicy{}
	if err := disabled.Validate(); err != nil {
		t.Fatalf("disabled breaker needs no settings: %v", err)
	}
}
