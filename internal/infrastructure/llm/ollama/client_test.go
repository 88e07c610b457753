package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/resilience"
)

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		Retry: resilience.RetryPolicy{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     2,
		},
	})
}

func testPassages() []domain.Passage {
	return []domain.Passage{{
		Chunk: domain.Chunk{Title: "Rate Limiting", URL: "https://docs/rate", Content: "Limits use a sliding window in Redis."},
		Score: 0.91,
		Rank:  1,
	}}
}

func captureGenerate(t *testing.T, prompt *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		*prompt, _ = payload["prompt"].(string)
		_, _ = w.Write([]byte(`{"response":" grounded answer "}`))
	}))
}

func TestGeneratorUsesGroundedPrompt(t *testing.T) {
	var prompt string
	server := captureGenerate(t, &prompt)
	defer server.Close()

	gen := NewGenerator(New(server.URL, "gen", "embed", testExecutor()))
	answer, err := gen.GenerateAnswer(context.Background(), "how are limits enforced?", testPassages(), false)
	if err != nil {
		t.Fatalf("GenerateAnswer() error = %v", err)
	}
	if answer != "grounded answer" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if !strings.Contains(prompt, "using only the documentation") || !strings.Contains(prompt, "sliding window in Redis") {
		t.Fatalf("unexpected prompt: %s", prompt)
	}
	if !strings.Contains(prompt, "url=https://docs/rate") {
		t.Fatalf("prompt must carry the source url: %s", prompt)
	}
}

func TestGeneratorUsesBroadPromptOnLowConfidence(t *testing.T) {
	var prompt string
	server := captureGenerate(t, &prompt)
	defer server.Close()

	gen := NewGenerator(New(server.URL, "gen", "embed", testExecutor()))
	if _, err := gen.GenerateAnswer(context.Background(), "q", testPassages(), true); err != nil {
		t.Fatalf("GenerateAnswer() error = %v", err)
	}
	if !strings.Contains(prompt, "loosely related") || strings.Contains(prompt, "using only the documentation") {
		t.Fatalf("expected broad prompt, got: %s", prompt)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", testExecutor()))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("502 must be temporary, got %v", err)
	}
}

func TestEmbedRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2],[0.3,0.4]]}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", testExecutor()))
	vectors, err := embedder.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 2 || calls.Load() != 2 {
		t.Fatalf("expected 2 vectors after retry, got %d vectors in %d calls", len(vectors), calls.Load())
	}
}

func TestEmbedQueryEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer server.Close()

	_, err := NewEmbedder(New(server.URL, "gen", "embed", nil)).EmbedQuery(context.Background(), "q")
	if !domain.IsKind(err, domain.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

type countingEmbedder struct {
	queries int
	batches int
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.batches++
	return make([][]float32, len(texts)), nil
}

func (c *countingEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	c.queries++
	return []float32{float32(len(text))}, nil
}

func TestQueryCacheServesRepeatedQueries(t *testing.T) {
	next := &countingEmbedder{}
	cached := WithQueryCache(next, 16, time.Minute)

	first, _ := cached.EmbedQuery(context.Background(), "redis")
	first[0] = 99
	second, _ := cached.EmbedQuery(context.Background(), "redis")
	if next.queries != 1 {
		t.Fatalf("expected one upstream call, got %d", next.queries)
	}
	if second[0] != 5 {
		t.Fatalf("cached vector was mutated through the caller: %v", second)
	}

	_, _ = cached.Embed(context.Background(), []string{"a"})
	_, _ = cached.Embed(context.Background(), []string{"a"})
	if next.batches != 2 {
		t.Fatalf("batch embedding must bypass the cache")
	}
}

func TestQueryCacheDisabled(t *testing.T) {
	next := &countingEmbedder{}
	if got := WithQueryCache(next, 0, time.Minute); got != next {
		t.Fatalf("zero size must disable the cache")
	}
}
