package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

type rerankServiceFake struct {
	results []domain.RerankResult
	err     error
	calls   int
}

func (f *rerankServiceFake) Rerank(context.Context, string, []domain.RerankDocument, int) ([]domain.RerankResult, error) {
	f.calls++
	return f.results, f.err
}

func rerankDocs() []domain.RerankDocument {
	return []domain.RerankDocument{
		{ID: "d1", Content: "first"},
		{ID: "d2", Content: "second"},
		{ID: "d3", Content: "third"},
	}
}

func TestRerankerFallbackOnServiceError(t *testing.T) {
	svc := &rerankServiceFake{err: errors.New("connection refused")}
	results, fellBack := NewReranker(svc).Rerank(context.Background(), "q", rerankDocs(), 2)

	if !fellBack {
		t.Fatalf("expected fallback flag")
	}
	if len(results) != 2 || results[0].ID != "d1" || results[1].ID != "d2" {
		t.Fatalf("unexpected fallback results: %+v", results)
	}
	if !(results[0].RelevanceScore > results[1].RelevanceScore) {
		t.Fatalf("fallback scores must decrease: %+v", results)
	}
	if results[0].RelevanceScore != 1 {
		t.Fatalf("first fallback score = %v, want 1", results[0].RelevanceScore)
	}
}

func TestRerankerFallbackWithoutService(t *testing.T) {
	results, fellBack := NewReranker(nil).Rerank(context.Background(), "q", rerankDocs(), 0)
	if !fellBack || len(results) != 3 {
		t.Fatalf("expected all documents via fallback, got %d fallback=%v", len(results), fellBack)
	}
}

func TestRerankerOrdersServiceResults(t *testing.T) {
	svc := &rerankServiceFake{results: []domain.RerankResult{
		{ID: "d3", RelevanceScore: 0.4},
		{ID: "d2", RelevanceScore: 0.9},
	}}
	results, fellBack := NewReranker(svc).Rerank(context.Background(), "q", rerankDocs(), 2)
	if fellBack {
		t.Fatalf("unexpected fallback")
	}
	if results[0].ID != "d2" || results[0].OriginalRank != 1 || results[0].Content != "second" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[1].ID != "d3" || results[1].OriginalRank != 2 {
		t.Fatalf("unexpected second result: %+v", results[1])
	}
}

func TestRerankerRejectsUnknownIDs(t *testing.T) {
	svc := &rerankServiceFake{results: []domain.RerankResult{{ID: "other", RelevanceScore: 0.9}}}
	results, fellBack := NewReranker(svc).Rerank(context.Background(), "q", rerankDocs(), 2)
	if !fellBack || results[0].ID != "d1" {
		t.Fatalf("expected fallback on unknown id, got %+v", results)
	}
}

func TestRerankerEmptyInput(t *testing.T) {
	svc := &rerankServiceFake{}
	results, fellBack := NewReranker(svc).Rerank(context.Background(), "q", nil, 5)
	if results != nil || fellBack || svc.calls != 0 {
		t.Fatalf("expected no work for empty input")
	}
}
