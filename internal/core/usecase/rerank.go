package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/core/ports"
)

var errRerankUnavailable = errors.New("rerank service not configured")

// Reranker wraps the external cross-encoder. It never fails: any error from
// the service yields the rank-preserving fallback instead.
type Reranker struct {
	service ports.RerankService
}

func NewReranker(service ports.RerankService) *Reranker {
	return &Reranker{service: service}
}

// Rerank returns at most topN results ordered by relevance. The boolean is
// true when the fallback was used.
func (r *Reranker) Rerank(ctx context.Context, query string, documents []domain.RerankDocument, topN int) ([]domain.RerankResult, bool) {
	if len(documents) == 0 {
		return nil, false
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	results, err := r.callService(ctx, query, documents, topN)
	if err != nil {
		slog.Warn("rerank_fallback", "error", err.Error(), "documents", len(documents))
		return fallbackRerank(documents, topN), true
	}
	return results, false
}

func (r *Reranker) callService(ctx context.Context, query string, documents []domain.RerankDocument, topN int) ([]domain.RerankResult, error) {
	if r == nil || r.service == nil {
		return nil, errRerankUnavailable
	}
	results, err := r.service.Rerank(ctx, query, documents, topN)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.New("rerank service returned no results")
	}

	rankByID := make(map[string]int, len(documents))
	contentByID := make(map[string]string, len(documents))
	for i, d := range documents {
		if _, ok := rankByID[d.ID]; !ok {
			rankByID[d.ID] = i
			contentByID[d.ID] = d.Content
		}
	}
	out := make([]domain.RerankResult, 0, len(results))
	for _, res := range results {
		rank, ok := rankByID[res.ID]
		if !ok {
			return nil, errors.New("rerank service returned unknown document id " + res.ID)
		}
		res.OriginalRank = rank
		if res.Content == "" {
			res.Content = contentByID[res.ID]
		}
		out = append(out, res)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevanceScore > out[j].RelevanceScore
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

// fallbackRerank keeps the first topN documents in input order with
// strictly decreasing synthetic scores.
func fallbackRerank(documents []domain.RerankDocument, topN int) []domain.RerankResult {
	total := float64(len(documents))
	out := make([]domain.RerankResult, 0, topN)
	for i, d := range documents[:topN] {
		out = append(out, domain.RerankResult{
			ID:             d.ID,
			Content:        d.Content,
			RelevanceScore: 1 - float64(i)/total,
			OriginalRank:   i,
		})
	}
	return out
}
