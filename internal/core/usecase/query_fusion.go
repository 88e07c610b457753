package usecase

import (
	"log/slog"
	"sort"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

const (
	DefaultRRFK           = 60
	DefaultSemanticWeight = 0.7
	DefaultKeywordWeight  = 0.3
)

// ChunkLookup resolves chunk data for ids that the semantic hit did not
// carry, normally the keyword index.
type ChunkLookup func(id string) (domain.Chunk, bool)

type fusionAccumulator struct {
	order   []string
	byID    map[string]*domain.FusedResult
	semData map[string]*domain.Chunk
}

func newFusionAccumulator(capacity int) *fusionAccumulator {
	return &fusionAccumulator{
		order:   make([]string, 0, capacity),
		byID:    make(map[string]*domain.FusedResult, capacity),
		semData: make(map[string]*domain.Chunk, capacity),
	}
}

func (a *fusionAccumulator) entry(id string) *domain.FusedResult {
	if r, ok := a.byID[id]; ok {
		return r
	}
	r := &domain.FusedResult{ID: id}
	a.byID[id] = r
	a.order = append(a.order, id)
	return r
}

func (a *fusionAccumulator) addSemantic(results []domain.RetrievalResult, score func(rank int, raw float64) float64) {
	for i, hit := range results {
		r := a.entry(hit.ChunkID)
		if r.SemanticRank != nil {
			continue
		}
		rank, raw := i+1, hit.Score
		r.SemanticRank = &rank
		r.SemanticScore = &raw
		r.FusedScore += score(rank, raw)
		if hit.Chunk != nil {
			a.semData[hit.ChunkID] = hit.Chunk
		}
	}
}

func (a *fusionAccumulator) addKeyword(results []domain.KeywordResult, score func(rank int, raw float64) float64) {
	for i, hit := range results {
		r := a.entry(hit.ChunkID)
		if r.KeywordRank != nil {
			continue
		}
		rank, raw := i+1, hit.Score
		r.KeywordRank = &rank
		r.KeywordScore = &raw
		r.FusedScore += score(rank, raw)
	}
}

// results resolves chunk data, drops ids no source knows about and orders by
// fused score. Ties keep insertion order.
func (a *fusionAccumulator) results(lookup ChunkLookup) []domain.FusedResult {
	out := make([]domain.FusedResult, 0, len(a.order))
	for _, id := range a.order {
		r := a.byID[id]
		if chunk, ok := a.semData[id]; ok {
			r.Chunk = *chunk
		} else if lookup != nil {
			chunk, found := lookup(id)
			if !found {
				slog.Warn("fusion_chunk_missing", "chunk_id", id)
				continue
			}
			r.Chunk = chunk
		} else {
			slog.Warn("fusion_chunk_missing", "chunk_id", id)
			continue
		}
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FusedScore > out[j].FusedScore
	})
	return out
}

// ReciprocalRankFusion scores every item 1/(k+rank) per list, rank 1-based,
// and sums the contributions by chunk id. Only ranks matter, never raw scores.
func ReciprocalRankFusion(semantic []domain.RetrievalResult, keyword []domain.KeywordResult, lookup ChunkLookup, k int) []domain.FusedResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	rrf := func(rank int, _ float64) float64 {
		return 1.0 / float64(k+rank)
	}
	acc := newFusionAccumulator(len(semantic) + len(keyword))
	acc.addSemantic(semantic, rrf)
	acc.addKeyword(keyword, rrf)
	return acc.results(lookup)
}

// WeightedScoreFusion min-max normalizes each list on its own and blends
// the normalized scores with the given weights.
func WeightedScoreFusion(semantic []domain.RetrievalResult, keyword []domain.KeywordResult, lookup ChunkLookup, semanticWeight, keywordWeight float64) []domain.FusedResult {
	if semanticWeight < 0 || keywordWeight < 0 || semanticWeight+keywordWeight == 0 {
		semanticWeight, keywordWeight = DefaultSemanticWeight, DefaultKeywordWeight
	}

	semScores := make([]float64, len(semantic))
	for i, hit := range semantic {
		semScores[i] = hit.Score
	}
	kwScores := make([]float64, len(keyword))
	for i, hit := range keyword {
		kwScores[i] = hit.Score
	}
	semNorm := minMaxNormalizer(semScores)
	kwNorm := minMaxNormalizer(kwScores)

	acc := newFusionAccumulator(len(semantic) + len(keyword))
	acc.addSemantic(semantic, func(_ int, raw float64) float64 { return semanticWeight * semNorm(raw) })
	acc.addKeyword(keyword, func(_ int, raw float64) float64 { return keywordWeight * kwNorm(raw) })
	return acc.results(lookup)
}

// minMaxNormalizer maps scores into [0,1]. A single score or a zero range
// maps every member to 1.
func minMaxNormalizer(scores []float64) func(float64) float64 {
	if len(scores) == 0 {
		return func(float64) float64 { return 0 }
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	span := hi - lo
	if span <= 0 {
		return func(float64) float64 { return 1 }
	}
	return func(v float64) float64 { return (v - lo) / span }
}

func trimFused(results []domain.FusedResult, limit int) []domain.FusedResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}
