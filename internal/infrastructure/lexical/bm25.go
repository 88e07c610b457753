package lexical

import (
	"math"
	"sort"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// Params are the Okapi BM25 tuning constants.
type Params struct {
	K1 float64
	B  float64
}

func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB}
}

func (p Params) normalize() Params {
	if p.K1 <= 0 {
		p.K1 = DefaultK1
	}
	if p.B < 0 || p.B > 1 {
		p.B = DefaultB
	}
	return p
}

// Scorer ranks chunks of a single TermIndex.
type Scorer struct {
	idx    *domain.TermIndex
	params Params
}

func NewScorer(idx *domain.TermIndex, params Params) *Scorer {
	if idx == nil {
		idx = domain.NewTermIndex()
	}
	return &Scorer{idx: idx, params: params.normalize()}
}

// Search returns the top limit chunks by summed BM25 score. A query that
// tokenizes to nothing yields an empty result.
func (s *Scorer) Search(query string, limit int) []domain.KeywordResult {
	tokens := uniqueTokens(Tokenize(query))
	return topResults(s.score(tokens), s.ceiling(tokens), limit)
}

// SearchPhrase boosts chunks whose matching tokens occur close together and
// in order. Fewer than two tokens, or no chunk containing all of them, falls
// back to Search.
func (s *Scorer) SearchPhrase(phrase string, limit int) []domain.KeywordResult {
	tokens := Tokenize(phrase)
	if len(tokens) < 2 {
		return s.Search(phrase, limit)
	}
	candidates := s.intersect(tokens)
	if len(candidates) == 0 {
		return s.Search(phrase, limit)
	}

	unique := uniqueTokens(tokens)
	base := s.score(unique)
	idealSpan := float64(len(tokens) - 1)
	scores := make(map[string]float64, len(candidates))
	for _, id := range candidates {
		positions := make([][]int, len(tokens))
		for i, token := range tokens {
			positions[i] = s.positions(token, id)
		}
		span, ok := minOrderedSpan(positions)
		if !ok {
			scores[id] = base[id] / 2
			continue
		}
		scores[id] = base[id] * (1 + idealSpan/float64(span+1))
	}
	return topResults(scores, s.ceiling(unique), limit)
}

func (s *Scorer) idf(df int) float64 {
	n := float64(s.idx.TotalDocs)
	d := float64(df)
	return math.Log((n-d+0.5)/(d+0.5) + 1)
}

func (s *Scorer) score(tokens []string) map[string]float64 {
	scores := make(map[string]float64)
	if s.idx.TotalDocs == 0 || s.idx.AvgDocLength == 0 {
		return scores
	}
	k1, b := s.params.K1, s.params.B
	for _, token := range tokens {
		postings, ok := s.idx.Terms[token]
		if !ok || len(postings) == 0 {
			continue
		}
		idf := s.idf(len(postings))
		for _, p := range postings {
			f := float64(p.Frequency)
			docLen := float64(s.idx.DocLengths[p.ChunkID])
			norm := f + k1*(1-b+b*(docLen/s.idx.AvgDocLength))
			scores[p.ChunkID] += idf * (f * (k1 + 1)) / norm
		}
	}
	return scores
}

// ceiling is the score a chunk would approach if it matched every indexed
// query token with unbounded frequency: the sum of idf*(k1+1).
func (s *Scorer) ceiling(tokens []string) float64 {
	if s.idx.TotalDocs == 0 || s.idx.AvgDocLength == 0 {
		return 0
	}
	var total float64
	for _, token := range tokens {
		postings, ok := s.idx.Terms[token]
		if !ok || len(postings) == 0 {
			continue
		}
		total += s.idf(len(postings)) * (s.params.K1 + 1)
	}
	return total
}

// intersect returns chunk ids containing every token, in the order of the
// first token's posting list.
func (s *Scorer) intersect(tokens []string) []string {
	first, ok := s.idx.Terms[tokens[0]]
	if !ok {
		return nil
	}
	current := make([]string, 0, len(first))
	for _, p := range first {
		current = append(current, p.ChunkID)
	}
	for _, token := range tokens[1:] {
		postings, ok := s.idx.Terms[token]
		if !ok {
			return nil
		}
		present := make(map[string]struct{}, len(postings))
		for _, p := range postings {
			present[p.ChunkID] = struct{}{}
		}
		next := current[:0]
		for _, id := range current {
			if _, ok := present[id]; ok {
				next = append(next, id)
			}
		}
		current = next
		if len(current) == 0 {
			return nil
		}
	}
	return current
}

func (s *Scorer) positions(token, chunkID string) []int {
	for _, p := range s.idx.Terms[token] {
		if p.ChunkID == chunkID {
			return p.Positions
		}
	}
	return nil
}

// minOrderedSpan finds the smallest distance between the first and last token
// over all in-order occurrences. For every occurrence of the first token it
// greedily takes the next larger position of each following token.
func minOrderedSpan(positions [][]int) (int, bool) {
	best := -1
	for _, start := range positions[0] {
		cur := start
		valid := true
		for _, list := range positions[1:] {
			i := sort.SearchInts(list, cur+1)
			if i >= len(list) {
				valid = false
				break
			}
			cur = list[i]
		}
		if !valid {
			continue
		}
		if span := cur - start; best < 0 || span < best {
			best = span
		}
	}
	return best, best >= 0
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// topResults orders by descending score, ties by chunk id.
func topResults(scores map[string]float64, ceiling float64, limit int) []domain.KeywordResult {
	out := make([]domain.KeywordResult, 0, len(scores))
	for id, score := range scores {
		out = append(out, domain.KeywordResult{ChunkID: id, Score: score, Ceiling: ceiling})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
