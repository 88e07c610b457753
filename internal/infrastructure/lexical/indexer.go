package lexical

import "github.com/kirillkom/docs-assistant/internal/core/domain"

// BuildTermIndex builds an inverted index over title and content of every
// chunk. Posting lists follow chunk order; positions are ascending.
func BuildTermIndex(chunks []domain.Chunk) *domain.TermIndex {
	idx := domain.NewTermIndex()
	total := 0
	for _, chunk := range chunks {
		if _, seen := idx.DocLengths[chunk.ID]; seen {
			continue
		}
		tokens := Tokenize(chunk.Title + " " + chunk.Content)
		idx.DocLengths[chunk.ID] = len(tokens)
		total += len(tokens)

		order := make([]string, 0, len(tokens))
		postings := make(map[string]*domain.TermPosting, len(tokens))
		for pos, token := range tokens {
			p, ok := postings[token]
			if !ok {
				p = &domain.TermPosting{ChunkID: chunk.ID}
				postings[token] = p
				order = append(order, token)
			}
			p.Frequency++
			p.Positions = append(p.Positions, pos)
		}
		for _, term := range order {
			idx.Terms[term] = append(idx.Terms[term], *postings[term])
		}
	}

	idx.TotalDocs = len(idx.DocLengths)
	if idx.TotalDocs > 0 {
		idx.AvgDocLength = float64(total) / float64(idx.TotalDocs)
	}
	return idx
}
