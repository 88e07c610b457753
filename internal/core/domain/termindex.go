package domain

import (
	"fmt"
	"math"
)

// TermPosting records the occurrences of one term inside one chunk.
type TermPosting struct {
	ChunkID   string `json:"chunk_id"`
	Frequency int    `json:"frequency"`
	Positions []int  `json:"positions"`
}

// TermIndex is the inverted index the keyword searcher runs over. It is built
// wholesale on every re-index and treated as read-only afterwards.
type TermIndex struct {
	Terms        map[string][]TermPosting `json:"terms"`
	DocLengths   map[string]int           `json:"doc_lengths"`
	AvgDocLength float64                  `json:"avg_doc_length"`
	TotalDocs    int                      `json:"total_docs"`
}

// NewTermIndex returns an empty index with initialized maps.
func NewTermIndex() *TermIndex {
	return &TermIndex{
		Terms:      make(map[string][]TermPosting),
		DocLengths: make(map[string]int),
	}
}

// Validate checks the structural invariants: the average length matches the
// recorded lengths and every posting references a known chunk.
func (idx *TermIndex) Validate() error {
	if idx == nil {
		return fmt.Errorf("term index is nil")
	}
	if idx.TotalDocs != len(idx.DocLengths) {
		return fmt.Errorf("total docs %d does not match %d doc lengths", idx.TotalDocs, len(idx.DocLengths))
	}
	if idx.TotalDocs > 0 {
		sum := 0
		for _, l := range idx.DocLengths {
			sum += l
		}
		expected := float64(sum) / float64(idx.TotalDocs)
		if math.Abs(expected-idx.AvgDocLength) > 1e-9 {
			return fmt.Errorf("avg doc length %.6f does not match computed %.6f", idx.AvgDocLength, expected)
		}
	}
	for term, postings := range idx.Terms {
		for _, p := range postings {
			if _, ok := idx.DocLengths[p.ChunkID]; !ok {
				return fmt.Errorf("term %q references unknown chunk %q", term, p.ChunkID)
			}
		}
	}
	return nil
}
