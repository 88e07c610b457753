package lexical

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

const codecVersion = 1

type serializedIndex struct {
	Version      int                   `json:"version"`
	Terms        []serializedTerm      `json:"terms"`
	DocLengths   []serializedDocLength `json:"doc_lengths"`
	AvgDocLength float64               `json:"avg_doc_length"`
	TotalDocs    int                   `json:"total_docs"`
}

type serializedTerm struct {
	Term     string               `json:"term"`
	Postings []domain.TermPosting `json:"postings"`
}

type serializedDocLength struct {
	ChunkID string `json:"chunk_id"`
	Length  int    `json:"length"`
}

// SerializeTermIndex encodes the index as sorted term and doc-length lists so
// identical indexes produce identical bytes.
func SerializeTermIndex(idx *domain.TermIndex) ([]byte, error) {
	if idx == nil {
		return nil, fmt.Errorf("serialize term index: index is nil")
	}
	out := serializedIndex{
		Version:      codecVersion,
		Terms:        make([]serializedTerm, 0, len(idx.Terms)),
		DocLengths:   make([]serializedDocLength, 0, len(idx.DocLengths)),
		AvgDocLength: idx.AvgDocLength,
		TotalDocs:    idx.TotalDocs,
	}
	for term, postings := range idx.Terms {
		out.Terms = append(out.Terms, serializedTerm{Term: term, Postings: postings})
	}
	sort.Slice(out.Terms, func(i, j int) bool { return out.Terms[i].Term < out.Terms[j].Term })
	for id, length := range idx.DocLengths {
		out.DocLengths = append(out.DocLengths, serializedDocLength{ChunkID: id, Length: length})
	}
	sort.Slice(out.DocLengths, func(i, j int) bool { return out.DocLengths[i].ChunkID < out.DocLengths[j].ChunkID })

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("serialize term index: %w", err)
	}
	return data, nil
}

// DeserializeTermIndex is the inverse of SerializeTermIndex.
func DeserializeTermIndex(data []byte) (*domain.TermIndex, error) {
	var in serializedIndex
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("deserialize term index: %w", err)
	}
	if in.Version != codecVersion {
		return nil, fmt.Errorf("deserialize term index: unsupported version %d", in.Version)
	}
	idx := domain.NewTermIndex()
	for _, t := range in.Terms {
		idx.Terms[t.Term] = t.Postings
	}
	for _, d := range in.DocLengths {
		idx.DocLengths[d.ChunkID] = d.Length
	}
	idx.AvgDocLength = in.AvgDocLength
	idx.TotalDocs = in.TotalDocs
	return idx, nil
}

// snapshotEnvelope is the single blob written per publish, so readers see the
// index and its chunk data change together.
type snapshotEnvelope struct {
	RunID     string          `json:"run_id"`
	TermIndex json.RawMessage `json:"term_index"`
	Chunks    []domain.Chunk  `json:"chunks"`
}

func encodeSnapshot(runID string, idx *domain.TermIndex, chunks []domain.Chunk) ([]byte, error) {
	raw, err := SerializeTermIndex(idx)
	if err != nil {
		return nil, err
	}
	stripped := make([]domain.Chunk, len(chunks))
	for i, c := range chunks {
		c.Vector = nil
		stripped[i] = c
	}
	data, err := json.Marshal(snapshotEnvelope{RunID: runID, TermIndex: raw, Chunks: stripped})
	if err != nil {
		return nil, fmt.Errorf("encode index snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (string, *domain.TermIndex, []domain.Chunk, error) {
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, nil, fmt.Errorf("decode index snapshot: %w", err)
	}
	idx, err := DeserializeTermIndex(env.TermIndex)
	if err != nil {
		return "", nil, nil, err
	}
	return env.RunID, idx, env.Chunks, nil
}
