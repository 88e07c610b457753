// Package hnsw is an in-process vector store backed by an HNSW graph. It needs
// no external service and is used for local runs and tests.
//
// When a KeyValueStore is given, every build is also written there so other
// processes sharing the store can load it with Refresh.
package hnsw

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/uuid"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/core/ports"
)

const (
	SnapshotKey = "vector_index:hnsw:snapshot:v1"
	VersionKey  = "vector_index:hnsw:version:v1"

	defaultM        = 16
	defaultEfSearch = 64
)

type Store struct {
	blobs ports.KeyValueStore

	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	chunks  []domain.Chunk
	dims    int
	version string
}

type storedSnapshot struct {
	Version string         `json:"version"`
	Chunks  []domain.Chunk `json:"chunks"`
}

// New returns an empty store. blobs may be nil.
func New(blobs ports.KeyValueStore) *Store {
	return &Store{blobs: blobs, graph: newGraph()}
}

func newGraph() *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = defaultM
	graph.EfSearch = defaultEfSearch
	graph.Ml = 0.25
	return graph
}

// UpsertAll builds a fresh graph from chunks and swaps it in. Searches running
// during the build keep using the previous graph.
func (s *Store) UpsertAll(ctx context.Context, chunks []domain.Chunk) error {
	graph, stored, dims, err := buildGraph(chunks)
	if err != nil {
		return err
	}
	version := uuid.NewString()
	if s.blobs != nil {
		data, err := json.Marshal(storedSnapshot{Version: version, Chunks: chunks})
		if err != nil {
			return fmt.Errorf("encode hnsw snapshot: %w", err)
		}
		if err := s.blobs.Set(ctx, SnapshotKey, data); err != nil {
			return fmt.Errorf("store hnsw snapshot: %w", err)
		}
		if err := s.blobs.Set(ctx, VersionKey, []byte(version)); err != nil {
			return fmt.Errorf("store hnsw version: %w", err)
		}
	}
	s.swap(graph, stored, dims, version)
	return nil
}

// Refresh rebuilds the graph from the shared store when another process has
// written a newer build. It reports whether a new graph was installed.
func (s *Store) Refresh(ctx context.Context) (bool, error) {
	if s.blobs == nil {
		return false, nil
	}
	version, err := s.blobs.Get(ctx, VersionKey)
	if err != nil {
		return false, fmt.Errorf("load hnsw version: %w", err)
	}
	if version == nil {
		return false, nil
	}
	s.mu.RLock()
	current := s.version
	s.mu.RUnlock()
	if current == string(version) {
		return false, nil
	}

	data, err := s.blobs.Get(ctx, SnapshotKey)
	if err != nil {
		return false, fmt.Errorf("load hnsw snapshot: %w", err)
	}
	if data == nil {
		return false, nil
	}
	var snap storedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("decode hnsw snapshot: %w", err)
	}
	graph, stored, dims, err := buildGraph(snap.Chunks)
	if err != nil {
		return false, err
	}
	s.swap(graph, stored, dims, snap.Version)
	slog.Info("vector_index_loaded", "backend", "hnsw", "version", snap.Version, "chunks", len(stored))
	return true, nil
}

func buildGraph(chunks []domain.Chunk) (*hnsw.Graph[uint64], []domain.Chunk, int, error) {
	if len(chunks) == 0 {
		return nil, nil, 0, domain.WrapError(domain.ErrInvalidInput, "hnsw upsert all", fmt.Errorf("no chunks"))
	}
	dims := len(chunks[0].Vector)
	graph := newGraph()
	stored := make([]domain.Chunk, 0, len(chunks))
	for i, ch := range chunks {
		if dims == 0 || len(ch.Vector) != dims {
			return nil, nil, 0, domain.WrapError(domain.ErrInvalidInput, "hnsw upsert all", fmt.Errorf("chunk %s has vector size %d, want %d", ch.ID, len(ch.Vector), dims))
		}
		graph.Add(hnsw.MakeNode(uint64(i), normalized(ch.Vector)))
		ch.Vector = nil
		stored = append(stored, ch)
	}
	return graph, stored, dims, nil
}

func (s *Store) swap(graph *hnsw.Graph[uint64], chunks []domain.Chunk, dims int, version string) {
	s.mu.Lock()
	s.graph = graph
	s.chunks = chunks
	s.dims = dims
	s.version = version
	s.mu.Unlock()
}

func (s *Store) Query(_ context.Context, vector []float32, k int) ([]domain.RetrievalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || s.graph.Len() == 0 {
		return nil, nil
	}
	if len(vector) != s.dims {
		return nil, domain.WrapError(domain.ErrInvalidInput, "hnsw query", fmt.Errorf("query vector size %d, index size %d", len(vector), s.dims))
	}

	query := normalized(vector)
	nodes := s.graph.Search(query, k)
	out := make([]domain.RetrievalResult, 0, len(nodes))
	for _, node := range nodes {
		if node.Key >= uint64(len(s.chunks)) {
			continue
		}
		chunk := s.chunks[node.Key]
		similarity := 1 - float64(s.graph.Distance(query, node.Value))
		out = append(out, domain.RetrievalResult{
			ChunkID: chunk.ID,
			Score:   math.Max(0, math.Min(1, similarity)),
			Chunk:   &chunk,
		})
	}
	return out, nil
}

func (s *Store) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	var norm float64
	for _, x := range out {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range out {
		out[i] *= inv
	}
	return out
}
