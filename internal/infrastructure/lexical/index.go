package lexical

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/core/ports"
)

const (
	SnapshotKey = "keyword_index:snapshot:v1"
	VersionKey  = "keyword_index:version:v1"
)

type snapshot struct {
	runID  string
	index  *domain.TermIndex
	scorer *Scorer
	chunks map[string]domain.Chunk
}

// Index is the published keyword index. Readers always see one complete
// snapshot; Publish and Refresh swap snapshots atomically.
type Index struct {
	store   ports.KeyValueStore
	params  Params
	current atomic.Pointer[snapshot]
}

func NewIndex(store ports.KeyValueStore, params Params) *Index {
	return &Index{store: store, params: params.normalize()}
}

// Publish persists the index and its chunks as a single blob, then the version
// marker, then swaps the in-memory snapshot. A failed write leaves both the
// stored and the in-memory index untouched.
func (i *Index) Publish(ctx context.Context, runID string, idx *domain.TermIndex, chunks []domain.Chunk) error {
	if err := idx.Validate(); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "publish keyword index", err)
	}
	if i.store != nil {
		data, err := encodeSnapshot(runID, idx, chunks)
		if err != nil {
			return err
		}
		if err := i.store.Set(ctx, SnapshotKey, data); err != nil {
			return fmt.Errorf("store keyword index snapshot: %w", err)
		}
		if err := i.store.Set(ctx, VersionKey, []byte(runID)); err != nil {
			return fmt.Errorf("store keyword index version: %w", err)
		}
	}
	i.swap(runID, idx, chunks)
	return nil
}

// Refresh loads the stored snapshot when its version differs from the one in
// memory. It reports whether a new snapshot was installed.
func (i *Index) Refresh(ctx context.Context) (bool, error) {
	if i.store == nil {
		return false, nil
	}
	version, err := i.store.Get(ctx, VersionKey)
	if err != nil {
		return false, fmt.Errorf("load keyword index version: %w", err)
	}
	if version == nil {
		return false, nil
	}
	if cur := i.current.Load(); cur != nil && cur.runID == string(version) {
		return false, nil
	}

	data, err := i.store.Get(ctx, SnapshotKey)
	if err != nil {
		return false, fmt.Errorf("load keyword index snapshot: %w", err)
	}
	if data == nil {
		return false, nil
	}
	runID, idx, chunks, err := decodeSnapshot(data)
	if err != nil {
		return false, err
	}
	if err := idx.Validate(); err != nil {
		return false, fmt.Errorf("stored keyword index is inconsistent: %w", err)
	}
	i.swap(runID, idx, chunks)
	slog.Info("keyword_index_loaded", "run_id", runID, "chunks", len(chunks), "terms", len(idx.Terms))
	return true, nil
}

func (i *Index) swap(runID string, idx *domain.TermIndex, chunks []domain.Chunk) {
	byID := make(map[string]domain.Chunk, len(chunks))
	for _, c := range chunks {
		c.Vector = nil
		byID[c.ID] = c
	}
	i.current.Store(&snapshot{
		runID:  runID,
		index:  idx,
		scorer: NewScorer(idx, i.params),
		chunks: byID,
	})
}

func (i *Index) Ready() bool {
	return i.current.Load() != nil
}

func (i *Index) Search(query string, limit int) []domain.KeywordResult {
	snap := i.current.Load()
	if snap == nil {
		return nil
	}
	return snap.scorer.Search(query, limit)
}

func (i *Index) SearchPhrase(phrase string, limit int) []domain.KeywordResult {
	snap := i.current.Load()
	if snap == nil {
		return nil
	}
	return snap.scorer.SearchPhrase(phrase, limit)
}

func (i *Index) Chunk(id string) (domain.Chunk, bool) {
	snap := i.current.Load()
	if snap == nil {
		return domain.Chunk{}, false
	}
	c, ok := snap.chunks[id]
	return c, ok
}

// Stats returns the term count and document count of the live snapshot.
func (i *Index) Stats() (terms, docs int) {
	snap := i.current.Load()
	if snap == nil {
		return 0, 0
	}
	return len(snap.index.Terms), snap.index.TotalDocs
}

// Build is BuildTermIndex as a method so Index satisfies the publisher port.
func (i *Index) Build(chunks []domain.Chunk) *domain.TermIndex {
	return BuildTermIndex(chunks)
}
