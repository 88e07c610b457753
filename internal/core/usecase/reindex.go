package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/core/ports"
)

const (
	DefaultEmbedBatchSize  = 32
	DefaultEmbedWorkers    = 4
	DefaultReindexLeaseTTL = 15 * time.Minute
)

type ReindexSettings struct {
	EmbedBatchSize int
	EmbedWorkers   int
	LeaseTTL       time.Duration
}

var errLeaseLost = domain.WrapError(domain.ErrReindexInProgress, "reindex", errors.New("lease lost to another run"))

// ReindexUseCase rebuilds the whole index from the corpus. It holds the
// shared lease for the duration of a run, renewing it every third of its TTL,
// and publishes only complete builds.
type ReindexUseCase struct {
	source   ports.CorpusSource
	chunker  ports.Chunker
	embedder ports.Embedder
	vectors  ports.VectorStore
	keyword  ports.KeywordIndexPublisher
	lease    ports.IndexLease
	settings ReindexSettings
	now      func() time.Time
}

func NewReindexUseCase(
	source ports.CorpusSource,
	chunker ports.Chunker,
	embedder ports.Embedder,
	vectors ports.VectorStore,
	keyword ports.KeywordIndexPublisher,
	lease ports.IndexLease,
	settings ReindexSettings,
) *ReindexUseCase {
	if settings.EmbedBatchSize <= 0 {
		settings.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if settings.EmbedWorkers <= 0 {
		settings.EmbedWorkers = DefaultEmbedWorkers
	}
	if settings.LeaseTTL <= 0 {
		settings.LeaseTTL = DefaultReindexLeaseTTL
	}
	return &ReindexUseCase{
		source:   source,
		chunker:  chunker,
		embedder: embedder,
		vectors:  vectors,
		keyword:  keyword,
		lease:    lease,
		settings: settings,
		now:      time.Now,
	}
}

// Reindex runs one exclusive rebuild. Build failures, including losing the
// lease midway, are collected in the report and leave the published index
// untouched; only failing to take the lease is returned as an error.
func (uc *ReindexUseCase) Reindex(ctx context.Context, trigger string) (*domain.ReindexReport, error) {
	if uc.source == nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "reindex", errors.New("no corpus source configured"))
	}
	runID := uuid.NewString()
	acquired, err := uc.lease.Acquire(ctx, runID, uc.settings.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire reindex lease: %w", err)
	}
	if !acquired {
		return nil, domain.WrapError(domain.ErrReindexInProgress, "reindex", errors.New("lease held by another run"))
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := uc.lease.Release(releaseCtx, runID); err != nil {
			slog.Warn("reindex_lease_release_failed", "run_id", runID, "error", err.Error())
		}
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	heartbeat := make(chan struct{})
	go func() {
		defer close(heartbeat)
		uc.keepLease(runCtx, runID, cancel)
	}()
	defer func() {
		cancel(nil)
		<-heartbeat
	}()

	report := &domain.ReindexReport{
		RunID:     runID,
		Trigger:   trigger,
		StartedAt: uc.now().UTC(),
	}
	if err := uc.run(runCtx, report); err != nil {
		if cause := context.Cause(runCtx); errors.Is(cause, errLeaseLost) {
			err = cause
		}
		report.Errors = append(report.Errors, err.Error())
		slog.Error("reindex_failed", "run_id", runID, "trigger", trigger, "error", err.Error())
	} else {
		slog.Info("reindex_completed", "run_id", runID, "trigger", trigger,
			"pages", report.Pages, "chunks", report.Chunks, "terms", report.Terms)
	}
	report.FinishedAt = uc.now().UTC()
	return report, nil
}

func (uc *ReindexUseCase) run(ctx context.Context, report *domain.ReindexReport) error {
	pages, err := uc.fetch(ctx)
	if err != nil {
		return err
	}
	report.Pages = len(pages)

	chunks, err := uc.chunk(pages)
	if err != nil {
		return err
	}
	report.Chunks = len(chunks)

	if err := uc.embed(ctx, chunks); err != nil {
		return err
	}

	idx := uc.keyword.Build(chunks)
	if err := idx.Validate(); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "build term index", err)
	}

	if err := uc.renewLease(ctx, report.RunID); err != nil {
		return err
	}
	if err := uc.publish(ctx, report.RunID, idx, chunks); err != nil {
		return err
	}
	report.Terms = len(idx.Terms)
	report.Published = true
	return nil
}

func (uc *ReindexUseCase) fetch(ctx context.Context) ([]domain.DocPage, error) {
	pages, err := uc.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch corpus: %w", err)
	}
	if len(pages) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch corpus", errors.New("corpus has no pages"))
	}
	return pages, nil
}

// chunk splits every page and drops repeated chunk ids, keeping the first.
func (uc *ReindexUseCase) chunk(pages []domain.DocPage) ([]domain.Chunk, error) {
	seen := make(map[string]struct{})
	out := make([]domain.Chunk, 0, len(pages)*2)
	for _, page := range pages {
		for _, c := range uc.chunker.Split(page) {
			if _, dup := seen[c.ID]; dup {
				slog.Warn("reindex_duplicate_chunk", "chunk_id", c.ID, "url", c.URL)
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk corpus", errors.New("chunking produced zero chunks"))
	}
	return out, nil
}

// embed fills chunk vectors in fixed-size batches, a few batches at a time.
func (uc *ReindexUseCase) embed(ctx context.Context, chunks []domain.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.settings.EmbedWorkers)
	size := uc.settings.EmbedBatchSize
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		batch := chunks[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Title + "\n" + c.Content
			}
			vectors, err := uc.embedder.Embed(gctx, texts)
			if err != nil {
				return upstreamError(fmt.Sprintf("embed chunks %d-%d", start, end), err)
			}
			if len(vectors) != len(batch) {
				return domain.WrapError(domain.ErrUpstream, "embed chunks",
					fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(batch)))
			}
			for i := range batch {
				batch[i].Vector = vectors[i]
			}
			return nil
		})
	}
	return g.Wait()
}

// keepLease renews the lease until ctx ends. Losing it to another run cancels
// ctx with errLeaseLost; a failed renewal is retried on the next tick.
func (uc *ReindexUseCase) keepLease(ctx context.Context, runID string, lost context.CancelCauseFunc) {
	interval := uc.settings.LeaseTTL / 3
	if interval <= 0 {
		interval = uc.settings.LeaseTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := uc.renewLease(ctx, runID); err != nil {
				if errors.Is(err, errLeaseLost) {
					slog.Error("reindex_lease_lost", "run_id", runID)
					lost(err)
					return
				}
				if ctx.Err() == nil {
					slog.Warn("reindex_lease_renew_failed", "run_id", runID, "error", err.Error())
				}
			}
		}
	}
}

func (uc *ReindexUseCase) renewLease(ctx context.Context, runID string) error {
	acquired, err := uc.lease.Acquire(ctx, runID, uc.settings.LeaseTTL)
	if err != nil {
		return fmt.Errorf("renew reindex lease: %w", err)
	}
	if !acquired {
		return errLeaseLost
	}
	return nil
}

// publish writes the vector store first, then the keyword snapshot. A
// failure at either step leaves the keyword index readers see unchanged.
func (uc *ReindexUseCase) publish(ctx context.Context, runID string, idx *domain.TermIndex, chunks []domain.Chunk) error {
	if err := uc.vectors.UpsertAll(ctx, chunks); err != nil {
		return upstreamError("replace vector collection", err)
	}
	if err := uc.keyword.Publish(ctx, runID, idx, chunks); err != nil {
		return fmt.Errorf("publish keyword index: %w", err)
	}
	return nil
}

func (uc *ReindexUseCase) Status(ctx context.Context) (*domain.IndexStatus, error) {
	count, err := uc.vectors.Count(ctx)
	if err != nil {
		return nil, upstreamError("count vectors", err)
	}
	lease, err := uc.lease.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("read reindex lease: %w", err)
	}
	terms, docs := uc.keyword.Stats()
	status := &domain.IndexStatus{
		Chunks:    count,
		Terms:     terms,
		TotalDocs: docs,
	}
	if lease.Active(uc.now()) {
		status.Reindexing = true
		status.LeaseHolder = lease.Holder
	}
	return status, nil
}
