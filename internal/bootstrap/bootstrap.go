// Package bootstrap wires configuration into the concrete adapters and use
// cases shared by the api, worker and docsctl processes.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docs-assistant/internal/config"
	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/core/ports"
	"github.com/kirillkom/docs-assistant/internal/core/usecase"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/chunking"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/corpus"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/lexical"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/queryclass"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/rerank"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/vector/hnsw"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/vector/qdrant"
)

type Options struct {
	// Name identifies the process on the NATS connection.
	Name string
	// Queue connects to NATS. Commands that only read the index leave it off.
	Queue bool
}

type App struct {
	Config config.Config

	Queue      *nats.Queue
	Classifier *queryclass.Classifier
	Keyword    *lexical.Index
	Vectors    ports.VectorStore

	QueryUC   *usecase.QueryUseCase
	ReindexUC *usecase.ReindexUseCase
	TriggerUC *usecase.ReindexTriggerUseCase

	// CorpusRoot is the local corpus directory, empty when only CORPUS_URL is set.
	CorpusRoot string

	refreshers []refresher
	closeFns   []func()
}

type refresher interface {
	Refresh(ctx context.Context) (bool, error)
}

type indexStore struct {
	blobs    ports.KeyValueStore
	lease    ports.IndexLease
	queryLog ports.QueryLogger
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := &App{Config: cfg}

	policy := resilienceConfig(cfg)
	if err := policy.Validate(); err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "validate resilience policy", err)
	}
	exec := resilience.NewExecutor(policy)

	store, err := app.openIndexStore(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	synonyms := queryclass.DefaultSynonyms()
	if cfg.SynonymsFile != "" {
		synonyms, err = queryclass.LoadSynonymsFile(cfg.SynonymsFile)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("load synonyms: %w", err)
		}
	}
	app.Classifier = queryclass.New(synonyms, cfg.ClassifierCacheSize)

	app.Keyword = lexical.NewIndex(store.blobs, lexical.Params{K1: cfg.BM25K1, B: cfg.BM25B})
	app.refreshers = append(app.refreshers, app.Keyword)

	switch cfg.VectorBackend {
	case config.VectorBackendHNSW:
		vectors := hnsw.New(store.blobs)
		app.Vectors = vectors
		app.refreshers = append(app.refreshers, vectors)
	default:
		app.Vectors = qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, exec)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, exec)
	batchEmbedder := ollama.NewEmbedder(ollamaClient)
	queryEmbedder := ollama.WithQueryCache(batchEmbedder, cfg.EmbedCacheSize, cfg.EmbedCacheTTL())
	generator := ollama.NewGenerator(ollamaClient)

	settings := cfg.RetrievalSettings()
	var reranker *usecase.Reranker
	if settings.RerankEnabled {
		reranker = usecase.NewReranker(rerank.New(cfg.RerankURL, cfg.RerankModel, cfg.RerankAPIKey, exec))
	}

	retrieval := usecase.NewRetrievalUseCase(app.Classifier, queryEmbedder, app.Vectors, app.Keyword, reranker, settings)
	app.QueryUC = usecase.NewQueryUseCase(retrieval, generator, store.queryLog)

	source := app.corpusSource(cfg, exec)
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap, cfg.ChunkMinSize)
	app.ReindexUC = usecase.NewReindexUseCase(source, chunker, batchEmbedder, app.Vectors, app.Keyword, store.lease, usecase.ReindexSettings{
		EmbedBatchSize: cfg.EmbedBatchSize,
		EmbedWorkers:   cfg.EmbedWorkers,
		LeaseTTL:       cfg.ReindexLeaseTTL(),
	})

	if opts.Queue {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSReindexSubject, nats.Options{
			Name:               opts.Name,
			ResilienceExecutor: exec,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.Queue = queue
		app.TriggerUC = usecase.NewReindexTriggerUseCase(queue)
		app.closeFns = append(app.closeFns, queue.Close)
	}

	if err := app.RefreshIndexes(ctx); err != nil {
		slog.Warn("index_refresh_failed", "error", err.Error())
	}
	return app, nil
}

func (a *App) openIndexStore(ctx context.Context, cfg config.Config) (indexStore, error) {
	switch cfg.IndexStoreBackend {
	case config.StoreBackendLocalFS:
		blobs, err := localfs.New(cfg.IndexStorePath)
		if err != nil {
			return indexStore{}, fmt.Errorf("init index store: %w", err)
		}
		lease, err := localfs.NewLease(blobs.BasePath())
		if err != nil {
			return indexStore{}, fmt.Errorf("init index lease: %w", err)
		}
		return indexStore{blobs: blobs, lease: lease}, nil
	default:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return indexStore{}, fmt.Errorf("open postgres: %w", err)
		}
		a.closeFns = append(a.closeFns, func() { _ = db.Close() })
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return indexStore{}, fmt.Errorf("ensure schema: %w", err)
		}
		return postgresStore(db), nil
	}
}

func postgresStore(db *sql.DB) indexStore {
	return indexStore{
		blobs:    postgres.NewBlobRepository(db),
		lease:    postgres.NewLeaseRepository(db),
		queryLog: postgres.NewQueryLogRepository(db),
	}
}

// corpusSource combines the remote export and the local directory. It is nil
// when neither is configured; such processes can serve queries but not
// re-index.
func (a *App) corpusSource(cfg config.Config, exec *resilience.Executor) ports.CorpusSource {
	var sources []ports.CorpusSource
	if cfg.CorpusURL != "" {
		sources = append(sources, corpus.NewHTTPSource(cfg.CorpusURL, exec))
	}
	if cfg.CorpusLocalPath != "" {
		files := corpus.NewFileSource(cfg.CorpusLocalPath)
		a.CorpusRoot = files.Root()
		sources = append(sources, files)
	}
	switch len(sources) {
	case 0:
		return nil
	case 1:
		return sources[0]
	default:
		return corpus.NewMultiSource(sources...)
	}
}

// RefreshIndexes loads index builds published by other processes.
func (a *App) RefreshIndexes(ctx context.Context) error {
	for _, r := range a.refreshers {
		if _, err := r.Refresh(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

func resilienceConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		Retry: resilience.RetryPolicy{
			MaxAttempts:    cfg.ResilienceRetryMaxAttempts,
			InitialBackoff: time.Duration(cfg.ResilienceRetryInitialBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.ResilienceRetryMaxBackoffMS) * time.Millisecond,
			Multiplier:     resilience.DefaultConfig().Retry.Multiplier,
		},
		Breaker: resilience.BreakerPolicy{
			Enabled:          cfg.ResilienceBreakerEnabled,
			MinRequests:      uint32(cfg.ResilienceBreakerMinRequests),
			FailureRatio:     cfg.ResilienceBreakerFailureRatio,
			OpenTimeout:      time.Duration(cfg.ResilienceBreakerOpenTimeoutSecs) * time.Second,
			HalfOpenMaxCalls: uint32(cfg.ResilienceBreakerHalfOpenMaxCalls),
		},
	}
}
