package ports

import (
	"context"
	"time"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

// Embedder turns text into vectors. Embed is the batch form.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the approximate-nearest-neighbour store. UpsertAll replaces
// the whole collection; scores returned by Query are similarities in [0,1].
type VectorStore interface {
	UpsertAll(ctx context.Context, chunks []domain.Chunk) error
	Query(ctx context.Context, vector []float32, k int) ([]domain.RetrievalResult, error)
	Count(ctx context.Context) (int, error)
}

// RerankService is the external cross-encoder.
type RerankService interface {
	Rerank(ctx context.Context, query string, documents []domain.RerankDocument, topN int) ([]domain.RerankResult, error)
}

// AnswerGenerator creates the final user-facing answer.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, passages []domain.Passage, lowConfidence bool) (string, error)
}

// KeyValueStore persists opaque blobs such as the serialized term index.
// Get returns (nil, nil) for a missing key. Set must be atomic for readers.
type KeyValueStore interface {
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// IndexLease provides cross-process exclusion for re-index runs.
type IndexLease interface {
	Acquire(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, holder string) error
	Current(ctx context.Context) (domain.Lease, error)
}

// CorpusSource yields the documentation pages to index.
type CorpusSource interface {
	Fetch(ctx context.Context) ([]domain.DocPage, error)
}

// Chunker splits a page into retrievable chunks.
type Chunker interface {
	Split(page domain.DocPage) []domain.Chunk
}

// QueryClassifier infers intent, strategy, keywords and expansion.
type QueryClassifier interface {
	Classify(query string) domain.ClassifiedQuery
}

// KeywordSearcher is the lexical side of retrieval. Ready reports whether an
// index has been loaded.
type KeywordSearcher interface {
	Search(query string, limit int) []domain.KeywordResult
	SearchPhrase(phrase string, limit int) []domain.KeywordResult
	Chunk(id string) (domain.Chunk, bool)
	Ready() bool
}

// QueryLogger records queries and feedback. Failures never reach the caller.
type QueryLogger interface {
	LogQuery(ctx context.Context, entry domain.QueryLogEntry) error
	LogFeedback(ctx context.Context, feedback domain.Feedback) error
}

// MessageQueue publishes/consumes re-index requests.
type MessageQueue interface {
	PublishReindexRequested(ctx context.Context, req domain.ReindexRequest) error
	SubscribeReindexRequested(ctx context.Context, handler func(context.Context, domain.ReindexRequest) error) error
}

// KeywordIndexPublisher builds the term index and publishes it for readers.
// Publish must be atomic from the read side.
type KeywordIndexPublisher interface {
	Build(chunks []domain.Chunk) *domain.TermIndex
	Publish(ctx context.Context, runID string, idx *domain.TermIndex, chunks []domain.Chunk) error
	Stats() (terms, docs int)
}
