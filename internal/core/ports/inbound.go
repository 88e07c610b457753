package ports

import (
	"context"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

// QueryService is the inbound contract for retrieval and answer generation.
type QueryService interface {
	Retrieve(ctx context.Context, req domain.QueryRequest) (*domain.RetrievalOutcome, error)
	Answer(ctx context.Context, req domain.QueryRequest) (*domain.Answer, error)
}

// FeedbackRecorder accepts user feedback on a previously answered query.
type FeedbackRecorder interface {
	RecordFeedback(ctx context.Context, feedback domain.Feedback) error
}

// Reindexer runs one exclusive re-index of the documentation corpus.
type Reindexer interface {
	Reindex(ctx context.Context, trigger string) (*domain.ReindexReport, error)
	Status(ctx context.Context) (*domain.IndexStatus, error)
}

// ReindexTrigger asks the worker fleet for a re-index run.
type ReindexTrigger interface {
	RequestReindex(ctx context.Context, trigger string) (*domain.ReindexRequest, error)
}
