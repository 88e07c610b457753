package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/core/ports"
)

const (
	NoResultsAnswer = "I could not find any relevant material in the documentation for this question."

	logWriteTimeout   = 3 * time.Second
	maxFeedbackLength = 2000
)

// QueryUseCase answers questions on top of the retrieval orchestrator and
// records query logs and feedback on a best-effort basis.
type QueryUseCase struct {
	retrieval *RetrievalUseCase
	generator ports.AnswerGenerator
	queryLog  ports.QueryLogger
	async     func(func())
}

func NewQueryUseCase(
	retrieval *RetrievalUseCase,
	generator ports.AnswerGenerator,
	queryLog ports.QueryLogger,
) *QueryUseCase {
	return &QueryUseCase{
		retrieval: retrieval,
		generator: generator,
		queryLog:  queryLog,
		async:     func(f func()) { go f() },
	}
}

func (uc *QueryUseCase) Retrieve(ctx context.Context, req domain.QueryRequest) (*domain.RetrievalOutcome, error) {
	return uc.retrieval.Retrieve(ctx, req)
}

func (uc *QueryUseCase) Answer(ctx context.Context, req domain.QueryRequest) (*domain.Answer, error) {
	outcome, err := uc.retrieval.Retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	answer := &domain.Answer{
		QueryID:       uuid.NewString(),
		Sources:       outcome.Passages,
		Strategy:      outcome.Strategy,
		Intent:        outcome.Query.Intent,
		LowConfidence: outcome.LowConfidence,
		Degraded:      outcome.Degraded,
	}
	if outcome.Empty() {
		answer.Text = NoResultsAnswer
		answer.NoResults = true
	} else {
		text, err := uc.generator.GenerateAnswer(ctx, outcome.Query.Original, outcome.Passages, outcome.LowConfidence)
		if err != nil {
			return nil, upstreamError("generate answer", err)
		}
		answer.Text = text
	}

	uc.logQuery(ctx, answer.QueryID, outcome)
	return answer, nil
}

func (uc *QueryUseCase) RecordFeedback(ctx context.Context, feedback domain.Feedback) error {
	feedback.QueryID = strings.TrimSpace(feedback.QueryID)
	if feedback.QueryID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "record feedback", errors.New("query_id is required"))
	}
	if len(feedback.Comment) > maxFeedbackLength {
		return domain.WrapError(domain.ErrInvalidInput, "record feedback", errors.New("comment is too long"))
	}
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now().UTC()
	}
	if uc.queryLog == nil {
		return nil
	}

	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()
	if err := uc.queryLog.LogFeedback(logCtx, feedback); err != nil {
		slog.Warn("feedback_log_failed", "query_id", feedback.QueryID, "error", err.Error())
	}
	return nil
}

// logQuery never blocks or fails the request.
func (uc *QueryUseCase) logQuery(ctx context.Context, queryID string, outcome *domain.RetrievalOutcome) {
	if uc.queryLog == nil {
		return
	}
	entry := domain.QueryLogEntry{
		ID:            queryID,
		Query:         outcome.Query.Original,
		Intent:        outcome.Query.Intent,
		Strategy:      outcome.Strategy,
		TopScore:      outcome.TopScore,
		LowConfidence: outcome.LowConfidence,
		ResultCount:   len(outcome.Passages),
		LatencyMS:     outcome.Duration.Milliseconds(),
		CreatedAt:     time.Now().UTC(),
	}
	detached := context.WithoutCancel(ctx)
	uc.async(func() {
		logCtx, cancel := context.WithTimeout(detached, logWriteTimeout)
		defer cancel()
		if err := uc.queryLog.LogQuery(logCtx, entry); err != nil {
			slog.Warn("query_log_failed", "query_id", entry.ID, "error", err.Error())
		}
	})
}
