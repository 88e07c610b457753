package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

type QueryLogRepository struct {
	db *sql.DB
}

func NewQueryLogRepository(db *sql.DB) *QueryLogRepository {
	return &QueryLogRepository{db: db}
}

func (r *QueryLogRepository) LogQuery(ctx context.Context, entry domain.QueryLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO query_log (id, query, intent, strategy, top_score, low_confidence, result_count, latency_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING
`,
		entry.ID, entry.Query, string(entry.Intent), string(entry.Strategy), entry.TopScore,
		entry.LowConfidence, entry.ResultCount, entry.LatencyMS, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert query log: %w", err)
	}
	return nil
}

func (r *QueryLogRepository) LogFeedback(ctx context.Context, feedback domain.Feedback) error {
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now().UTC()
	}
	var comment sql.NullString
	if feedback.Comment != "" {
		comment = sql.NullString{String: feedback.Comment, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO query_feedback (query_id, helpful, comment, created_at)
VALUES ($1,$2,$3,$4)
`, feedback.QueryID, feedback.Helpful, comment, feedback.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert query feedback: %w", err)
	}
	return nil
}
