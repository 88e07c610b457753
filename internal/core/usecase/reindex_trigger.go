package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/core/ports"
)

// ReindexTriggerUseCase hands re-index requests to the worker queue. Without
// a queue every request fails with ErrConfiguration.
type ReindexTriggerUseCase struct {
	queue ports.MessageQueue
}

func NewReindexTriggerUseCase(queue ports.MessageQueue) *ReindexTriggerUseCase {
	return &ReindexTriggerUseCase{queue: queue}
}

func (uc *ReindexTriggerUseCase) RequestReindex(ctx context.Context, trigger string) (*domain.ReindexRequest, error) {
	trigger = sanitizeTrigger(trigger)
	if trigger == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "request reindex", errors.New("trigger is required"))
	}
	if uc == nil || uc.queue == nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "request reindex", errors.New("no reindex queue configured"))
	}
	req := &domain.ReindexRequest{
		ID:          uuid.NewString(),
		Trigger:     trigger,
		RequestedAt: time.Now().UTC(),
	}
	if err := uc.queue.PublishReindexRequested(ctx, *req); err != nil {
		return nil, fmt.Errorf("publish reindex request: %w", err)
	}
	return req, nil
}

func sanitizeTrigger(trigger string) string {
	trigger = strings.TrimSpace(strings.ToLower(trigger))
	trigger = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == ':':
			return r
		default:
			return '_'
		}
	}, trigger)
	if len(trigger) > 64 {
		trigger = trigger[:64]
	}
	return trigger
}
