package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/resilience"
)

const workerQueueGroup = "reindex-workers"

// Queue carries re-index requests from the API and CLI to the worker fleet.
// Workers share a queue group, so each request is handled by one worker.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	Name                 string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	name := options.Name
	if name == "" {
		name = "docs-assistant"
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats_disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishReindexRequested(ctx context.Context, req domain.ReindexRequest) error {
	payload, err := encodeRequest(req)
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats_publish", call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		slog.Warn("reindex_request_publish_failed", "request_id", req.ID, "trigger", req.Trigger, "error", err.Error())
		return publishError(err)
	}
	return nil
}

// classifyPublishError retries reindex publishes only while the connection is
// down or reconnecting. Everything else, such as an oversized payload or a bad
// subject, is permanent.
func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err), connectionLost(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

func connectionLost(err error) bool {
	return errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionReconnecting) ||
		errors.Is(err, nats.ErrDisconnected)
}

// publishError tells callers whether the reindex request may be resubmitted:
// connection problems become ErrTemporary (503 at the API), the rest
// ErrUpstream.
func publishError(err error) error {
	if domain.IsKind(err, domain.ErrTemporary) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if classifyPublishError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "publish reindex request", err)
	}
	return domain.WrapError(domain.ErrUpstream, "publish reindex request", err)
}

// SubscribeReindexRequested blocks until ctx is done, then drains the
// subscription. Requests are handled one at a time per worker.
func (q *Queue) SubscribeReindexRequested(ctx context.Context, handler func(context.Context, domain.ReindexRequest) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		req, err := decodeRequest(msg.Data)
		if err != nil {
			slog.Warn("reindex_request_malformed", "error", err.Error())
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, req); err != nil {
			slog.Error("reindex_request_failed", "request_id", req.ID, "trigger", req.Trigger, "error", err.Error())
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodeRequest(req domain.ReindexRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal reindex request: %w", err)
	}
	return payload, nil
}

// decodeRequest also accepts a bare trigger string from older publishers.
func decodeRequest(data []byte) (domain.ReindexRequest, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return domain.ReindexRequest{}, fmt.Errorf("empty reindex request")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return domain.ReindexRequest{Trigger: trimmed}, nil
	}
	var req domain.ReindexRequest
	if err := json.Unmarshal([]byte(trimmed), &req); err != nil {
		return domain.ReindexRequest{}, fmt.Errorf("decode reindex request: %w", err)
	}
	if req.Trigger == "" {
		req.Trigger = "queue"
	}
	return req, nil
}
