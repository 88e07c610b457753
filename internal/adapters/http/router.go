// Package httpadapter is the HTTP surface of the API process.
package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/routers"

	"github.com/kirillkom/docs-assistant/internal/config"
	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/core/ports"
	"github.com/kirillkom/docs-assistant/internal/observability/metrics"
)

const (
	serviceName     = "api"
	maxRequestBytes = 1 << 20
)

// IndexStatusProvider reports the state of the published index.
type IndexStatusProvider interface {
	Status(ctx context.Context) (*domain.IndexStatus, error)
}

type Router struct {
	cfg      config.Config
	query    ports.QueryService
	feedback ports.FeedbackRecorder
	trigger  ports.ReindexTrigger
	status   IndexStatusProvider
	metrics  *metrics.HTTPServerMetrics
	openapi  routers.Router
}

func NewRouter(
	cfg config.Config,
	query ports.QueryService,
	feedback ports.FeedbackRecorder,
	trigger ports.ReindexTrigger,
	status IndexStatusProvider,
	httpMetrics *metrics.HTTPServerMetrics,
) (*Router, error) {
	openapiRouter, err := loadOpenAPIRouter()
	if err != nil {
		return nil, err
	}
	return &Router{
		cfg:      cfg,
		query:    query,
		feedback: feedback,
		trigger:  trigger,
		status:   status,
		metrics:  httpMetrics,
		openapi:  openapiRouter,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("POST /v1/query", rt.answerQuery)
	mux.HandleFunc("POST /v1/search", rt.searchDocs)
	mux.HandleFunc("POST /v1/feedback", rt.recordFeedback)
	mux.HandleFunc("POST /v1/webhooks/reindex", rt.reindexWebhook)
	mux.HandleFunc("GET /v1/index/status", rt.indexStatus)

	var handler http.Handler = requestValidationMiddleware(rt.openapi, mux)
	handler = bodyLimitMiddleware(handler, maxRequestBytes)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, defaultBackpressure)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequestBody struct {
	Query     string   `json:"query"`
	Limit     int      `json:"limit"`
	Strategy  string   `json:"strategy"`
	Threshold *float64 `json:"threshold"`
}

func decodeQueryRequest(r *http.Request) (domain.QueryRequest, error) {
	var body queryRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return domain.QueryRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode query", errors.New("invalid json"))
	}
	strategy, ok := domain.ParseStrategy(strings.ToLower(strings.TrimSpace(body.Strategy)))
	if !ok {
		return domain.QueryRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode query", errors.New("unknown strategy"))
	}
	return domain.QueryRequest{
		Query:     body.Query,
		Limit:     body.Limit,
		Strategy:  strategy,
		Threshold: body.Threshold,
	}, nil
}

func (rt *Router) answerQuery(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQueryRequest(r)
	if err != nil {
		rt.handleError(w, r, err)
		return
	}

	start := time.Now()
	answer, err := rt.query.Answer(r.Context(), req)
	if err != nil {
		rt.handleError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordRetrieval(serviceName, "query", &domain.RetrievalOutcome{
			Query:         domain.ClassifiedQuery{Intent: answer.Intent},
			Strategy:      answer.Strategy,
			Passages:      answer.Sources,
			LowConfidence: answer.LowConfidence,
			Degraded:      answer.Degraded,
			Duration:      time.Since(start),
		})
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) searchDocs(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQueryRequest(r)
	if err != nil {
		rt.handleError(w, r, err)
		return
	}

	outcome, err := rt.query.Retrieve(r.Context(), req)
	if err != nil {
		rt.handleError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordRetrieval(serviceName, "search", outcome)
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (rt *Router) recordFeedback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		QueryID string `json:"query_id"`
		Helpful bool   `json:"helpful"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	err := rt.feedback.RecordFeedback(r.Context(), domain.Feedback{
		QueryID: body.QueryID,
		Helpful: body.Helpful,
		Comment: body.Comment,
	})
	if err != nil {
		rt.handleError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordFeedback(serviceName, body.Helpful)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (rt *Router) indexStatus(w http.ResponseWriter, r *http.Request) {
	if rt.status == nil {
		writeError(w, http.StatusNotFound, "index status not available")
		return
	}
	status, err := rt.status.Status(r.Context())
	if err != nil {
		rt.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err.Error(),
		)
	}
	writeError(w, status, publicErrorMessage(status, err))
}

func bodyLimitMiddleware(next http.Handler, limit int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
