package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docs-assistant/internal/config"
	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

type fakeQueryService struct {
	answer  *domain.Answer
	outcome *domain.RetrievalOutcome
	err     error
	lastReq domain.QueryRequest
	calls   int
}

func (f *fakeQueryService) Retrieve(_ context.Context, req domain.QueryRequest) (*domain.RetrievalOutcome, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

func (f *fakeQueryService) Answer(_ context.Context, req domain.QueryRequest) (*domain.Answer, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

type fakeFeedbackRecorder struct {
	got []domain.Feedback
	err error
}

func (f *fakeFeedbackRecorder) RecordFeedback(_ context.Context, feedback domain.Feedback) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, feedback)
	return nil
}

type fakeReindexTrigger struct {
	triggers []string
	err      error
}

func (f *fakeReindexTrigger) RequestReindex(_ context.Context, trigger string) (*domain.ReindexRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.triggers = append(f.triggers, trigger)
	return &domain.ReindexRequest{ID: "req-1", Trigger: trigger, RequestedAt: time.Unix(0, 0).UTC()}, nil
}

type fakeStatusProvider struct {
	status *domain.IndexStatus
	err    error
}

func (f *fakeStatusProvider) Status(context.Context) (*domain.IndexStatus, error) {
	return f.status, f.err
}

type routerDeps struct {
	query    *fakeQueryService
	feedback *fakeFeedbackRecorder
	trigger  *fakeReindexTrigger
	status   *fakeStatusProvider
}

func newRouterDeps() routerDeps {
	return routerDeps{
		query:    &fakeQueryService{},
		feedback: &fakeFeedbackRecorder{},
		trigger:  &fakeReindexTrigger{},
		status:   &fakeStatusProvider{},
	}
}

func newTestHandler(t *testing.T, cfg config.Config, deps routerDeps) http.Handler {
	t.Helper()
	router, err := NewRouter(cfg, deps.query, deps.feedback, deps.trigger, deps.status, nil)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return router.Handler()
}

func postJSON(handler http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(bytes.NewReader(res.Body.Bytes())).Decode(&out); err != nil {
		t.Fatalf("decode response: %v; body=%s", err, res.Body.String())
	}
	return out
}

func TestHealthz(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, newRouterDeps())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestQueryEndpointReturnsAnswer(t *testing.T) {
	deps := newRouterDeps()
	deps.query.answer = &domain.Answer{
		QueryID:  "q-1",
		Text:     "Use the install command.",
		Strategy: domain.StrategyHybrid,
		Intent:   domain.IntentLookup,
		Sources: []domain.Passage{{
			Chunk: domain.Chunk{ID: "c1", Title: "Install", URL: "https://docs.example.com/install"},
			Score: 0.9,
			Rank:  1,
		}},
	}
	handler := newTestHandler(t, config.Config{}, deps)

	res := postJSON(handler, "/v1/query", `{"query":"how to install","limit":3,"strategy":"hybrid","threshold":0.4}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	body := decodeBody(t, res)
	if body["query_id"] != "q-1" {
		t.Fatalf("unexpected query_id: %v", body["query_id"])
	}
	if got := deps.query.lastReq; got.Query != "how to install" || got.Limit != 3 || got.Strategy != domain.StrategyHybrid {
		t.Fatalf("unexpected request passed to use case: %+v", got)
	}
	if deps.query.lastReq.Threshold == nil || *deps.query.lastReq.Threshold != 0.4 {
		t.Fatalf("expected threshold 0.4, got %v", deps.query.lastReq.Threshold)
	}
}

func TestQueryEndpointDefaultsStrategyToAuto(t *testing.T) {
	deps := newRouterDeps()
	deps.query.answer = &domain.Answer{QueryID: "q-2"}
	handler := newTestHandler(t, config.Config{}, deps)

	res := postJSON(handler, "/v1/query", `{"query":"what is a chunk"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if deps.query.lastReq.Strategy != domain.StrategyAuto {
		t.Fatalf("expected auto strategy, got %q", deps.query.lastReq.Strategy)
	}
}

func TestSearchEndpointReturnsOutcome(t *testing.T) {
	deps := newRouterDeps()
	deps.query.outcome = &domain.RetrievalOutcome{
		Strategy:   domain.StrategyKeyword,
		Passages:   []domain.Passage{{Chunk: domain.Chunk{ID: "c1"}, Score: 0.7, Rank: 1}},
		TopScore:   0.7,
		Confidence: 0.7,
		Scale:      domain.ScaleBM25,
	}
	handler := newTestHandler(t, config.Config{}, deps)

	res := postJSON(handler, "/v1/search", `{"query":"ERR_CONN_RESET","strategy":"keyword"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	body := decodeBody(t, res)
	passages, ok := body["passages"].([]any)
	if !ok || len(passages) != 1 {
		t.Fatalf("expected one passage, got %v", body["passages"])
	}
}

func TestQueryEndpointRejectsSchemaViolations(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "missing query", body: `{"limit":3}`},
		{name: "empty query", body: `{"query":""}`},
		{name: "limit too large", body: `{"query":"x","limit":500}`},
		{name: "unknown strategy", body: `{"query":"x","strategy":"vector"}`},
		{name: "threshold out of range", body: `{"query":"x","threshold":1.5}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := newRouterDeps()
			handler := newTestHandler(t, config.Config{}, deps)

			res := postJSON(handler, "/v1/query", tc.body)
			if res.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", res.Code, res.Body.String())
			}
			if deps.query.calls != 0 {
				t.Fatalf("use case must not be called for invalid input")
			}
			if msg, _ := decodeBody(t, res)["error"].(string); !strings.HasPrefix(msg, "invalid request") {
				t.Fatalf("unexpected error message: %q", msg)
			}
		})
	}
}

func TestQueryEndpointMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{
			name:    "invalid input",
			err:     domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is empty")),
			status:  http.StatusBadRequest,
			message: "query is empty",
		},
		{
			name:    "temporary",
			err:     domain.WrapError(domain.ErrTemporary, "embed", errors.New("dial tcp 10.0.0.1:11434")),
			status:  http.StatusServiceUnavailable,
			message: "upstream service temporarily unavailable",
		},
		{
			name:    "upstream",
			err:     domain.WrapError(domain.ErrUpstream, "generate", errors.New("status 500")),
			status:  http.StatusBadGateway,
			message: "upstream service error",
		},
		{
			name:    "unknown",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			message: "internal error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := newRouterDeps()
			deps.query.err = tc.err
			handler := newTestHandler(t, config.Config{}, deps)

			res := postJSON(handler, "/v1/query", `{"query":"install"}`)
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, res.Code)
			}
			msg, _ := decodeBody(t, res)["error"].(string)
			if !strings.Contains(msg, tc.message) {
				t.Fatalf("expected message containing %q, got %q", tc.message, msg)
			}
			if strings.Contains(msg, "10.0.0.1") {
				t.Fatalf("internal detail leaked: %q", msg)
			}
		})
	}
}

func TestFeedbackEndpointAccepts(t *testing.T) {
	deps := newRouterDeps()
	handler := newTestHandler(t, config.Config{}, deps)

	res := postJSON(handler, "/v1/feedback", `{"query_id":"q-1","helpful":false,"comment":"outdated"}`)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if len(deps.feedback.got) != 1 {
		t.Fatalf("expected one feedback record, got %d", len(deps.feedback.got))
	}
	got := deps.feedback.got[0]
	if got.QueryID != "q-1" || got.Helpful || got.Comment != "outdated" {
		t.Fatalf("unexpected feedback: %+v", got)
	}
}

func TestFeedbackEndpointRequiresHelpful(t *testing.T) {
	deps := newRouterDeps()
	handler := newTestHandler(t, config.Config{}, deps)

	res := postJSON(handler, "/v1/feedback", `{"query_id":"q-1"}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if len(deps.feedback.got) != 0 {
		t.Fatalf("feedback must not be recorded")
	}
}

func TestFeedbackEndpointUnknownQuery(t *testing.T) {
	deps := newRouterDeps()
	deps.feedback.err = domain.WrapError(domain.ErrNotFound, "record feedback", errors.New("query q-9 not found"))
	handler := newTestHandler(t, config.Config{}, deps)

	res := postJSON(handler, "/v1/feedback", `{"query_id":"q-9","helpful":true}`)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestIndexStatusEndpoint(t *testing.T) {
	deps := newRouterDeps()
	deps.status.status = &domain.IndexStatus{Chunks: 12, Terms: 340, TotalDocs: 12}
	handler := newTestHandler(t, config.Config{}, deps)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/index/status", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	body := decodeBody(t, res)
	if body["chunks"] != float64(12) || body["terms"] != float64(340) {
		t.Fatalf("unexpected status body: %v", body)
	}
}

func TestUnknownMethodIsRejected(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, newRouterDeps())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/query", nil))
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}
