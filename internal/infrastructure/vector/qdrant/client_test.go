package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

type recordedCall struct {
	method string
	path   string
	body   map[string]any
}

func recordingServer(t *testing.T, respond func(w http.ResponseWriter, r *http.Request) bool) (*httptest.Server, *[]recordedCall) {
	t.Helper()
	var mu sync.Mutex
	calls := []recordedCall{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls = append(calls, recordedCall{method: r.Method, path: r.URL.Path, body: body})
		mu.Unlock()
		if respond != nil && respond(w, r) {
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","result":true}`))
	}))
	return server, &calls
}

func newTestClient(url string) *Client {
	c := New(url, "docs", nil)
	c.suffix = func() string { return "next" }
	return c
}

func aliasListing(target string) string {
	if target == "" {
		return `{"result":{"aliases":[]}}`
	}
	return `{"result":{"aliases":[{"alias_name":"other","collection_name":"other_1"},{"alias_name":"docs","collection_name":"` + target + `"}]}}`
}

func testChunks() []domain.Chunk {
	return []domain.Chunk{
		{ID: "c1", Title: "A", Content: "alpha", URL: "https://docs/a", Vector: []float32{0.1, 0.2}},
		{ID: "c2", Title: "B", Content: "beta", URL: "https://docs/b", Vector: []float32{0.3, 0.4}},
	}
}

func TestUpsertAllBuildsNewCollectionThenSwitchesAlias(t *testing.T) {
	server, calls := recordingServer(t, func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodGet && r.URL.Path == "/aliases" {
			_, _ = w.Write([]byte(aliasListing("docs_prev")))
			return true
		}
		return false
	})
	defer server.Close()

	if err := newTestClient(server.URL).UpsertAll(context.Background(), testChunks()); err != nil {
		t.Fatalf("UpsertAll() error = %v", err)
	}

	got := *calls
	want := []struct{ method, path string }{
		{http.MethodGet, "/aliases"},
		{http.MethodPut, "/collections/docs_next"},
		{http.MethodPut, "/collections/docs_next/points"},
		{http.MethodPost, "/collections/aliases"},
		{http.MethodDelete, "/collections/docs_prev"},
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected calls: %+v", got)
	}
	for i, w := range want {
		if got[i].method != w.method || got[i].path != w.path {
			t.Fatalf("call %d = %s %s, want %s %s", i, got[i].method, got[i].path, w.method, w.path)
		}
	}

	vectors := got[1].body["vectors"].(map[string]any)
	if vectors["size"].(float64) != 2 || vectors["distance"] != "Cosine" {
		t.Fatalf("unexpected collection config: %v", vectors)
	}
	points := got[2].body["points"].([]any)
	first := points[0].(map[string]any)
	if first["id"] != PointID("c1") || first["payload"].(map[string]any)["chunk_id"] != "c1" {
		t.Fatalf("unexpected point: %v", first)
	}

	actions := got[3].body["actions"].([]any)
	if len(actions) != 2 {
		t.Fatalf("alias switch must delete and create in one request: %v", actions)
	}
	if _, ok := actions[0].(map[string]any)["delete_alias"]; !ok {
		t.Fatalf("first action must drop the old alias: %v", actions[0])
	}
	created := actions[1].(map[string]any)["create_alias"].(map[string]any)
	if created["alias_name"] != "docs" || created["collection_name"] != "docs_next" {
		t.Fatalf("alias must point at the new build: %v", created)
	}
}

func TestUpsertAllMigratesPlainCollection(t *testing.T) {
	server, calls := recordingServer(t, func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodGet && r.URL.Path == "/aliases" {
			_, _ = w.Write([]byte(aliasListing("")))
			return true
		}
		return false
	})
	defer server.Close()

	if err := newTestClient(server.URL).UpsertAll(context.Background(), testChunks()); err != nil {
		t.Fatalf("UpsertAll() error = %v", err)
	}

	got := *calls
	if len(got) != 5 {
		t.Fatalf("unexpected calls: %+v", got)
	}
	if got[3].method != http.MethodDelete || got[3].path != "/collections/docs" {
		t.Fatalf("plain collection must be dropped right before the alias is created: %+v", got[3])
	}
	actions := got[4].body["actions"].([]any)
	if len(actions) != 1 {
		t.Fatalf("no alias to delete on first build: %v", actions)
	}
	for _, call := range got[:3] {
		if call.method == http.MethodDelete {
			t.Fatalf("served collection dropped before the build finished: %+v", got)
		}
	}
}

func TestUpsertAllFailedBuildKeepsAlias(t *testing.T) {
	server, calls := recordingServer(t, func(w http.ResponseWriter, r *http.Request) bool {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/aliases":
			_, _ = w.Write([]byte(aliasListing("docs_prev")))
			return true
		case r.URL.Path == "/collections/docs_next/points":
			http.Error(w, "bad vector", http.StatusBadRequest)
			return true
		}
		return false
	})
	defer server.Close()

	err := newTestClient(server.URL).UpsertAll(context.Background(), testChunks())
	if err == nil || !strings.Contains(err.Error(), "bad vector") {
		t.Fatalf("expected upsert error, got %v", err)
	}

	got := *calls
	last := got[len(got)-1]
	if last.method != http.MethodDelete || last.path != "/collections/docs_next" {
		t.Fatalf("failed build must be dropped: %+v", got)
	}
	for _, call := range got {
		if call.path == "/collections/aliases" || call.path == "/collections/docs_prev" {
			t.Fatalf("served collection must stay untouched: %+v", got)
		}
	}
}

func TestUpsertAllRejectsMixedVectorSizes(t *testing.T) {
	server, calls := recordingServer(t, nil)
	defer server.Close()

	err := New(server.URL, "docs", nil).UpsertAll(context.Background(), []domain.Chunk{
		{ID: "a", Vector: []float32{1, 2}},
		{ID: "b", Vector: []float32{1}},
	})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if len(*calls) != 0 {
		t.Fatalf("invalid input must not reach qdrant")
	}
}

func TestQueryMapsPayload(t *testing.T) {
	server, _ := recordingServer(t, func(w http.ResponseWriter, r *http.Request) bool {
		_, _ = w.Write([]byte(`{"result":[
			{"score":0.87,"payload":{"chunk_id":"c1","title":"Rate Limiting","content":"redis","url":"https://docs/rl"}},
			{"score":-0.2,"payload":{"chunk_id":"c2","title":"Other"}},
			{"score":0.5,"payload":{}}
		]}`))
		return true
	})
	defer server.Close()

	results, err := New(server.URL, "docs", nil).Query(context.Background(), []float32{0.1}, 3)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("points without chunk id must be skipped, got %d", len(results))
	}
	if results[0].ChunkID != "c1" || results[0].Score != 0.87 || results[0].Chunk.Title != "Rate Limiting" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[1].Score != 0 {
		t.Fatalf("negative similarity must clamp to 0, got %v", results[1].Score)
	}
}

func TestCountMissingCollectionIsZero(t *testing.T) {
	server, _ := recordingServer(t, func(w http.ResponseWriter, r *http.Request) bool {
		http.Error(w, "missing", http.StatusNotFound)
		return true
	})
	defer server.Close()

	count, err := New(server.URL, "docs", nil).Count(context.Background())
	if err != nil || count != 0 {
		t.Fatalf("Count() = %d, %v", count, err)
	}
}

func TestCountReadsResult(t *testing.T) {
	server, _ := recordingServer(t, func(w http.ResponseWriter, r *http.Request) bool {
		_, _ = w.Write([]byte(`{"result":{"count":42}}`))
		return true
	})
	defer server.Close()

	count, err := New(server.URL, "docs", nil).Count(context.Background())
	if err != nil || count != 42 {
		t.Fatalf("Count() = %d, %v", count, err)
	}
}

func TestErrorsIncludeResponseBody(t *testing.T) {
	server, _ := recordingServer(t, func(w http.ResponseWriter, r *http.Request) bool {
		http.Error(w, "boom", http.StatusBadRequest)
		return true
	})
	defer server.Close()

	_, err := New(server.URL, "docs", nil).Query(context.Background(), []float32{0.1}, 3)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
}

func TestPointIDIsStable(t *testing.T) {
	if PointID("chunk-1") != PointID("chunk-1") || PointID("chunk-1") == PointID("chunk-2") {
		t.Fatalf("point ids must be deterministic per chunk")
	}
}
