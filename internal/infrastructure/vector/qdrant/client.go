package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/resilience"
)

const (
	serviceName     = "qdrant"
	upsertBatchSize = 256
)

// Client reads and searches through collection, which is a qdrant alias.
// Every build goes into a fresh physical collection named "<alias>_<suffix>"
// and the alias is switched in a single request once the build is complete.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	exec       *resilience.Executor
	suffix     func() string
}

func New(baseURL, collection string, exec *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		exec:       exec,
		suffix:     func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:12] },
	}
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// PointID maps a chunk id onto the UUID space qdrant requires. The mapping is
// stable, so the same chunk always lands on the same point.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

// UpsertAll writes every chunk into a new collection sized for the batch,
// then points the alias at it and drops the collection it replaced. Readers
// keep the previous build until the switch; a failed build is dropped and
// leaves the alias untouched.
func (c *Client) UpsertAll(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "qdrant upsert all", fmt.Errorf("no chunks"))
	}
	size := len(chunks[0].Vector)
	for _, ch := range chunks {
		if len(ch.Vector) != size || size == 0 {
			return domain.WrapError(domain.ErrInvalidInput, "qdrant upsert all", fmt.Errorf("chunk %s has vector size %d, want %d", ch.ID, len(ch.Vector), size))
		}
	}

	previous, err := c.aliasTarget(ctx)
	if err != nil {
		return err
	}
	build := c.collection + "_" + c.suffix()
	if err := c.createCollection(ctx, build, size); err != nil {
		return err
	}
	if err := c.writePoints(ctx, build, chunks); err != nil {
		c.discard(ctx, build)
		return err
	}
	if previous == "" {
		// A plain collection under the alias name predates aliasing and
		// would block the alias.
		if err := c.dropCollection(ctx, c.collection); err != nil {
			c.discard(ctx, build)
			return err
		}
	}
	if err := c.switchAlias(ctx, previous, build); err != nil {
		c.discard(ctx, build)
		return err
	}
	slog.Info("vector_collection_switched", "alias", c.collection, "collection", build, "previous", previous, "points", len(chunks))
	if previous != "" && previous != build {
		c.discard(ctx, previous)
	}
	return nil
}

func (c *Client) writePoints(ctx context.Context, collection string, chunks []domain.Chunk) error {
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunks))
		points := make([]point, 0, end-start)
		for _, ch := range chunks[start:end] {
			points = append(points, point{
				ID:     PointID(ch.ID),
				Vector: ch.Vector,
				Payload: map[string]any{
					"chunk_id": ch.ID,
					"title":    ch.Title,
					"content":  ch.Content,
					"url":      ch.URL,
					"path":     ch.Path,
				},
			})
		}
		url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, collection)
		if err := c.do(ctx, "upsert", http.MethodPut, url, map[string]any{"points": points}, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// aliasTarget returns the collection the alias points at, or "" when the
// alias does not exist yet.
func (c *Client) aliasTarget(ctx context.Context) (string, error) {
	var resp struct {
		Result struct {
			Aliases []struct {
				AliasName      string `json:"alias_name"`
				CollectionName string `json:"collection_name"`
			} `json:"aliases"`
		} `json:"result"`
	}
	if err := c.do(ctx, "list aliases", http.MethodGet, c.baseURL+"/aliases", nil, &resp, nil); err != nil {
		return "", err
	}
	for _, a := range resp.Result.Aliases {
		if a.AliasName == c.collection {
			return a.CollectionName, nil
		}
	}
	return "", nil
}

// switchAlias repoints the alias in one request, so searches never see a
// missing collection.
func (c *Client) switchAlias(ctx context.Context, previous, next string) error {
	actions := make([]map[string]any, 0, 2)
	if previous != "" {
		actions = append(actions, map[string]any{"delete_alias": map[string]any{"alias_name": c.collection}})
	}
	actions = append(actions, map[string]any{"create_alias": map[string]any{
		"collection_name": next,
		"alias_name":      c.collection,
	}})
	url := c.baseURL + "/collections/aliases"
	return c.do(ctx, "switch alias", http.MethodPost, url, map[string]any{"actions": actions}, nil, nil)
}

// discard drops a collection that is no longer served. Failures only leave
// garbage behind, so they are logged.
func (c *Client) discard(ctx context.Context, collection string) {
	if err := c.dropCollection(context.WithoutCancel(ctx), collection); err != nil {
		slog.Warn("vector_collection_drop_failed", "collection", collection, "error", err.Error())
	}
}

func (c *Client) Query(ctx context.Context, vector []float32, k int) ([]domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.do(ctx, "search", http.MethodPost, url, reqBody, &searchResp, nil); err != nil {
		return nil, err
	}

	out := make([]domain.RetrievalResult, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		chunk := &domain.Chunk{
			ID:      getStringPayload(r.Payload, "chunk_id"),
			Title:   getStringPayload(r.Payload, "title"),
			Content: getStringPayload(r.Payload, "content"),
			URL:     getStringPayload(r.Payload, "url"),
			Path:    getStringPayload(r.Payload, "path"),
		}
		if chunk.ID == "" {
			continue
		}
		out = append(out, domain.RetrievalResult{ChunkID: chunk.ID, Score: clampSimilarity(r.Score), Chunk: chunk})
	}
	return out, nil
}

// Count reports zero for a collection that does not exist yet.
func (c *Client) Count(ctx context.Context) (int, error) {
	var countResp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/count", c.baseURL, c.collection)
	err := c.do(ctx, "count", http.MethodPost, url, map[string]any{"exact": true}, &countResp, []int{http.StatusNotFound})
	if err != nil {
		return 0, err
	}
	return countResp.Result.Count, nil
}

func (c *Client) dropCollection(ctx context.Context, collection string) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, collection)
	return c.do(ctx, "drop collection", http.MethodDelete, url, nil, nil, []int{http.StatusNotFound})
}

func (c *Client) createCollection(ctx context.Context, collection string, vectorSize int) error {
	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, collection)
	return c.do(ctx, "create collection", http.MethodPut, url, reqBody, nil, nil)
}

// do sends one JSON request through the executor. Statuses listed in
// tolerated are treated as success with an empty body.
func (c *Client) do(ctx context.Context, operation, method, url string, payload any, out any, tolerated []int) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal qdrant %s body: %w", operation, err)
		}
		body = encoded
	}

	call := func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, method, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create qdrant %s request: %w", operation, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("qdrant %s request: %w", operation, err)
		}
		defer resp.Body.Close()

		for _, status := range tolerated {
			if resp.StatusCode == status {
				return nil
			}
		}
		if resp.StatusCode >= 300 {
			return resilience.ReadHTTPError(serviceName, operation, resp)
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode qdrant %s response: %w", operation, err)
			}
		}
		return nil
	}

	var err error
	if c.exec == nil {
		err = call(ctx)
	} else {
		err = c.exec.Execute(ctx, serviceName+"_"+strings.ReplaceAll(operation, " ", "_"), call, resilience.ClassifyHTTPError)
	}
	return resilience.WrapTemporary(serviceName+" "+operation, err)
}

func clampSimilarity(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
