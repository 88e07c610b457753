// Package rerank calls an external cross-encoder over HTTP. The wire format is
// the /rerank shape shared by Cohere, Jina and text-embeddings-inference
// deployments.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
	"github.com/kirillkom/docs-assistant/internal/infrastructure/resilience"
)

const serviceName = "rerank"

type Client struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	exec       *resilience.Executor
}

func New(baseURL, model, apiKey string, exec *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		exec:       exec,
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores documents against query. Results reference the input by
// position; positions outside the input are an upstream error.
func (c *Client) Rerank(ctx context.Context, query string, documents []domain.RerankDocument, topN int) ([]domain.RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	texts := make([]string, len(documents))
	for i, d := range documents {
		texts[i] = d.Content
	}
	body, err := json.Marshal(rerankRequest{Model: c.model, Query: query, Documents: texts, TopN: topN})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	var parsed rerankResponse
	call := func(callCtx context.Context) error {
		parsed = rerankResponse{}
		return c.post(callCtx, body, &parsed)
	}
	if c.exec == nil {
		err = call(ctx)
	} else {
		err = c.exec.Execute(ctx, serviceName+"_score", call, resilience.ClassifyHTTPError)
	}
	if err != nil {
		return nil, resilience.WrapTemporary("rerank score", err)
	}

	out := make([]domain.RerankResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, domain.WrapError(domain.ErrUpstream, "rerank score", fmt.Errorf("result index %d out of range", r.Index))
		}
		doc := documents[r.Index]
		out = append(out, domain.RerankResult{
			ID:             doc.ID,
			Content:        doc.Content,
			RelevanceScore: r.RelevanceScore,
			OriginalRank:   r.Index,
		})
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, body []byte, out *rerankResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.ReadHTTPError(serviceName, "score", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode rerank response: %w", err)
	}
	return nil
}
