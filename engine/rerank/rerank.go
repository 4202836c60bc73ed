// Package rerank re-orders an already-retrieved candidate set using a
// cross-encoder rerank provider. Reranking is a quality enhancement:
// callers fall back to the input ordering when it fails.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/VulnRadar/vulnradar/engine/domain"
	"github.com/VulnRadar/vulnradar/pkg/resilience"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Reranker re-orders candidates by a finer-grained relevance signal,
// truncated to topK. Every field already attached to a candidate is
// preserved; only order changes and a rerank score is annotated.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.CandidateMatch, topK int) ([]domain.CandidateMatch, error)
}

// Config configures the rerank provider client.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	// QPS caps outbound calls per second; 0 disables the limiter.
	QPS     float64
	Timeout time.Duration
}

// Client calls a Cohere-style /rerank HTTP endpoint.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	limiter *resilience.Limiter
	client  *http.Client
}

// NewClient creates a rerank client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	var limiter *resilience.Limiter
	if cfg.QPS > 0 {
		limiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.QPS, Burst: 1})
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		limiter: limiter,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank implements Reranker.
func (c *Client) Rerank(ctx context.Context, query string, candidates []domain.CandidateMatch, topK int) ([]domain.CandidateMatch, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	docs := make([]string, len(candidates))
	for i, m := range candidates {
		if m.Content != "" {
			docs[i] = m.Content
		} else {
			docs[i] = m.SourceID
		}
	}

	body, _ := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: docs,
		TopN:      topK,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("rerank decode: %w", err)
	}

	out := make([]domain.CandidateMatch, 0, topK)
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			return nil, fmt.Errorf("rerank: provider returned index %d for %d candidates", r.Index, len(candidates))
		}
		m := candidates[r.Index]
		score := r.RelevanceScore
		m.RerankScore = &score
		out = append(out, m)
		if len(out) == topK {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("rerank: provider returned no results")
	}
	return out, nil
}
