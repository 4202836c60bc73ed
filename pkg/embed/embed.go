// Package embed provides the embedding generator: an HTTP client for an
// embedContent-style provider with API-key failover, bounded backoff,
// and outbound rate limiting.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/VulnRadar/vulnradar/engine/domain"
	"github.com/VulnRadar/vulnradar/pkg/fn"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// Task types for the provider. Query and document embeddings live in
// different vector-space conventions and must never be conflated.
const (
	TaskQuery    = "RETRIEVAL_QUERY"
	TaskDocument = "RETRIEVAL_DOCUMENT"
)

// Config configures the embedding client.
type Config struct {
	BaseURL   string
	Model     string
	Dimension int
	Keys      []string
	// QPS caps outbound calls per second; 0 disables the limiter.
	QPS float64
	// Backoff is the wait before retrying the same key on a
	// temporarily-unavailable error.
	Backoff time.Duration
	Timeout time.Duration
}

// Client generates embeddings with provider key failover.
type Client struct {
	baseURL string
	model   string
	dims    int
	ring    *KeyRing
	limiter *rate.Limiter
	backoff time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// New creates an embedding client. At least one API key is required.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	ring, err := NewKeyRing(cfg.Keys)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), 1)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		dims:    cfg.Dimension,
		ring:    ring,
		limiter: limiter,
		backoff: cfg.Backoff,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}, nil
}

// Dimension returns the dimensionality of generated vectors.
func (c *Client) Dimension() int { return c.dims }

// provider error classes.
type errClass int

const (
	classRotate      errClass = iota // rate limit or transient auth: next key
	classUnavailable                 // temporarily unavailable: backoff, then next key
	classPermanent                   // malformed input etc: abort
)

type providerError struct {
	status int
	class  errClass
	body   string
}

func (e *providerError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.status, e.body)
}

func classify(status int) errClass {
	switch status {
	case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden:
		return classRotate
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return classUnavailable
	default:
		return classPermanent
	}
}

func isUnavailable(err error) bool {
	var pe *providerError
	if errors.As(err, &pe) {
		return pe.class == classUnavailable
	}
	// Network-level failures without a response are treated the same
	// as a temporarily unavailable provider.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Generate embeds text under the given task type. On a rate-limit or
// transient-auth failure it rotates to the next key; a temporarily
// unavailable provider gets one backoff retry on the same key first.
// Attempts are bounded by the number of keys. It never returns a
// partial or zero vector.
func (c *Client) Generate(ctx context.Context, text, task string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embed: empty text: %w", domain.ErrEmbeddingUnavailable)
	}

	for i := 0; i < c.ring.Len(); i++ {
		key, idx := c.ring.Current()

		res := fn.Retry(ctx, fn.RetryOpts{
			MaxAttempts: 2,
			InitialWait: c.backoff,
			MaxWait:     c.backoff,
			RetryIf:     isUnavailable,
		}, func(ctx context.Context) fn.Result[[]float32] {
			return fn.FromPair(c.embedOnce(ctx, text, task, key))
		})

		vec, err := res.Unwrap()
		if err == nil {
			if c.dims > 0 && len(vec) != c.dims {
				return nil, fmt.Errorf("embed: provider returned %d dims, want %d: %w",
					len(vec), c.dims, domain.ErrEmbeddingUnavailable)
			}
			return vec, nil
		}

		var pe *providerError
		if errors.As(err, &pe) && pe.class == classPermanent {
			return nil, fmt.Errorf("embed: %v: %w", err, domain.ErrEmbeddingUnavailable)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.ring.RotateFrom(idx)
		c.logger.Warn("embed: credential failed, rotating", "key_index", idx, "error", err)
	}

	return nil, fmt.Errorf("embed: all %d credentials exhausted: %w",
		c.ring.Len(), domain.ErrEmbeddingUnavailable)
}

// GenerateBatch embeds texts sequentially under one task type. Used by
// catalog ingestion with TaskDocument.
func (c *Client) GenerateBatch(ctx context.Context, texts []string, task string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Generate(ctx, text, task)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

type embedRequest struct {
	Content  embedContent `json:"content"`
	TaskType string       `json:"taskType"`
}

type embedContent struct {
	Parts []embedPart `json:"parts"`
}

type embedPart struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

func (c *Client) embedOnce(ctx context.Context, text, task, key string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, _ := json.Marshal(embedRequest{
		Content:  embedContent{Parts: []embedPart{{Text: text}}},
		TaskType: task,
	})
	url := fmt.Sprintf("%s/v1beta/models/%s:embedContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &providerError{
			status: resp.StatusCode,
			class:  classify(resp.StatusCode),
			body:   strings.TrimSpace(string(b)),
		}
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embed decode: %w", err)
	}
	if len(result.Embedding.Values) == 0 {
		return nil, &providerError{status: http.StatusOK, class: classPermanent, body: "empty embedding"}
	}
	return result.Embedding.Values, nil
}
