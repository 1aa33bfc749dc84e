// Package ragclient talks to the retrieval backend's index, analyze and
// query endpoints.
package ragclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lotas/ragex/internal/applog"
	"github.com/lotas/ragex/internal/types"
)

const maxBodySize = 8 << 20

// emptyType is what the analyze endpoint reports until indexing has produced content.
const emptyType = "Empty"

// APIError is a failure reported by the backend: a non-2xx status or a
// response carrying a detail field.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return e.Detail
}

// Client is safe for concurrent use. The base URL can be swapped at runtime.
type Client struct {
	mu   sync.RWMutex
	base string
	http *http.Client

	// PollInterval and AnalyzeTimeout drive WaitForAnalysis.
	PollInterval   time.Duration
	AnalyzeTimeout time.Duration
}

// New returns a client for the API rooted at base, e.g.
// http://127.0.0.1:8000/api/v1. No request timeout is applied; callers
// bound requests with their context.
func New(base string) *Client {
	return &Client{
		base:           strings.TrimRight(base, "/"),
		http:           &http.Client{},
		PollInterval:   2 * time.Second,
		AnalyzeTimeout: 30 * time.Second,
	}
}

// SetBase changes the API root for subsequent requests.
func (c *Client) SetBase(base string) {
	c.mu.Lock()
	c.base = strings.TrimRight(base, "/")
	c.mu.Unlock()
}

// Base returns the current API root.
func (c *Client) Base() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base
}

type indexRequest struct {
	URL      string `json:"url"`
	MaxPages int    `json:"max_pages"`
}

type analyzeRequest struct {
	URL string `json:"url"`
}

// HistoryItem is a prior chat turn sent along with a question.
type HistoryItem struct {
	Role    types.Role `json:"role"`
	Content string     `json:"content"`
}

// QueryRequest asks a question scoped to the page at URL.
type QueryRequest struct {
	Question string        `json:"question"`
	History  []HistoryItem `json:"history"`
	URL      string        `json:"url"`
}

// QueryResponse is the backend's answer.
type QueryResponse struct {
	Answer             string            `json:"answer"`
	Refusal            bool              `json:"refusal"`
	Sources            []types.Source    `json:"sources"`
	Confidence         *types.Confidence `json:"confidence"`
	ConfidenceScore    *float64          `json:"confidence_score"`
	SuggestedQuestions []string          `json:"suggested_questions"`
}

// ResolvedConfidence prefers a non-empty label, then a numeric
// confidence, then confidence_score. A score of 0 is kept as 0%.
func (r *QueryResponse) ResolvedConfidence() *types.Confidence {
	if c := r.Confidence; c != nil {
		if c.Score == nil && strings.TrimSpace(c.Label) != "" {
			return types.LabelConfidence(c.Label)
		}
		if c.Score != nil {
			return types.ScoreConfidence(*c.Score)
		}
	}
	if r.ConfidenceScore != nil {
		return types.ScoreConfidence(*r.ConfidenceScore)
	}
	return nil
}

// Index asks the backend to crawl and index url.
func (c *Client) Index(ctx context.Context, url string, maxPages int) error {
	return c.post(ctx, "/index", indexRequest{URL: url, MaxPages: maxPages}, nil)
}

// Analyze fetches the analysis for url. ready is false while the backend
// still reports the "Empty" sentinel.
func (c *Client) Analyze(ctx context.Context, url string) (a *types.Analysis, ready bool, err error) {
	var raw types.Analysis
	if err := c.post(ctx, "/analyze", analyzeRequest{URL: url}, &raw); err != nil {
		return nil, false, err
	}
	if raw.Type == emptyType {
		return nil, false, nil
	}
	return types.NormalizeAnalysis(raw), true, nil
}

// WaitForAnalysis polls Analyze every PollInterval until it is ready or
// AnalyzeTimeout elapses. The timeout also bounds an in-flight request.
// Request errors count as "not ready". On timeout the default analysis is
// returned with timedOut set; only ctx cancellation yields an error.
func (c *Client) WaitForAnalysis(ctx context.Context, url string) (a *types.Analysis, timedOut bool, err error) {
	pctx, cancel := context.WithTimeout(ctx, c.AnalyzeTimeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		a, ready, err := c.Analyze(pctx, url)
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if ready {
			return a, false, nil
		}
		if pctx.Err() != nil {
			break
		}
		if err != nil {
			applog.Warn("analyze.poll", "url", url, "attempt", attempt, "err", err)
		}

		t := time.NewTimer(c.PollInterval)
		select {
		case <-pctx.Done():
			t.Stop()
		case <-t.C:
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if pctx.Err() != nil {
			break
		}
	}
	applog.Info("analyze.timeout", "url", url, "timeout", c.AnalyzeTimeout)
	return types.DefaultAnalysis(), true, nil
}

// Query sends a question with its prior history.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if req.History == nil {
		req.History = []HistoryItem{}
	}
	var resp QueryResponse
	if err := c.post(ctx, "/query", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type envelope struct {
	Detail json.RawMessage `json:"detail"`
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base()+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	var env envelope
	_ = json.Unmarshal(data, &env)
	detail := detailText(env.Detail)
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok || detail != "" {
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Detail: detail}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// detailText renders a detail field that may be a string or structured
// validation errors.
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
