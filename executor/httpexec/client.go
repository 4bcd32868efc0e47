// Package httpexec implements executor.Client over a small JSON/HTTP API:
//
//	POST {base}/jobs        body: submission parameters   → {"job_id": "..."}
//	GET  {base}/jobs/{id}                                  → {"status": "...", ...}
//
// The whole status response body is kept as the run's payload; its "status"
// field is the raw value handed to the classifier. When the call context
// carries a middleware.Call, Submit sends the run ID and slot as the
// X-Jobpoller-Run-Id and X-Jobpoller-Slot headers.
package httpexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/xraph/jobpoller/executor"
	"github.com/xraph/jobpoller/middleware"
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// Compile-time interface check.
var _ executor.Client = (*Client)(nil)

// Client talks to the executor's HTTP API.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithQueryRateLimit throttles status queries to limit per second with the
// given burst. The limiter is shared by every run using this client.
func WithQueryRateLimit(limit float64, burst int) Option {
	return func(c *Client) {
		if limit <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the executor API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("httpexec: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("httpexec: base url %q must be http or https", baseURL)
	}
	c := &Client{
		base:   u,
		http:   http.DefaultClient,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Submit posts params to {base}/jobs.
func (c *Client) Submit(ctx context.Context, params []byte) (string, error) {
	if len(params) == 0 {
		params = []byte("{}")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath("jobs").String(), bytes.NewReader(params))
	if err != nil {
		return "", &executor.SubmissionError{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if call, ok := middleware.CallFrom(ctx); ok {
		req.Header.Set("X-Jobpoller-Run-Id", call.RunID.String())
		req.Header.Set("X-Jobpoller-Slot", call.SlotID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &executor.SubmissionError{Reason: "transport", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", &executor.SubmissionError{Reason: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &executor.SubmissionError{
			Reason: fmt.Sprintf("http %d", resp.StatusCode),
			Err:    errors.New(strings.TrimSpace(string(body))),
		}
	}

	var out submitResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &executor.SubmissionError{Reason: "decode response", Err: err}
	}
	if out.JobID == "" {
		return "", &executor.SubmissionError{Reason: "response has no job_id"}
	}
	return out.JobID, nil
}

type statusResponse struct {
	Status string `json:"status"`
}

// QueryStatus fetches {base}/jobs/{jobID}.
func (c *Client) QueryStatus(ctx context.Context, jobID string) (executor.RawStatus, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return executor.RawStatus{}, &executor.QueryError{JobID: jobID, Reason: "rate limit wait", Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.JoinPath("jobs", url.PathEscape(jobID)).String(), nil)
	if err != nil {
		return executor.RawStatus{}, &executor.QueryError{JobID: jobID, Reason: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return executor.RawStatus{}, &executor.QueryError{JobID: jobID, Reason: "transport", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return executor.RawStatus{}, &executor.QueryError{JobID: jobID, Reason: "read response", Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return executor.RawStatus{}, &executor.QueryError{JobID: jobID, Reason: "unknown job"}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return executor.RawStatus{}, &executor.QueryError{JobID: jobID, Reason: fmt.Sprintf("http %d", resp.StatusCode)}
	}

	var out statusResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return executor.RawStatus{}, &executor.QueryError{JobID: jobID, Reason: "decode response", Err: err}
	}
	c.logger.Debug("executor status",
		slog.String("job_id", jobID),
		slog.String("status", out.Status),
	)
	return executor.RawStatus{Value: out.Status, Payload: body}, nil
}
