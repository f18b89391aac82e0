// Package tools holds the resilient clients for the funnel and cohort
// analysis services: per-attempt timeouts, bounded retry with exponential
// backoff and jitter, and transient/permanent error classification.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/funnelscope/server/internal/agent/model"
	errx "github.com/funnelscope/server/internal/core/error"
	"github.com/funnelscope/server/internal/observability"
	logx "github.com/funnelscope/server/pkg/logger"
)

// Config holds client settings, normally sourced from model.AnalyticsConfig.
type Config struct {
	BaseURL     string
	Timeout     time.Duration // per attempt
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func ConfigFromEnv(cfg model.AnalyticsConfig) Config {
	return Config{
		BaseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: time.Duration(cfg.BackoffBaseMS) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.BackoffMaxMS) * time.Millisecond,
	}
}

func (c *Config) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
}

// Client calls the analytics services. No session state is touched here;
// callers commit results only after a final success or failure is known.
type Client struct {
	cfg     Config
	httpc   *http.Client
	metrics *observability.Metrics

	// sleep is swapped in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, metrics *observability.Metrics) *Client {
	cfg.normalize()
	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{},
		metrics: metrics,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoffDelay doubles the base delay per completed attempt, caps it, and
// adds up to 25% jitter so synchronized clients spread out.
func (c *Client) backoffDelay(attempt int) time.Duration {
	d := c.cfg.BackoffBase << (attempt - 1)
	if d > c.cfg.BackoffMax || d <= 0 {
		d = c.cfg.BackoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

// AnalyzeFunnel runs a funnel analysis.
func (c *Client) AnalyzeFunnel(ctx context.Context, p model.FunnelParams) (*model.FunnelResult, error) {
	req := map[string]any{
		"start_date":   p.StartDate.Format(time.RFC3339),
		"end_date":     p.EndDate.Format(time.RFC3339),
		"funnel_steps": p.FunnelSteps,
	}
	if p.UserSegment != "" {
		req["user_segment"] = p.UserSegment
	}

	var out model.FunnelResult
	if err := c.postJSON(ctx, model.ToolAnalyzeFunnel, "/funnel-analysis", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeCohort runs a cohort deep-dive for one funnel step.
func (c *Client) AnalyzeCohort(ctx context.Context, p model.CohortParams) (*model.CohortResult, error) {
	req := map[string]any{
		"funnel_id":  p.FunnelID,
		"step_index": p.StepIndex,
	}

	var out model.CohortResult
	if err := c.postJSON(ctx, model.ToolAnalyzeCohort, "/cohort-analysis", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// postJSON performs the bounded retry loop. Transient failures (timeout,
// connection error, 5xx) are retried with increasing delay up to the cap;
// permanent failures (4xx, malformed body) surface immediately.
func (c *Client) postJSON(ctx context.Context, tool, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errx.NewToolError(tool, fmt.Errorf("marshal request: %w", err), false, 0)
	}
	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		started := time.Now()
		err := c.attempt(ctx, url, payload, out)
		if err == nil {
			c.metrics.ObserveToolAttempt(tool, "success")
			logx.Debug().
				Str("tool", tool).
				Int("attempt", attempt).
				Dur("elapsed", time.Since(started)).
				Msg("analytics call succeeded")
			return nil
		}

		var pe *permanentError
		if errors.As(err, &pe) {
			c.metrics.ObserveToolAttempt(tool, "fatal")
			logx.Warn().
				Str("tool", tool).
				Int("attempt", attempt).
				Err(pe.err).
				Msg("analytics call rejected, not retrying")
			return errx.NewToolError(tool, pe.err, false, attempt)
		}
		if ctx.Err() != nil {
			return errx.NewToolError(tool, ctx.Err(), true, attempt)
		}

		lastErr = err
		c.metrics.ObserveToolAttempt(tool, "transient")
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.backoffDelay(attempt)
		logx.Warn().
			Str("tool", tool).
			Int("attempt", attempt).
			Dur("elapsed", time.Since(started)).
			Dur("backoff", delay).
			Err(err).
			Msg("analytics call failed, backing off")
		if err := c.sleep(ctx, delay); err != nil {
			return errx.NewToolError(tool, err, true, attempt)
		}
	}

	logx.Error().
		Str("tool", tool).
		Int("attempts", c.cfg.MaxAttempts).
		Err(lastErr).
		Msg("analytics call retries exhausted")
	return errx.NewToolError(tool, lastErr, true, c.cfg.MaxAttempts)
}

// permanentError marks failures that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (c *Client) attempt(ctx context.Context, url string, payload []byte, out any) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &permanentError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		// timeouts and connection failures are transient
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error %d: %s", resp.StatusCode, snippet(raw))
	case resp.StatusCode >= 400:
		return &permanentError{err: fmt.Errorf("rejected with %d: %s", resp.StatusCode, snippet(raw))}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &permanentError{err: fmt.Errorf("malformed response body: %w", err)}
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
