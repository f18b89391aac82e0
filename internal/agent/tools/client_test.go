package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelscope/server/internal/agent/model"
	errx "github.com/funnelscope/server/internal/core/error"
)

func testClient(t *testing.T, baseURL string) (*Client, *[]time.Duration) {
	t.Helper()
	c := NewClient(Config{
		BaseURL:     baseURL,
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  40 * time.Millisecond,
	}, nil)

	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return c, &delays
}

func funnelParamsFixture() model.FunnelParams {
	return model.FunnelParams{
		StartDate:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		FunnelSteps: []string{"signup", "purchase"},
	}
}

func TestAnalyzeFunnelRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "upstream busy", http.StatusBadGateway)
			return
		}

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2026-01-01T00:00:00Z", req["start_date"])

		json.NewEncoder(w).Encode(model.FunnelResult{FunnelID: "fnl_ok", TotalUsers: 100})
	}))
	defer srv.Close()

	c, delays := testClient(t, srv.URL)
	res, err := c.AnalyzeFunnel(context.Background(), funnelParamsFixture())

	require.NoError(t, err)
	assert.Equal(t, "fnl_ok", res.FunnelID)
	assert.EqualValues(t, 3, calls.Load(), "two transient failures then success")

	require.Len(t, *delays, 2)
	assert.GreaterOrEqual(t, (*delays)[0], 10*time.Millisecond)
	assert.Greater(t, (*delays)[1], (*delays)[0], "backoff must grow between attempts")
}

func TestAnalyzeFunnelExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	_, err := c.AnalyzeFunnel(context.Background(), funnelParamsFixture())

	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load())

	te, ok := errx.AsToolError(err)
	require.True(t, ok)
	assert.True(t, te.Retryable)
	assert.Equal(t, 3, te.Attempts)
}

func TestAnalyzeFunnelRejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "funnel_steps must contain at least 2 steps", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, delays := testClient(t, srv.URL)
	_, err := c.AnalyzeFunnel(context.Background(), funnelParamsFixture())

	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load(), "4xx must fail immediately")
	assert.Empty(t, *delays)

	te, ok := errx.AsToolError(err)
	require.True(t, ok)
	assert.False(t, te.Retryable)
}

func TestAnalyzeFunnelMalformedBodyIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	_, err := c.AnalyzeFunnel(context.Background(), funnelParamsFixture())

	require.Error(t, err)
	assert.False(t, errx.IsRetryable(err))
}

func TestAnalyzeCohortPostsIdentifiers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cohort-analysis", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "fnl_abc123", req["funnel_id"])
		assert.EqualValues(t, 1, req["step_index"])

		json.NewEncoder(w).Encode(model.CohortResult{StepName: "purchase", StepIndex: 1})
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	res, err := c.AnalyzeCohort(context.Background(), model.CohortParams{FunnelID: "fnl_abc123", StepIndex: 1})

	require.NoError(t, err)
	assert.Equal(t, "purchase", res.StepName)
}

func TestBackoffDelayIsCappedWithBoundedJitter(t *testing.T) {
	c := NewClient(Config{
		BaseURL:     "http://localhost",
		BackoffBase: 2 * time.Second,
		BackoffMax:  10 * time.Second,
		MaxAttempts: 5,
	}, nil)

	for attempt := 1; attempt <= 6; attempt++ {
		d := c.backoffDelay(attempt)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 10*time.Second+10*time.Second/4)
	}
}
