package httpclient

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/core/resilience"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
	"github.com/iius-rcox/safetyamp-sync/internal/metrics"
)

func testConfig() config.HTTPConfig {
	return config.HTTPConfig{
		RPSPerHost:       1000,
		BurstPerHost:     1000,
		MaxAttempts:      3,
		BaseBackoffMs:    1,
		MaxBackoffMs:     5,
		QueueTimeoutMs:   2000,
		MaxResponseBytes: 1024,
		RequestTimeout:   2 * time.Second,
		MaxConcurrent:    10,
	}
}

func newTestClient() *Client {
	return New(testConfig(), metrics.New().HTTP(), slog.Default())
}

func TestClient_Do_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestClient()
	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestClient_Do_RecordsCallLogEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient()
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)

	recent := c.RecentCalls(CallLogFilter{})
	require.Len(t, recent, 1)
	assert.Equal(t, http.MethodGet, recent[0].Method)
	assert.Equal(t, http.StatusOK, recent[0].StatusCode)
	assert.False(t, recent[0].Errored)
}

func TestClient_Do_RecordsErroredCallForNonRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient()
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)

	recent := c.RecentCalls(CallLogFilter{ErrorsOnly: true})
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Errored)
}

func TestClient_Do_RetriesOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient()
	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_Do_AuthFailedNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient()
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, errs.AuthFailed, errs.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_Do_NonIdempotentPostNotRetriedAfterSend(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient()
	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_Do_MaxResponseBytesExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	c := newTestClient()
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, errs.Internal, errs.CodeOf(err))
}

func TestCalculateNextDelay_CapsAtMax(t *testing.T) {
	policy := &resilience.RetryPolicy{
		MaxDelay:   200 * time.Millisecond,
		Multiplier: 2.0,
		FullJitter: true,
	}
	d := resilience.CalculateNextDelay(100*time.Millisecond, policy)
	assert.LessOrEqual(t, d, 200*time.Millisecond)
}

func TestRetryAfter_ParsesSecondsHeader(t *testing.T) {
	// Do waits the larger of its backoff delay and retryAfter(resp) between
	// attempts; this checks the header's seconds are parsed into that wait.
	wait := retryAfter(&Response{Headers: http.Header{"Retry-After": []string{"10"}}})
	assert.Equal(t, 10*time.Second, wait)
}
