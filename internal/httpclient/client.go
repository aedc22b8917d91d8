// Package httpclient is the Rate-Limited HTTP Client (spec §4.1): a thin
// wrapper over net/http that enforces a per-host token bucket and
// concurrency cap, retries transient failures with full-jitter exponential
// backoff, and emits a structured log line plus a
// safetyamp_sync_http_request_duration_seconds observation per attempt.
// Retry eligibility and backoff delay are computed by
// internal/core/resilience's RetryPolicy (the teacher's own reliability
// package, adapted here to offer a full-jitter delay mode alongside its
// original additive-jitter one — spec §4.1 requires full jitter
// specifically).
//
// Every external adapter (Target, Fleet, Directory) shares one Client keyed
// by host; ERP talks to Postgres directly and does not use this package.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/core/resilience"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
	"github.com/iius-rcox/safetyamp-sync/internal/metrics"
)

// Request is one outbound call.
type Request struct {
	Method         string
	URL            string
	Headers        http.Header
	Body           []byte
	IdempotencyKey string // non-empty marks POST/PATCH/PUT as safe to retry
	CorrelationID  string
}

// Response is the result of a successful round trip (status code alone does
// not imply success — callers inspect Status themselves for non-2xx bodies
// they want to parse, e.g. validation error payloads).
type Response struct {
	Status    int
	Headers   http.Header
	Body      []byte
	ElapsedMs int64
}

// Client issues rate-limited, retried HTTP requests to one or more hosts.
type Client struct {
	httpc  *http.Client
	cfg    config.HTTPConfig
	mx     *metrics.HTTPMetrics
	log    *slog.Logger
	policy *resilience.RetryPolicy

	mu       sync.Mutex
	limiters map[string]*hostLimiter
	calls    *callLog
}

// errsRetryChecker adapts errs.Retryable (the taxonomy-coded retry decision
// spec §4.1/§7 mandates — Transport/RateLimited/DependencyUnavailable only,
// explicitly excluding HTTP 501/505) to resilience.RetryableErrorChecker.
type errsRetryChecker struct{}

func (errsRetryChecker) IsRetryable(err error) bool { return errs.Retryable(err) }

type hostLimiter struct {
	bucket *rate.Limiter
	sem    chan struct{}
}

// New builds a Client sharing cfg's rate/backoff/attempt policy across every
// host it talks to.
func New(cfg config.HTTPConfig, mx *metrics.HTTPMetrics, log *slog.Logger) *Client {
	return &Client{
		httpc: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:   cfg,
		mx:    mx,
		log:   log,
		policy: &resilience.RetryPolicy{
			MaxRetries:    maxInt(cfg.MaxAttempts, 1) - 1,
			BaseDelay:     cfg.BaseBackoff(),
			MaxDelay:      cfg.MaxBackoff(),
			Multiplier:    2.0,
			FullJitter:    true,
			ErrorChecker:  errsRetryChecker{},
			Logger:        log,
			OperationName: "outbound_http_request",
		},
		limiters: make(map[string]*hostLimiter),
		calls:    newCallLog(500),
	}
}

// RecentCalls returns the most recent outbound requests matching f, most
// recent first, for the control plane's GET /api-calls endpoint.
func (c *Client) RecentCalls(f CallLogFilter) []CallRecord {
	return c.calls.recent(f)
}

func (c *Client) limiterFor(host string) *hostLimiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = &hostLimiter{
			bucket: rate.NewLimiter(rate.Limit(c.cfg.RPSPerHost), c.cfg.BurstPerHost),
			sem:    make(chan struct{}, c.cfg.MaxConcurrent),
		}
		c.limiters[host] = l
	}
	return l
}

// Do issues req, retrying transient failures per the configured policy, and
// returns the taxonomy-coded error on failure.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "invalid request url", err)
	}
	host := u.Host

	limiter := c.limiterFor(host)

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.QueueTimeout())
	defer cancel()
	if err := limiter.bucket.Wait(waitCtx); err != nil {
		return nil, errs.Wrap(errs.RateLimited, fmt.Sprintf("rate limit queue timeout for host %s", host), err)
	}

	select {
	case limiter.sem <- struct{}{}:
		defer func() { <-limiter.sem }()
	case <-waitCtx.Done():
		return nil, errs.Wrap(errs.RateLimited, fmt.Sprintf("concurrency queue timeout for host %s", host), waitCtx.Err())
	}

	idempotent := req.Method == http.MethodGet || req.Method == http.MethodHead ||
		req.Method == http.MethodPut || req.Method == http.MethodDelete ||
		req.IdempotencyKey != ""

	var lastErr error
	var resp *Response
	attempts := maxInt(c.cfg.MaxAttempts, 1)
	callStart := time.Now()
	delay := c.policy.BaseDelay

	for attempt := 0; attempt < attempts; attempt++ {
		start := time.Now()
		resp, lastErr = c.attempt(ctx, req)
		elapsed := time.Since(start)

		status := "error"
		if resp != nil {
			status = fmt.Sprintf("%d", resp.Status)
		}
		c.mx.RequestDuration.WithLabelValues(host, req.Method, status).Observe(elapsed.Seconds())

		c.log.Info("http_request",
			"host", host,
			"method", req.Method,
			"status", status,
			"elapsed_ms", elapsed.Milliseconds(),
			"attempt", attempt+1,
			"correlation_id", req.CorrelationID,
		)

		if lastErr == nil {
			c.calls.record(CallRecord{Service: host, Method: req.Method, StatusCode: resp.Status, Timestamp: time.Now(), ElapsedMs: time.Since(callStart).Milliseconds()})
			return resp, nil
		}

		// Non-idempotent requests (a POST lacking an idempotency key) are
		// only safe to retry when the failure happened before the request
		// reached the server, i.e. a transport-layer error.
		if !idempotent && !errs.Is(lastErr, errs.Transport) {
			break
		}
		if !resilience.ShouldRetry(lastErr, c.policy.ErrorChecker) {
			break
		}
		if attempt == attempts-1 {
			break
		}

		wait := delay
		if ra := retryAfter(resp); ra > wait {
			wait = ra
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, errs.Wrap(errs.Transport, "context cancelled during backoff", ctx.Err())
		}
		delay = resilience.CalculateNextDelay(delay, c.policy)
	}

	statusCode := 0
	if resp != nil {
		statusCode = resp.Status
	}
	c.calls.record(CallRecord{Service: host, Method: req.Method, StatusCode: statusCode, Errored: true, Timestamp: time.Now(), ElapsedMs: time.Since(callStart).Milliseconds()})
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "build request", err)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.CorrelationID != "" {
		httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)
	}

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, "round trip failed", err)
	}
	defer httpResp.Body.Close()

	limited := io.LimitReader(httpResp.Body, c.cfg.MaxResponseBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, "read response body", err)
	}
	if int64(len(body)) > c.cfg.MaxResponseBytes {
		return nil, errs.New(errs.Internal, "response exceeded max_response_bytes")
	}

	resp := &Response{Status: httpResp.StatusCode, Headers: httpResp.Header, Body: body}

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return resp, errs.New(errs.AuthFailed, fmt.Sprintf("http %d", httpResp.StatusCode))
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return resp, errs.New(errs.RateLimited, "http 429")
	case httpResp.StatusCode == http.StatusConflict:
		return resp, errs.New(errs.Conflict, "http 409")
	case httpResp.StatusCode == http.StatusNotFound:
		return resp, errs.New(errs.DataMissing, "http 404")
	case httpResp.StatusCode >= 500 && httpResp.StatusCode != 501 && httpResp.StatusCode != 505:
		return resp, errs.New(errs.DependencyUnavailable, fmt.Sprintf("http %d", httpResp.StatusCode))
	case httpResp.StatusCode == 422:
		return resp, errs.New(errs.ValidationFailed, "http 422")
	case httpResp.StatusCode >= 400:
		return resp, errs.New(errs.Internal, fmt.Sprintf("http %d", httpResp.StatusCode))
	}

	return resp, nil
}

func retryAfter(resp *Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Headers.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
