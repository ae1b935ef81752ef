// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

// Package apiclient implements the Mixpanel HTTP client: regional routing,
// basic authentication, query encoding, streaming JSONL decode, retry with
// exponential backoff, circuit breaking, and client-side rate limiting.
//
// Responses stream; nothing here buffers an Export body. Errors surface as
// *mperr.Error with the taxonomy codes.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/config"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/creds"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/logging"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/metrics"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics.
const maxErrorBodySize = 64 * 1024

// Client talks to the Mixpanel APIs for one project.
type Client struct {
	creds      creds.Credentials
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*http.Response]

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	// baseURL overrides regional routing; used by tests and proxies.
	baseURL string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the region-derived base URL (scheme://host).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithSettings applies HTTP tuning.
func WithSettings(s config.HTTPSettings) Option {
	return func(c *Client) {
		c.httpClient.Timeout = s.Timeout
		c.maxRetries = s.MaxRetries
		c.baseDelay = s.RetryBaseDelay
		c.maxDelay = s.RetryMaxDelay
		if s.RateLimit > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(s.RateLimit), s.RateBurst)
		} else {
			c.limiter = nil
		}
	}
}

// New creates a Client for the given credentials.
func New(cr creds.Credentials, opts ...Option) *Client {
	defaults := config.Default().HTTP

	c := &Client{
		creds:      cr,
		httpClient: &http.Client{Timeout: defaults.Timeout},
		maxRetries: defaults.MaxRetries,
		baseDelay:  defaults.RetryBaseDelay,
		maxDelay:   defaults.RetryMaxDelay,
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = regionBaseURL(cr.Region)
	}
	if c.maxRetries < 1 {
		c.maxRetries = 1
	}
	c.breaker = newBreaker()

	return c
}

// ProjectID returns the project the client is bound to.
func (c *Client) ProjectID() string {
	return c.creds.ProjectID
}

// newBreaker builds the circuit breaker guarding the request path. Client
// errors other than 429 do not count against it: the server is healthy,
// the request was wrong.
func newBreaker() *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "mixpanel-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCircuitBreakerState(name, to.String())
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var he *httpError
			if errors.As(err, &he) {
				return he.Status >= 400 && he.Status < 500 && he.Status != http.StatusTooManyRequests
			}
			return false
		},
	})
}

// request describes one logical API call. The form body, when present, is
// re-encoded per attempt.
type request struct {
	method   string
	path     string
	query    url.Values
	form     url.Values
	endpoint string // metrics label and error context
}

// httpError carries a non-2xx response through the retry machinery.
type httpError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *httpError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// do executes a request with rate limiting, circuit breaking, and retry.
// On success the response body is open and owned by the caller.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseDelay
	bo.Multiplier = 2
	bo.MaxInterval = c.maxDelay
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock
	bo.Reset()

	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			return c.attempt(ctx, r)
		})
		if err == nil {
			metrics.RecordAPIRequest(r.endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, mperr.Wrap(mperr.CodeServerError,
				"Mixpanel API circuit breaker is open; backing off", err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var he *httpError
		if errors.As(err, &he) {
			metrics.RecordAPIRequest(r.endpoint, strconv.Itoa(he.Status), time.Since(start))
			if perm := c.permanentError(r, he); perm != nil {
				return nil, perm
			}
		} else {
			metrics.RecordAPIRequest(r.endpoint, "transport_error", time.Since(start))
		}

		// Retryable: 429, 5xx (except 501), transport failures.
		if attempt+1 >= c.maxRetries {
			break
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		reason := "transport"
		if he != nil {
			if he.Status == http.StatusTooManyRequests {
				reason = "rate_limited"
				metrics.RecordRateLimitHit(r.endpoint)
			} else {
				reason = "server_error"
			}
			if he.RetryAfter > 0 {
				delay = he.RetryAfter
			}
		}
		metrics.RecordAPIRetry(r.endpoint, reason)

		logging.Debug().
			Str("endpoint", r.endpoint).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Str("reason", reason).
			Msg("retrying Mixpanel request")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, c.exhaustedError(r, lastErr)
}

// attempt performs a single HTTP exchange. Non-2xx responses are drained
// into an *httpError so the breaker and retry loop can classify them.
func (c *Client) attempt(ctx context.Context, r request) (*http.Response, error) {
	u := c.baseURL + r.path

	query := url.Values{}
	for k, vs := range r.query {
		query[k] = vs
	}
	query.Set("project_id", c.creds.ProjectID)
	u += "?" + query.Encode()

	var body io.Reader
	if r.form != nil {
		body = strings.NewReader(r.form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, mperr.Wrapf(mperr.CodeValidationError, err, "building %s request", r.endpoint)
	}
	req.SetBasicAuth(c.creds.Username, c.creds.Secret.Reveal())
	req.Header.Set("Accept", "application/json")
	if r.form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	return nil, &httpError{
		Status:     resp.StatusCode,
		Body:       readBodyForError(resp.Body),
		RetryAfter: parseRetryAfter(resp.Header),
	}
}

// permanentError maps statuses that must not be retried. Nil means the
// status is retryable.
func (c *Client) permanentError(r request, he *httpError) error {
	switch {
	case he.Status == http.StatusUnauthorized || he.Status == http.StatusForbidden:
		return mperr.Newf(mperr.CodeAuthFailed,
			"Mixpanel rejected the credentials (HTTP %d); check the service account and project access", he.Status).
			WithDetail("status", he.Status).
			WithDetail("endpoint", r.endpoint)

	case he.Status == http.StatusUnprocessableEntity && r.endpoint == "jql":
		return mperr.Newf(mperr.CodeJQLSyntax, "JQL rejected: %s", upstreamMessage(he.Body)).
			WithDetail("status", he.Status)

	case he.Status == http.StatusTooManyRequests:
		return nil

	case he.Status >= 500 && he.Status != http.StatusNotImplemented:
		return nil

	case he.Status == http.StatusNotImplemented:
		return mperr.Newf(mperr.CodeServerError,
			"Mixpanel does not implement this request (HTTP 501): %s", upstreamMessage(he.Body)).
			WithDetail("status", he.Status).
			WithDetail("endpoint", r.endpoint)

	default: // remaining 4xx
		return mperr.Newf(mperr.CodeQueryFailed,
			"%s query failed (HTTP %d): %s", r.endpoint, he.Status, upstreamMessage(he.Body)).
			WithDetail("status", he.Status).
			WithDetail("endpoint", r.endpoint).
			WithDetail("body", he.Body)
	}
}

// exhaustedError maps the final failure after the retry budget is spent.
func (c *Client) exhaustedError(r request, lastErr error) error {
	var he *httpError
	if errors.As(lastErr, &he) && he.Status == http.StatusTooManyRequests {
		e := mperr.Newf(mperr.CodeRateLimited,
			"rate limited by Mixpanel on %s after %d attempts", r.endpoint, c.maxRetries).
			WithDetail("attempts", c.maxRetries).
			WithDetail("endpoint", r.endpoint)
		if he.RetryAfter > 0 {
			e = e.WithDetail("retry_after", he.RetryAfter.Seconds())
		}
		return e
	}

	return mperr.Wrapf(mperr.CodeServerError, lastErr,
		"Mixpanel %s request failed after %d attempts", r.endpoint, c.maxRetries).
		WithDetail("attempts", c.maxRetries).
		WithDetail("endpoint", r.endpoint)
}

// getJSON executes a request and decodes the complete JSON response.
func (c *Client) getJSON(ctx context.Context, r request, out any) error {
	resp, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return mperr.Wrapf(mperr.CodeServerError, err,
			"decoding %s response", r.endpoint)
	}
	return nil
}

// readBodyForError reads a bounded prefix of an error response body.
func readBodyForError(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// upstreamMessage extracts Mixpanel's error field from a JSON error body,
// falling back to the raw body.
func upstreamMessage(body string) string {
	var wire struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &wire); err == nil && wire.Error != "" {
		return wire.Error
	}
	if body == "" {
		return "no response body"
	}
	return body
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
