// Package netutil provides the retrying JSON-over-HTTP client the routing
// backends (OSRM table/route, VROOM, OR-Tools service) are called through.
package netutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"
)

// HTTPStatusError indicates the server responded, but with an unexpected
// HTTP status code. 5xx and 429 are transient; other statuses are permanent.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("netutil: unexpected status %d from %s", e.StatusCode, e.URL)
}

// Transient reports whether the status class is worth retrying.
func (e *HTTPStatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// PermanentError indicates the request can never succeed as formulated:
// malformed URL, unencodable payload, or an undecodable response body.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("netutil: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Retryable classifies an error as transient. Network-level failures retry;
// permanent errors, non-transient statuses and context cancellation do not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	var status *HTTPStatusError
	if errors.As(err, &status) {
		return status.Transient()
	}
	return true
}

// RetryPolicy controls backoff between attempts.
type RetryPolicy struct {
	Attempts int           // total tries, including the first
	Base     time.Duration // delay before the second try
	Factor   float64       // multiplier per further try
	Jitter   float64       // symmetric fraction, 0.2 means plus/minus 20%
}

// DefaultRetryPolicy is 3 attempts at 2s, 4s with 20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 2 * time.Second, Factor: 2, Jitter: 0.2}
}

// Backoff returns the jittered delay before try number attempt (1-based:
// attempt 1 is the delay after the first failure).
func (p RetryPolicy) Backoff(attempt int, rnd func() float64) time.Duration {
	d := float64(p.Base)
	for i := 1; i < attempt; i++ {
		d *= p.Factor
	}
	if p.Jitter > 0 && rnd != nil {
		d *= 1 + p.Jitter*(2*rnd()-1)
	}
	return time.Duration(d)
}

// Client is a JSON HTTP client with per-attempt timeouts and transient-error
// retry. The zero value is not usable; construct with NewClient.
type Client struct {
	HTTP      *http.Client
	Timeout   time.Duration // per attempt; caller deadlines still apply
	Retry     RetryPolicy
	UserAgent string

	// sleep is injectable so tests can skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
	rnd   func() float64
}

// NewClient creates a Client with the given per-attempt timeout and retry
// policy. A zero timeout means 30 seconds.
func NewClient(timeout time.Duration, retry RetryPolicy) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retry.Attempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &Client{
		HTTP:    &http.Client{},
		Timeout: timeout,
		Retry:   retry,
		sleep:   sleepCtx,
		rnd:     rand.Float64,
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

// GetJSON fetches url and decodes the response body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

// PostJSON marshals in, posts it to url and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("encode request: %w", err)}
	}
	return c.do(ctx, http.MethodPost, url, body, out)
}

// do runs the request with retries. The request body, if any, is replayed
// from the marshaled bytes on every attempt.
func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var lastErr error
	for attempt := 1; attempt <= c.Retry.Attempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.Retry.Backoff(attempt-1, c.rnd)); err != nil {
				return lastErr
			}
		}
		lastErr = c.once(ctx, method, url, body, out)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, url string, body []byte, out any) error {
	attemptCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
	if err != nil {
		return &PermanentError{Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		// Attempt timeouts surface as ctx errors on the attempt context;
		// report them as plain transient failures unless the caller's own
		// context is done.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("netutil: %s %s: %w", method, url, errUnwrapAttempt(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused across retries.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &PermanentError{Err: fmt.Errorf("decode response from %s: %w", url, err)}
	}
	return nil
}

// errUnwrapAttempt strips the attempt-context deadline error so it does not
// read as a caller cancellation.
func errUnwrapAttempt(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("attempt timed out: %v", err)
	}
	return err
}
