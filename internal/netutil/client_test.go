package netutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient() *Client {
	c := NewClient(5*time.Second, RetryPolicy{Attempts: 3, Base: time.Millisecond, Factor: 2, Jitter: 0.2})
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestGetJSONRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"code":"Ok"}`))
	}))
	defer srv.Close()

	var out struct {
		Code string `json:"code"`
	}
	if err := newTestClient().GetJSON(context.Background(), srv.URL, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Code != "Ok" {
		t.Fatalf("decoded %+v", out)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestGetJSONPermanentStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestClient().GetJSON(context.Background(), srv.URL, nil)
	var status *HTTPStatusError
	if !errors.As(err, &status) || status.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400 HTTPStatusError", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 4xx)", got)
	}
}

func TestGetJSONRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if err := newTestClient().GetJSON(context.Background(), srv.URL, &struct{}{}); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestGetJSONDecodeErrorPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	err := newTestClient().GetJSON(context.Background(), srv.URL, &struct{}{})
	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("err = %v, want PermanentError", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestPostJSONReplaysBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		if string(body) != `{"n":7}` {
			t.Errorf("attempt %d body = %q", calls.Load()+1, body)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	in := map[string]int{"n": 7}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := newTestClient().PostJSON(context.Background(), srv.URL, in, &out); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if !out.OK || calls.Load() != 2 {
		t.Fatalf("out=%+v calls=%d", out, calls.Load())
	}
}

func TestCancelledContextStopsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient()
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	err := c.GetJSON(ctx, srv.URL, nil)
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestBackoffProgression(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Base: 2 * time.Second, Factor: 2, Jitter: 0}
	if got := p.Backoff(1, nil); got != 2*time.Second {
		t.Fatalf("backoff(1) = %v", got)
	}
	if got := p.Backoff(2, nil); got != 4*time.Second {
		t.Fatalf("backoff(2) = %v", got)
	}

	p.Jitter = 0.2
	lo := p.Backoff(1, func() float64 { return 0 })
	hi := p.Backoff(1, func() float64 { return 1 })
	if lo != 1600*time.Millisecond || hi != 2400*time.Millisecond {
		t.Fatalf("jitter bounds = %v .. %v, want 1.6s .. 2.4s", lo, hi)
	}
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"permanent", &PermanentError{Err: errors.New("x")}, false},
		{"status 500", &HTTPStatusError{StatusCode: 500}, true},
		{"status 429", &HTTPStatusError{StatusCode: 429}, true},
		{"status 404", &HTTPStatusError{StatusCode: 404}, false},
		{"network", errors.New("connection refused"), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
