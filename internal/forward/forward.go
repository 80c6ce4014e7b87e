// Package forward wraps outbound HTTP delivery to the collection server.
//
// A single long-lived client is shared by all calls so connections are
// pooled; every forwarded reading issues a POST. Transient failures
// (connection errors and retryable status codes) are retried with
// exponential backoff; anything else is returned to the caller after a
// single attempt.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// maxAttempts bounds the total tries per call, first attempt included.
	maxAttempts = 3

	// initialBackoff is the wait before the second attempt; it doubles on
	// each subsequent one.
	initialBackoff = 800 * time.Millisecond
)

// retryableStatus holds the status codes treated as transient faults.
var retryableStatus = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// Result is the outcome of one Post call.
type Result struct {
	// StatusCode is the HTTP status of the last attempt, 0 when no
	// response was received.
	StatusCode int

	// Attempts is how many requests were issued.
	Attempts int

	// Body is a truncated snippet of the last response body, kept for
	// logging non-2xx replies.
	Body string

	// Err is the transport error of the last attempt, or nil when a
	// response was received (whatever its status).
	Err error
}

// OK reports whether the call ended with a 2xx status.
func (r Result) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// String renders the result for logs.
func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("attempts=%d error=%v", r.Attempts, r.Err)
	}
	return fmt.Sprintf("attempts=%d status=%d", r.Attempts, r.StatusCode)
}

// Client posts JSON payloads with retry. Safe for concurrent use.
type Client struct {
	http    *http.Client
	backoff time.Duration
}

// NewClient creates a forwarder whose requests time out after the given
// duration (applied per attempt, not across retries).
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		backoff: initialBackoff,
	}
}

// Post sends body as JSON to url. It retries up to maxAttempts times on
// connection errors and retryable status codes, sleeping backoff, 2*backoff,
// … between attempts. The sleep is cut short when ctx is cancelled; the
// in-flight request itself is bounded by the client timeout.
func (c *Client) Post(ctx context.Context, url string, body any) Result {
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{Err: fmt.Errorf("encoding payload: %w", err)}
	}

	var res Result
	wait := c.backoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res = c.attempt(ctx, url, payload)
		res.Attempts = attempt

		if res.Err == nil {
			if _, retry := retryableStatus[res.StatusCode]; !retry {
				return res
			}
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		}
		wait *= 2
	}
	if res.Err == nil {
		res.Err = fmt.Errorf("status %d after %d attempts", res.StatusCode, res.Attempts)
	}
	return res
}

// attempt issues one POST and captures status plus a body snippet.
func (c *Client) attempt(ctx context.Context, url string, payload []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	// Drain the remainder so the connection returns to the pool.
	_, _ = io.Copy(io.Discard, resp.Body)

	return Result{StatusCode: resp.StatusCode, Body: string(snippet)}
}
