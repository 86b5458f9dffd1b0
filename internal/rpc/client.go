// Package rpc talks to the remote backend's RPC surface. Every call is
// throttled through the shared semaphore and retried through the retry
// executor, so callers see at most one error after the retry budget is
// spent.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/greenhouse-labs/sprig/internal/gate"
	"github.com/greenhouse-labs/sprig/internal/retry"
)

var (
	// ErrRemote is the base error for failed RPC calls.
	ErrRemote = errors.New("remote call failed")

	// ErrMissingFunction marks a call to an RPC function the backend does
	// not expose. Not retryable; callers fall back to an older function.
	ErrMissingFunction = errors.New("remote function not found")
)

// statusError carries the HTTP status of a failed call so the retry
// predicate can tell transient failures from permanent ones.
type statusError struct {
	status int
	fn     string
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("rpc %s: status %d: %s", e.fn, e.status, e.body)
}

func (e *statusError) Unwrap() error { return ErrRemote }

// Retryable reports whether an error from a Client call was transient.
// Exposed for tests; the client already consults it internally.
func Retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.status >= 500:
			return true
		case se.status == http.StatusTooManyRequests, se.status == http.StatusRequestTimeout:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, ErrMissingFunction) {
		return false
	}
	// Anything without a status is a transport-level failure.
	return true
}

// Client is the backend RPC client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	sem     *gate.Semaphore
	exec    *retry.Executor

	// Conflict-resolving pulls are a newer backend feature. Once the
	// backend reports the function missing we stop asking for the
	// client's lifetime.
	crUnavailable atomic.Bool
}

// New builds a Client. sem bounds concurrent in-flight calls; exec
// supplies the retry policy.
func New(baseURL, apiKey string, timeout time.Duration, sem *gate.Semaphore, exec *retry.Executor) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		sem:     sem,
		exec:    exec,
	}
}

// call invokes one RPC function with retries and decodes the response
// into out (skipped when out is nil).
func (c *Client) call(ctx context.Context, opID string, typ retry.OpType, fn string, args, out any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("rpc %s: encoding args: %w", fn, err)
	}

	return c.exec.Do(ctx, opID, typ, func(ctx context.Context) error {
		body, err := c.post(ctx, fn, payload)
		if err != nil {
			if !Retryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return retry.Permanent(fmt.Errorf("rpc %s: decoding response: %w", fn, err))
		}
		return nil
	})
}

func (c *Client) post(ctx context.Context, fn string, payload []byte) ([]byte, error) {
	if err := c.sem.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.sem.Release()

	url := c.baseURL + "/rest/v1/rpc/" + fn
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("rpc %s: building request: %w", fn, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", fn, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("rpc %s: reading response: %w", fn, err)
	}

	if resp.StatusCode == http.StatusNotFound && looksLikeMissingFunction(body) {
		return nil, fmt.Errorf("rpc %s: %w", fn, ErrMissingFunction)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{status: resp.StatusCode, fn: fn, body: truncate(string(body), 200)}
	}
	return body, nil
}

// looksLikeMissingFunction matches the PostgREST schema-cache error for a
// function that does not exist (code PGRST202).
func looksLikeMissingFunction(body []byte) bool {
	return bytes.Contains(body, []byte("PGRST202")) ||
		bytes.Contains(body, []byte("Could not find the function"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
