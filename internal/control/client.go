package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"tools.zach/dev/cutpresence/internal/engine"
)

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// StatusError is a non-2xx answer from the daemon.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("daemon returned %d", e.Code)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Code, e.Body)
}

// Client talks to a running daemon's control API.
type Client struct {
	base string
	http *retryablehttp.Client
}

// NewClient returns a client for the daemon listening on addr
// (host:port, or a full http:// URL).
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	hc := retryablehttp.NewClient()
	hc.RetryMax = 2
	hc.RetryWaitMin = 100 * time.Millisecond
	hc.RetryWaitMax = time.Second
	hc.HTTPClient.Timeout = 5 * time.Second
	hc.Logger = nil // suppress retryablehttp's default logging
	hc.CheckRetry = checkRetry
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

// checkRetry retries connection errors and 5xx, but not a rate limit: its
// window is a minute, far beyond a CLI's patience.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Health checks that the daemon answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil)
}

// Status fetches the engine status.
func (c *Client) Status(ctx context.Context) (*engine.Status, error) {
	var st engine.Status
	if err := c.do(ctx, http.MethodGet, "/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Enable asks the daemon to publish.
func (c *Client) Enable(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/enable", nil)
}

// Disable asks the daemon to clear and stop publishing.
func (c *Client) Disable(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/disable", nil)
}

// Refresh asks the daemon to reconcile now.
func (c *Client) Refresh(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/refresh", nil)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
