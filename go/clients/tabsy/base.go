// Package tabsy is the Go client for the table session API. It speaks
// the response envelope, decodes wire error codes back into the shared
// taxonomy, retries server errors with bounded backoff, and deduplicates
// concurrent identical reads.
package tabsy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tabsyteam/tabsy-core/go/internal/apperr"
)

const (
	// SessionIDHeader carries the caller's guest session identity
	SessionIDHeader = "x-session-id"

	defaultTimeout  = 30 * time.Second
	maxAttempts     = 4
	initialBackoff  = 250 * time.Millisecond
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apperr.Error   `json:"error"`
}

// BaseClient handles transport, the envelope and the retry policy
type BaseClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewBaseClient(baseURL string) *BaseClient {
	return &BaseClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: defaultTimeout,
		},
		headers: make(map[string]string),
	}
}

func (c *BaseClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *BaseClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// Do performs one API call. Server errors (5xx) and transport failures
// are retried with exponential backoff up to a small bounded attempt
// count; taxonomy errors (4xx) are returned immediately as *apperr.Error.
func (c *BaseClient) Do(ctx context.Context, method, endpoint string, reqBody any, out any) error {
	var payload []byte
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err := c.doOnce(ctx, method, endpoint, payload, out)
		if err == nil {
			return nil
		}
		if !apperr.IsRetryable(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *BaseClient) doOnce(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Server("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Server("failed to read response body: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode >= 500 {
			return apperr.Server("server returned status %d", resp.StatusCode)
		}
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if !env.Success {
		if env.Error != nil {
			return env.Error
		}
		return apperr.Server("server returned status %d with no error detail", resp.StatusCode)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

func (c *BaseClient) Get(ctx context.Context, endpoint string, out any) error {
	return c.Do(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *BaseClient) Post(ctx context.Context, endpoint string, reqBody, out any) error {
	return c.Do(ctx, http.MethodPost, endpoint, reqBody, out)
}

func (c *BaseClient) Patch(ctx context.Context, endpoint string, reqBody, out any) error {
	return c.Do(ctx, http.MethodPatch, endpoint, reqBody, out)
}

func (c *BaseClient) Delete(ctx context.Context, endpoint string, out any) error {
	return c.Do(ctx, http.MethodDelete, endpoint, nil, out)
}
