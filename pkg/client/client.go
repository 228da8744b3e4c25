package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/psantana5/workgate/pkg/models"
	"github.com/psantana5/workgate/pkg/retry"
)

// Client calls a workgate server
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      retry.Config
}

// Option configures a Client
type Option func(*Client)

// WithAPIKey sends the key as a bearer token
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTLSConfig sets the transport TLS configuration
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = cfg
		c.httpClient.Transport = transport
	}
}

// WithRetry replaces the retry policy
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithTimeout bounds every request. Calls to /test can legitimately wait for
// every caller queued ahead of them, so keep this generous.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		retry: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Test runs one timed invocation on the server. A failure after the request
// may have reached the handler is not retried, since a second attempt would
// queue a second unit of work.
func (c *Client) Test(ctx context.Context) (models.Result, error) {
	policy := c.retry
	policy.Retryable = retry.IsRetryableUnsent

	var result models.Result
	err := c.get(ctx, policy, "/test", &result)
	return result, err
}

// Health fetches the server health and gate state
func (c *Client) Health(ctx context.Context) (models.Health, error) {
	var health models.Health
	err := c.get(ctx, c.retry, "/health", &health)
	return health, err
}

func (c *Client) get(ctx context.Context, policy retry.Config, path string, out interface{}) error {
	return retry.Do(ctx, policy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to reach server: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	})
}
