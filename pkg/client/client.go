// Package client provides an HTTP client for the treemirror API with retry,
// online tracking and a remote update source.
package client

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/treemirror/pkg/protocol"
	"github.com/fruitsalade/treemirror/pkg/retry"
)

// Client provides HTTP client with retry and online tracking.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	logger      *zap.Logger

	mu        sync.RWMutex
	online    bool
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
	Logger      *zap.Logger
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		logger:      cfg.Logger,
		online:      true,
		authToken:   cfg.AuthToken,
	}
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetAuthToken sets the bearer token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

// applyAuth adds the auth header to a request if a token is set.
func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// IsOnline returns true if the server is reachable.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			c.logger.Info("server is back online", zap.String("url", c.baseURL))
		} else {
			c.logger.Error("server is offline", zap.String("url", c.baseURL))
		}
	}
	c.online = online
}

// Ping checks that the server answers its health check and returns the
// round-trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return 0, err
	}
	c.applyAuth(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return 0, err
	}
	defer resp.Body.Close()
	rtt := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return rtt, decodeError(resp)
	}

	c.setOnline(true)
	return rtt, nil
}

// FetchTree fetches the mirrored tree, or the subtree at path when path is
// not empty.
func (c *Client) FetchTree(ctx context.Context, path string) (*protocol.TreeResponse, error) {
	endpoint := "/api/v1/tree"
	if p := strings.Trim(path, "/"); p != "" {
		endpoint += "/" + escapePath(p)
	}
	var resp protocol.TreeResponse
	if err := c.getJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Find runs the server-side file finder.
func (c *Client) Find(ctx context.Context, query string, limit int) (*protocol.FindResponse, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp protocol.FindResponse
	if err := c.getJSON(ctx, "/api/v1/find", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats fetches tree and synchronization counters.
func (c *Client) Stats(ctx context.Context) (*protocol.StatsResponse, error) {
	var resp protocol.StatsResponse
	if err := c.getJSON(ctx, "/api/v1/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept-Encoding", "gzip")
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			c.setOnline(false)
			return retry.Retryable(decodeError(resp))
		}
		c.setOnline(true)
		if resp.StatusCode != http.StatusOK {
			return decodeError(resp)
		}

		var reader io.Reader = resp.Body
		if resp.Header.Get("Content-Encoding") == "gzip" {
			gr, err := gzip.NewReader(resp.Body)
			if err != nil {
				return err
			}
			defer gr.Close()
			reader = gr
		}
		if err := json.NewDecoder(reader).Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", endpoint, err)
		}
		return nil
	})
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body protocol.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
