// Package client is a Go client for the tenantfs HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fruitsalade/tenantfs/internal/fileops"
	"github.com/fruitsalade/tenantfs/internal/fserr"
)

// Error is a non-2xx answer from the server.
type Error struct {
	Status  int        `json:"status"`
	Code    fserr.Code `json:"code"`
	Message string     `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to one server as one identity.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig RetryConfig

	mu        sync.RWMutex
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig RetryConfig
	AuthToken   string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = DefaultRetryConfig()
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
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the JWT auth token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

// List lists a directory. q carries list options such as recursive=true.
func (c *Client) List(ctx context.Context, path string, q url.Values) (*fileops.ListResult, error) {
	var out fileops.ListResult
	return &out, c.get(ctx, "list", path, q, &out)
}

// Retrieve reads a file in the JSON envelope.
func (c *Client) Retrieve(ctx context.Context, path string, q url.Values) (*fileops.RetrieveResult, error) {
	var out fileops.RetrieveResult
	return &out, c.get(ctx, "retrieve", path, q, &out)
}

// Stat describes a path.
func (c *Client) Stat(ctx context.Context, path string) (*fileops.StatResult, error) {
	var out fileops.StatResult
	return &out, c.get(ctx, "stat", path, nil, &out)
}

// Size returns the byte size of a file.
func (c *Client) Size(ctx context.Context, path string) (int64, error) {
	var out fileops.SizeResult
	err := c.get(ctx, "size", path, nil, &out)
	return out.Size, err
}

// ModifyTime returns the modification time of a path.
func (c *Client) ModifyTime(ctx context.Context, path string) (*fileops.ModifyTimeResult, error) {
	var out fileops.ModifyTimeResult
	return &out, c.get(ctx, "mdtm", path, nil, &out)
}

// Store writes value. Strings are sent as text, anything else as JSON.
// Stores are not retried.
func (c *Client) Store(ctx context.Context, path string, value any, q url.Values) (*fileops.StoreResult, error) {
	var (
		body        []byte
		contentType = "text/plain; charset=utf-8"
	)
	if s, ok := value.(string); ok {
		body = []byte(s)
	} else {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		body = data
		contentType = "application/json"
	}
	var out fileops.StoreResult
	err := c.send(ctx, http.MethodPut, "store", path, q, bytes.NewReader(body), contentType, &out)
	return &out, err
}

// Delete soft deletes a record or clears a field.
func (c *Client) Delete(ctx context.Context, path string) (*fileops.DeleteResult, error) {
	var out fileops.DeleteResult
	err := c.send(ctx, http.MethodDelete, "delete", path, nil, nil, "", &out)
	return &out, err
}

func (c *Client) url(verb, path string, q url.Values) string {
	u := c.baseURL + "/api/v1/fs/" + verb + "/" + strings.TrimPrefix(path, "/")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// get issues an idempotent request, retrying network failures and 5xx.
func (c *Client) get(ctx context.Context, verb, path string, q url.Values, out any) error {
	return withRetry(ctx, c.retryConfig, func() error {
		err := c.send(ctx, http.MethodGet, verb, path, q, nil, "", out)
		if apiErr, ok := err.(*Error); ok && apiErr.Status < http.StatusInternalServerError {
			return err
		}
		return retryable(err)
	})
}

func (c *Client) send(ctx context.Context, method, verb, path string, q url.Values, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.url(verb, path, q), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", verb, err)
	}
	return nil
}
