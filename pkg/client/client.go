// Package client is a typed HTTP client for the warden serve API. It exposes
// the manager's operation set so a short-lived CLI invocation can delegate to
// a running daemon instead of touching the state directory itself.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds client configuration.
type Config struct {
	// BaseURL points at the API group root, e.g. "http://127.0.0.1:8420/api".
	BaseURL string
	// Timeout applies to the default HTTP client; ignored when HTTPClient
	// is set.
	Timeout time.Duration
	// HTTPClient overrides the default client, e.g. for custom transports
	// or TLS setups.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultConfig matches a local `warden serve` started with default flags.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8420/api",
		Timeout: 10 * time.Second,
	}
}

// Client talks to a warden serve daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New creates an API client. Zero-value config fields fall back to
// DefaultConfig.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpc,
		logger:  cfg.Logger,
	}
}

// APIError is a decoded non-2xx response. Callers can branch on StatusCode;
// IsNotFound and IsAlreadyRunning cover the common cases.
type APIError struct {
	StatusCode int
	Message    string
	// PID carries the live PID from an already-running conflict.
	PID int
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return e.Message
}

// IsNotFound reports whether err is the API's unknown-service response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsAlreadyRunning reports whether err is the API's already-running conflict.
func IsAlreadyRunning(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// IsReachable reports whether a daemon answers at the configured base URL.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/services", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "url", c.baseURL, "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Start launches a service on the daemon. An already-running conflict
// returns the live PID together with the error, matching the local manager.
func (c *Client) Start(ctx context.Context, svc Service) (int, error) {
	var out pidResult
	if err := c.do(ctx, http.MethodPost, "/services/start", nil, svc, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.PID, err
		}
		return 0, err
	}
	return out.PID, nil
}

// Stop terminates a service. Zero timeout means the daemon's graceful
// default. Unknown names succeed, matching the local manager.
func (c *Client) Stop(ctx context.Context, name string, timeout time.Duration) error {
	return c.do(ctx, http.MethodPost, "/services/stop", nameQuery(name, timeout), nil, nil)
}

// Restart stops and starts a service from its stored snapshot and returns
// the new PID.
func (c *Client) Restart(ctx context.Context, name string, timeout time.Duration) (int, error) {
	var out pidResult
	if err := c.do(ctx, http.MethodPost, "/services/restart", nameQuery(name, timeout), nil, &out); err != nil {
		return 0, err
	}
	return out.PID, nil
}

// Status returns the reconciled record for one service. Unknown names are an
// IsNotFound error.
func (c *Client) Status(ctx context.Context, name string) (Record, error) {
	var rec Record
	err := c.do(ctx, http.MethodGet, "/services", url.Values{"name": {name}}, nil, &rec)
	return rec, err
}

// List returns the reconciled record of every service the daemon knows.
func (c *Client) List(ctx context.Context) ([]Record, error) {
	var recs []Record
	err := c.do(ctx, http.MethodGet, "/services", nil, nil, &recs)
	return recs, err
}

// Info returns the record plus process stats for one service.
func (c *Client) Info(ctx context.Context, name string) (Info, error) {
	var info Info
	err := c.do(ctx, http.MethodGet, "/services/info", url.Values{"name": {name}}, nil, &info)
	return info, err
}

// Logs returns the captured output tails. lines 0 means the daemon default,
// negative means everything.
func (c *Client) Logs(ctx context.Context, name string, lines int) (LogBundle, error) {
	q := url.Values{"name": {name}}
	if lines != 0 {
		q.Set("lines", strconv.Itoa(lines))
	}
	var bundle LogBundle
	err := c.do(ctx, http.MethodGet, "/services/logs", q, nil, &bundle)
	return bundle, err
}

// Health runs the service's configured health check on the daemon. A nil
// result with nil error means the service has no health check configured.
func (c *Client) Health(ctx context.Context, name string) (*bool, error) {
	var out healthResult
	if err := c.do(ctx, http.MethodPost, "/services/health", url.Values{"name": {name}}, nil, &out); err != nil {
		return nil, err
	}
	return out.Healthy, nil
}

// Cleanup reconciles daemon records against OS reality and reports how many
// were corrected.
func (c *Client) Cleanup(ctx context.Context) (int, error) {
	var out cleanupResult
	if err := c.do(ctx, http.MethodPost, "/cleanup", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Corrected, nil
}

type pidResult struct {
	PID int `json:"pid"`
}

type healthResult struct {
	Healthy *bool `json:"healthy"`
}

type cleanupResult struct {
	Corrected int `json:"corrected"`
}

func nameQuery(name string, timeout time.Duration) url.Values {
	q := url.Values{"name": {name}}
	if timeout > 0 {
		q.Set("timeout", timeout.String())
	}
	return q
}

// do performs one API request: optional JSON body in, optional JSON decode
// out, non-2xx responses decoded into APIError.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "url", u, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		return c.apiError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) apiError(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: er.Error, PID: er.PID}
}
