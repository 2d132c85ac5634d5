package modelibr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pkgz/requester"
	"github.com/go-pkgz/requester/middleware"
)

// defaults for client configuration
const (
	defaultTimeout    = 30 * time.Second
	defaultRetryCount = 3
	defaultRetryDelay = 100 * time.Millisecond
	defaultHubPath    = "/thumbnailHub"

	maxErrorBody = 4096
)

// Client is a Modelibr API client.
type Client struct {
	baseURL   string
	hubPath   string
	token     string
	requester *requester.Requester
}

// clientConfig holds configuration options during client construction.
type clientConfig struct {
	token      string
	timeout    time.Duration
	retryCount int
	retryDelay time.Duration
	hubPath    string
	httpClient *http.Client
}

// Option is a functional option for configuring the client.
type Option func(*clientConfig)

// WithToken sets the Bearer token for authentication.
func WithToken(token string) Option {
	return func(cfg *clientConfig) {
		cfg.token = token
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.timeout = timeout
	}
}

// WithRetry configures retry behavior.
func WithRetry(count int, delay time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.retryCount = count
		cfg.retryDelay = delay
	}
}

// WithHubPath sets the path of the thumbnail notification hub, relative to the base URL.
func WithHubPath(path string) Option {
	return func(cfg *clientConfig) {
		cfg.hubPath = path
	}
}

// WithHTTPClient sets a custom http.Client.
// Note: when using WithHTTPClient, the WithTimeout option has no effect
// since timeout is configured on the http.Client directly.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *clientConfig) {
		cfg.httpClient = client
	}
}

// New creates a new Modelibr client with the given base URL and options.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}

	// normalize base URL
	baseURL = strings.TrimSuffix(baseURL, "/")

	cfg := &clientConfig{
		timeout:    defaultTimeout,
		retryCount: defaultRetryCount,
		retryDelay: defaultRetryDelay,
		hubPath:    defaultHubPath,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	var middlewares []middleware.RoundTripperHandler
	if cfg.retryCount > 0 {
		middlewares = append(middlewares, middleware.Retry(cfg.retryCount, cfg.retryDelay))
	}
	if cfg.token != "" {
		middlewares = append(middlewares, middleware.Header("Authorization", "Bearer "+cfg.token))
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.timeout}
	}

	return &Client{
		baseURL:   baseURL,
		hubPath:   "/" + strings.TrimPrefix(cfg.hubPath, "/"),
		token:     cfg.token,
		requester: requester.New(*httpClient, middlewares...),
	}, nil
}

// BaseURL returns the normalized base URL of the API.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping checks server connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

// doJSON sends an optional JSON body to path and decodes the JSON response into out (if not nil).
// path may contain a query string.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// upload sends a multipart form with the file under "file" plus extra string fields.
func (c *Client) upload(ctx context.Context, path, filePath string, fields map[string]string, out any) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // test assets with controlled paths
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("file is empty: %s", filePath)
	}

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err = fw.Write(data); err != nil {
		return fmt.Errorf("failed to write form file: %w", err)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err = mw.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err = mw.Close(); err != nil {
		return fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.requester.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// checkResponse handles HTTP response status codes and returns appropriate errors.
// The response body is attached to errors so failures carry what the backend said.
func (c *Client) checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	body := strings.TrimSpace(string(raw))

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case http.StatusForbidden:
		sentinel = ErrForbidden
	case http.StatusConflict:
		sentinel = ErrConflict
	default:
		return &ResponseError{StatusCode: resp.StatusCode, Body: body}
	}
	if body == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, body)
}
