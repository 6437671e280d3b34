package transport

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
	"time"

	"github.com/timgluz/rivretrieve/gauge"
)

const (
	DefaultUserAgent = "Mozilla/5.0"
	DefaultRetries   = 3
	DefaultBackoff   = 300 * time.Millisecond
	DefaultTimeout   = 60 * time.Second
)

var (
	ErrHTTPClientNotSet = fmt.Errorf("HTTP client not set")
	ErrNoContent        = fmt.Errorf("%w: no content available", gauge.ErrNoData)
	ErrResourceNotFound = fmt.Errorf("resource not found")
)

// StatusError reports a non-2xx answer of a portal.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed: %s", e.URL, e.Status)
}

func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return ErrResourceNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return gauge.ErrCredentials
	default:
		return gauge.ErrNetwork
	}
}

// StatusCode extracts the HTTP status of a failed request, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}

	return 0
}

type Client struct {
	client    *http.Client
	logger    *slog.Logger
	userAgent string
	retries   int
	backoff   time.Duration
}

type Option func(*Client)

func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithRetries sets how often transient failures are retried and the initial
// backoff, which doubles on every attempt.
func WithRetries(retries int, backoff time.Duration) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.retries = retries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

func NewClient(client *http.Client, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		client:    client,
		logger:    logger,
		userAgent: DefaultUserAgent,
		retries:   DefaultRetries,
		backoff:   DefaultBackoff,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) IsReady() bool {
	if c == nil {
		return false
	}

	if c.logger == nil {
		fmt.Println("Logger of transport client is not initialized")
		return false
	}

	if c.client == nil {
		c.logger.Error("HTTP client is not set for transport client")
		return false
	}

	return true
}

// RetrieveContent fetches url and returns the whole body.
func (c *Client) RetrieveContent(ctx context.Context, url string) (io.Reader, error) {
	content, err := c.Get(ctx, url, nil, nil)
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(content), nil
}

// Get performs a GET request with optional query parameters and headers.
// Transient failures are retried, 404 maps to ErrResourceNotFound and an
// empty body to ErrNoContent.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values, header http.Header) ([]byte, error) {
	content, _, err := c.GetWithHeader(ctx, rawURL, query, header)
	return content, err
}

// GetWithHeader is Get that also returns the response headers.
func (c *Client) GetWithHeader(ctx context.Context, rawURL string, query url.Values, header http.Header) ([]byte, http.Header, error) {
	if !c.IsReady() {
		return nil, nil, ErrHTTPClientNotSet
	}

	resourceURL, err := withQuery(rawURL, query)
	if err != nil {
		return nil, nil, err
	}

	var (
		content        []byte
		responseHeader http.Header
	)
	err = c.do(ctx, resourceURL, header, func(resp *http.Response) error {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("%w: failed to read content from URL %s: %v", gauge.ErrNetwork, resourceURL, readErr)
		}
		content = body
		responseHeader = resp.Header
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if len(bytes.TrimSpace(content)) == 0 {
		c.logger.Warn("No content received from URL", "url", resourceURL)
		return nil, responseHeader, ErrNoContent
	}

	c.logger.Debug("Content retrieved successfully", "url", resourceURL, "length", len(content))
	return content, responseHeader, nil
}

// GetJSON decodes the response body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, header http.Header, v any) error {
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}

	content, err := c.Get(ctx, rawURL, query, header)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("%w: failed to decode JSON from %s: %v", gauge.ErrMalformedResponse, rawURL, err)
	}

	return nil
}

// Download streams the response body into w.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	if !c.IsReady() {
		return 0, ErrHTTPClientNotSet
	}

	var written int64
	err := c.do(ctx, rawURL, nil, func(resp *http.Response) error {
		n, err := io.Copy(w, resp.Body)
		written = n
		if err != nil {
			return fmt.Errorf("%w: download of %s interrupted: %v", gauge.ErrNetwork, rawURL, err)
		}
		return nil
	})
	if err != nil {
		return written, err
	}

	c.logger.Info("Download completed", "url", rawURL, "bytes", written)
	return written, nil
}

func (c *Client) do(ctx context.Context, resourceURL string, header http.Header, consume func(*http.Response) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := c.backoff * time.Duration(1<<(attempt-1))
			c.logger.Warn("Retrying request", "url", resourceURL, "attempt", attempt, "wait", wait, "error", lastErr)

			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", gauge.ErrNetwork, ctx.Err())
			case <-time.After(wait):
			}
		}

		retry, err := c.attempt(ctx, resourceURL, header, consume)
		if err == nil {
			return nil
		}

		lastErr = err
		if !retry {
			return err
		}
	}

	c.logger.Error("Request failed after retries", "url", resourceURL, "retries", c.retries, "error", lastErr)
	return lastErr
}

func (c *Client) attempt(ctx context.Context, resourceURL string, header http.Header, consume func(*http.Response) error) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request for %s: %w", resourceURL, err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("%w: %v", gauge.ErrNetwork, ctx.Err())
		}
		return true, fmt.Errorf("%w: %v", gauge.ErrNetwork, err)
	}

	defer func(resp *http.Response) {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("Failed to close response body", "url", resourceURL, "error", err)
		}
	}(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return isTransient(resp.StatusCode), &StatusError{
			URL:        resourceURL,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	return false, consume(resp)
}

func isTransient(statusCode int) bool {
	switch statusCode {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func withQuery(rawURL string, query url.Values) (string, error) {
	if len(query) == 0 {
		return rawURL, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	q := u.Query()
	for key, values := range query {
		for _, value := range values {
			q.Add(key, value)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
