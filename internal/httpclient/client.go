// Package httpclient wraps net/http with the timeouts, headers, status checks and
// retry policy shared by every outbound call of the harvester.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 8 << 20
)

// ErrBodyTooLarge is returned when a response exceeds Config.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// Config controls the adapter behavior.
type Config struct {
	// Timeout bounds a single attempt.
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	Transport    http.RoundTripper
	Retry        RetryPolicy
}

// Request describes one outbound call.
type Request struct {
	Method string
	URL    string
	// Body is JSON-encoded when non-nil.
	Body          any
	Authorization string
	Header        http.Header
}

// Response is a fully read, status-checked response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// Client performs outbound requests.
type Client struct {
	http   *http.Client
	cfg    Config
	retry  RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Transport == nil {
		cfg.Transport = NewTransport()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		// The deadline is carried by the request context; no client-level timeout.
		http: &http.Client{
			Transport: cfg.Transport,
		},
		cfg:    cfg,
		retry:  cfg.Retry,
		logger: logger,
		sleep:  sleepContext,
	}
}

// WithoutRetry returns a copy of the client that never repeats a request.
func (c *Client) WithoutRetry() *Client {
	clone := *c
	clone.retry = nil
	return &clone
}

// Transport exposes the round tripper shared by every request.
func (c *Client) Transport() http.RoundTripper {
	return c.cfg.Transport
}

// UserAgent returns the configured User-Agent header value.
func (c *Client) UserAgent() string {
	return c.cfg.UserAgent
}

// Timeout returns the per-attempt timeout.
func (c *Client) Timeout() time.Duration {
	return c.cfg.Timeout
}

// Head issues a HEAD request with an optional Authorization header.
func (c *Client) Head(ctx context.Context, url, authorization string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodHead, URL: url, Authorization: authorization})
}

// GetJSON issues a GET and decodes a non-empty JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url, authorization string, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, URL: url, Authorization: authorization})
	if err != nil {
		return err
	}
	return decodeJSON(resp, out)
}

// PostJSON sends body as JSON and decodes a non-empty JSON response into out.
func (c *Client) PostJSON(ctx context.Context, url string, body, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, URL: url, Body: body})
	if err != nil {
		return err
	}
	return decodeJSON(resp, out)
}

func decodeJSON(resp *Response, out any) error {
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// Do executes the request, retrying transient failures according to the policy.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var payload []byte
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = data
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.attempt(ctx, req, payload)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || c.retry == nil || !c.retry.ShouldRetry(err, attempt) {
			return nil, err
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Warn("retrying request",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (c *Client) attempt(ctx context.Context, req Request, payload []byte) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if req.Authorization != "" {
		httpReq.Header.Set("Authorization", req.Authorization)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed below

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > c.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("%s %s: %w (%d bytes)", req.Method, req.URL, ErrBodyTooLarge, c.cfg.MaxBodyBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: req.Method, URL: req.URL, StatusCode: resp.StatusCode}
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

// IsTimeout reports whether err stems from a deadline or a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// NewTransport returns a pooled transport suited to many short requests against one host.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
