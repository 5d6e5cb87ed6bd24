// Package fetch retrieves provider responses over HTTP and resolves them
// through the on-disk cache.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	defaultUserAgent = "epggen/0.1"
	defaultMaxBody   = 64 << 20
	defaultTimeout   = 60 * time.Second
	// errorBodyLimit caps how much of a non-2xx body is kept for the error.
	errorBodyLimit = 4096
)

// ErrBodyTooLarge is returned when a response exceeds the configured body cap.
var ErrBodyTooLarge = errors.New("response body too large")

// Getter performs one HTTP GET and returns the response body.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

// Client performs single-attempt HTTP GETs. Retrying is the Pipeline's job.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
	maxBody    int64
}

// NewClient creates a new HTTP client with the given logger.
func NewClient(logger *slog.Logger, opts ClientOptions) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	return &Client{
		httpClient: newHTTPClient(opts.Timeout),
		logger:     logger,
		userAgent:  opts.UserAgent,
		maxBody:    opts.MaxBodyBytes,
	}
}

// Get fetches url and returns its body. Non-2xx responses yield *HTTPError.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := readBody(resp.Body, errorBodyLimit)
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	data, err := readBody(resp.Body, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	c.logger.Debug("http get", "url", url, "status", resp.StatusCode, "bytes", len(data))
	return data, nil
}

// newHTTPClient builds the transport shared by both schedule sites. Requests
// are issued one at a time, so a couple of idle connections per host is
// enough to keep the paged index and per-day requests on warm connections.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	headerTimeout := 30 * time.Second
	if timeout < headerTimeout {
		headerTimeout = timeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 20 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			TLSHandshakeTimeout:   15 * time.Second,
			ResponseHeaderTimeout: headerTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          4,
			MaxIdleConnsPerHost:   2,
		},
	}
}

// readBody reads at most limit bytes of r and fails with ErrBodyTooLarge when
// more is available.
func readBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid body limit: %d", limit)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// IsRateLimited reports whether err is the server asking us to slow down.
func IsRateLimited(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests
}
