package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"zapflow/internal/metrics"
)

const (
	retryAttempts  = 3
	retryBaseDelay = time.Second
)

// HTTPClient is the shared request plumbing used by every HTTP-based
// provider adapter: metrics, status classification and bounded retry
// with exponential backoff on transient failures.
type HTTPClient struct {
	Channel string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Client  *http.Client
}

// NewHTTPClient builds the shared plumbing for one channel kind.
func NewHTTPClient(chanName string, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		Channel: chanName,
		Logger:  logger.With("component", chanName),
		Metrics: m,
		Client:  &http.Client{Timeout: timeout},
	}
}

// Do executes the request built by build, retrying transient failures.
// A 4xx response is terminal and returned wrapped in ErrTerminal with the
// response body preserved for the audit log.
func (c *HTTPClient) Do(ctx context.Context, endpoint string, build func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req = req.WithContext(ctx)

		body, err := c.once(req, endpoint)
		if err == nil {
			return body, nil
		}
		if IsTerminal(err) {
			return nil, err
		}
		lastErr = err
		c.Logger.Warn("provider request failed, retrying", "endpoint", endpoint, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("provider request exhausted retries: %w", lastErr)
}

func (c *HTTPClient) once(req *http.Request, endpoint string) ([]byte, error) {
	start := time.Now()
	res, err := c.Client.Do(req)
	if err != nil {
		if c.Metrics != nil {
			c.Metrics.ProviderRequests.WithLabelValues(c.Channel, endpoint, "error").Inc()
		}
		return nil, fmt.Errorf("%s request: %w", c.Channel, err)
	}
	defer res.Body.Close()

	statusLabel := fmt.Sprintf("%d", res.StatusCode)
	if c.Metrics != nil {
		c.Metrics.ProviderRequests.WithLabelValues(c.Channel, endpoint, statusLabel).Inc()
		c.Metrics.ProviderLatency.WithLabelValues(c.Channel, endpoint, statusLabel).Observe(time.Since(start).Seconds())
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case res.StatusCode >= 500:
		return nil, fmt.Errorf("%s error: status=%d body=%s", c.Channel, res.StatusCode, snippet(body))
	case res.StatusCode >= 400:
		return nil, fmt.Errorf("%w: %s status=%d body=%s", ErrTerminal, c.Channel, res.StatusCode, snippet(body))
	}
	return body, nil
}

// PostJSON issues a JSON POST through the retry pipeline. headers may be nil.
func (c *HTTPClient) PostJSON(ctx context.Context, url, endpoint string, payload []byte, headers map[string]string) ([]byte, error) {
	return c.Do(ctx, endpoint, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
}

// Get issues a GET through the retry pipeline. headers may be nil.
func (c *HTTPClient) Get(ctx context.Context, url, endpoint string, headers map[string]string) ([]byte, error) {
	return c.Do(ctx, endpoint, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
