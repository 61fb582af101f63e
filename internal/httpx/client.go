// Package httpx issues HTTP requests to the staking API with browser-like
// headers, per-status retry schedules and proxy rotation.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ligun0805/pharos-autostake/internal/metrics"
	"github.com/ligun0805/pharos-autostake/internal/proxy"
	"github.com/ligun0805/pharos-autostake/internal/retry"
)

const (
	DefaultRetries = 5
	// RetryDelay is the wait between attempts for everything except 429.
	RetryDelay = 5 * time.Second
	// RateLimitBase is multiplied by 2^attempt after a 429.
	RateLimitBase = 2000 * time.Millisecond

	maxBodyBytes = 8 << 20
)

// StatusError is a non-2xx response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

// Request describes one logical call. Body, when non-nil, is sent as JSON.
// A Headers entry with an empty value removes that header.
type Request struct {
	Method  string
	URL     string
	Body    any
	Headers map[string]string
}

// Client sends requests through the current proxy. The zero value is usable
// and sends requests directly.
type Client struct {
	Pool    *proxy.Pool
	Rotate  bool
	Timeout time.Duration
	// Limiter throttles every outbound attempt when set.
	Limiter *rate.Limiter
	// Origin fills the Origin and Referer headers.
	Origin string

	Sleep     func(ctx context.Context, d time.Duration) error
	UserAgent func() string
	Logf      func(format string, args ...any)
	// Transport builds the HTTP client for a proxy; defaults to proxy.NewHTTPClient.
	Transport func(proxyURL string, timeout time.Duration) (*http.Client, error)
}

func (c *Client) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 60 * time.Second
}

func (c *Client) userAgent() string {
	if c.UserAgent != nil {
		return c.UserAgent()
	}
	return RandomUserAgent()
}

func (c *Client) httpClient(proxyURL string) (*http.Client, error) {
	if c.Transport != nil {
		return c.Transport(proxyURL, c.timeout())
	}
	return proxy.NewHTTPClient(proxyURL, c.timeout())
}

func (c *Client) headers(extra map[string]string, hasBody bool) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "id-ID,id;q=0.9,en-US;q=0.8,en;q=0.7")
	if c.Origin != "" {
		h.Set("Origin", c.Origin)
		h.Set("Referer", strings.TrimSuffix(c.Origin, "/")+"/")
	}
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-site")
	h.Set("User-Agent", c.userAgent())
	if hasBody {
		h.Set("Content-Type", "application/json")
	}
	for k, v := range extra {
		if v == "" {
			h.Del(k)
			continue
		}
		h.Set(k, v)
	}
	return h
}

// Do sends req, retrying up to retries attempts. A 429 waits 2^attempt*2s and
// rotates the proxy; a 404 is retried once immediately without Authorization;
// any other failure rotates the proxy and waits RetryDelay.
func (c *Client) Do(ctx context.Context, req Request, proxyURL string, retries int) ([]byte, error) {
	if retries <= 0 {
		retries = DefaultRetries
	}
	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = b
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	headers := c.headers(req.Headers, payload != nil)
	current := proxyURL
	strippedAuth := false

	policy := retry.Policy{
		Attempts: retries,
		Sleep:    c.Sleep,
		Backoff: func(attempt int, err error) time.Duration {
			if IsStatus(err, http.StatusTooManyRequests) {
				d := retry.Exponential(RateLimitBase)(attempt, err)
				c.logf("System | Warning: Rate limit hit (429), retrying after %dms", d.Milliseconds())
				return d
			}
			return RetryDelay
		},
		OnRetry: func(attempt int, err error) {
			reason := "error"
			var se *StatusError
			if errors.As(err, &se) {
				reason = strconv.Itoa(se.Status)
			}
			metrics.HTTPRetries.WithLabelValues(reason).Inc()
			if c.Rotate && c.Pool.Len() > 1 {
				current = c.Pool.Next(current)
				metrics.ProxyRotations.Inc()
			}
		},
	}

	body, err := retry.DoValue(ctx, policy, func(ctx context.Context, attempt int) ([]byte, error) {
		b, err := c.send(ctx, method, req.URL, payload, headers, current)
		if err != nil {
			c.logf("System | Warning: API request failed (attempt %d/%d): %v", attempt, retries, err)
		}
		if IsStatus(err, http.StatusNotFound) && !strippedAuth && headers.Get("Authorization") != "" {
			c.logf("System | Warning: API request failed with 404, retrying without Authorization")
			headers.Del("Authorization")
			strippedAuth = true
			b, err = c.send(ctx, method, req.URL, payload, headers, current)
			if err != nil {
				c.logf("System | Warning: Retry without Authorization failed: %v", err)
			}
		}
		return b, err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// FetchText is a GET returning the body as a string.
func (c *Client) FetchText(ctx context.Context, url, proxyURL string, retries int) (string, error) {
	b, err := c.Do(ctx, Request{Method: http.MethodGet, URL: url}, proxyURL, retries)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte, headers http.Header, proxyURL string) ([]byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	hc, err := c.httpClient(proxyURL)
	if err != nil {
		return nil, err
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	hreq.Header = headers.Clone()

	resp, err := hc.Do(hreq)
	if err != nil {
		metrics.APIRequests.WithLabelValues("transport_error").Inc()
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.APIRequests.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, Message: serverMessage(data, resp.Status)}
	}
	return data, nil
}

// serverMessage prefers the API's {"msg": "..."} field.
func serverMessage(body []byte, fallback string) string {
	var m struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(body, &m) == nil && m.Msg != "" {
		return m.Msg
	}
	return fallback
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
