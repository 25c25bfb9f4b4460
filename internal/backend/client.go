// Package backend implements the pooled HTTP client the tool layer uses
// to reach the upstream context-memory service: a shared connection
// pool, a connectivity probe, and a bounded exponential-backoff retry
// loop with jitter that short-circuits on 4xx responses.
package backend

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

const maxResponseBodyBytes = 64 * 1024

// RetryConfig bounds the exponential-backoff retry loop.
type RetryConfig struct {
	MaxRetries int
	Base       time.Duration
	Cap        time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, Base: time.Second, Cap: 10 * time.Second}
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	APIKey         string // may be "prefix:user:role:flag"; only prefix is sent
	RequestTimeout time.Duration
	MaxIdleConns   int
	MaxIdlePerHost int
	Retry          RetryConfig

	// InstrumentTransport, when non-nil, wraps the pool-tuned
	// *http.Transport before it is installed on the client — the seam
	// internal/otelcfg uses to add tracing spans around outbound backend
	// calls without this package importing tracing itself.
	InstrumentTransport func(http.RoundTripper) http.RoundTripper
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		RequestTimeout: 30 * time.Second,
		MaxIdleConns:   100,
		MaxIdlePerHost: 30,
		Retry:          DefaultRetryConfig(),
	}
}

// Client is a single long-lived pooled HTTP client with a mutex-guarded
// connect probe, matching spec.md §4.D.
type Client struct {
	cfg        Config
	httpClient *http.Client
	apiKeyPrefix string

	connMu      sync.Mutex
	connected   bool
	lastRequestFailed bool
}

// New builds a Client with a shared, pool-tuned http.Transport.
func New(cfg Config) *Client {
	var transport http.RoundTripper = &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdlePerHost,
		MaxConnsPerHost:     cfg.MaxIdlePerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.InstrumentTransport != nil {
		transport = cfg.InstrumentTransport(transport)
	}
	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
		apiKeyPrefix: apiKeyPrefix(cfg.APIKey),
	}
}

// apiKeyPrefix extracts the segment before the first colon, per
// spec.md §4.D: the configured key may be "prefix:user:role:flag" and
// only the prefix is ever sent upstream.
func apiKeyPrefix(key string) string {
	if key == "" {
		return ""
	}
	prefix, _, found := strings.Cut(key, ":")
	if !found {
		return key
	}
	return prefix
}

// Connect performs the GET /health probe required before first use.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.probeLocked(ctx)
}

func (c *Client) probeLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("backend: build health probe: %w", err)
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.connected = false
		return fmt.Errorf("backend: health probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	c.connected = resp.StatusCode < 500
	if !c.connected {
		return fmt.Errorf("backend: health probe returned status %d", resp.StatusCode)
	}
	return nil
}

// Connected reports the last known connectivity state.
func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connected
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKeyPrefix != "" {
		req.Header.Set("X-API-Key", c.apiKeyPrefix)
	}
}

// Error is returned for any non-2xx backend response; the tool layer
// maps it onto the "backend_error"/veris_memory_error tool-result shape.
type Error struct {
	StatusCode int
	Body       []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, truncate(string(e.Body), 500))
}

func (e *Error) Retryable() bool {
	return e.StatusCode >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// doOnce issues a single HTTP attempt; it reconnects first if the prior
// request failed, per spec.md §4.D's "re-probes if a prior request
// failed".
func (c *Client) doOnce(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	c.connMu.Lock()
	needsProbe := !c.connected || c.lastRequestFailed
	c.connMu.Unlock()
	if needsProbe {
		c.connMu.Lock()
		_ = c.probeLocked(ctx)
		c.connMu.Unlock()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("backend: marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("backend: build request: %w", err)
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.markFailed(true)
		return nil, 0, fmt.Errorf("backend: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := readLimited(resp.Body)
	if err != nil {
		c.markFailed(true)
		return nil, resp.StatusCode, fmt.Errorf("backend: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.markFailed(resp.StatusCode >= 500)
		return respBody, resp.StatusCode, &Error{StatusCode: resp.StatusCode, Body: respBody}
	}

	c.markFailed(false)
	return respBody, resp.StatusCode, nil
}

func (c *Client) markFailed(failed bool) {
	c.connMu.Lock()
	c.lastRequestFailed = failed
	c.connMu.Unlock()
}

func readLimited(r io.Reader) ([]byte, error) {
	limited := io.LimitReader(r, maxResponseBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(body) > maxResponseBodyBytes {
		body = body[:maxResponseBodyBytes]
	}
	return body, nil
}

// jitteredDelay computes min(base*2^attempt + U(0,1), cap), per
// spec.md §4.D.
func jitteredDelay(cfg RetryConfig, attempt int) time.Duration {
	backoff := float64(cfg.Base) * math.Pow(2, float64(attempt))
	jitter := randUnitFloat()
	delay := time.Duration(backoff) + time.Duration(jitter*float64(time.Second))
	if delay > cfg.Cap {
		delay = cfg.Cap
	}
	return delay
}

func randUnitFloat() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}

// Do issues a request with retry-with-jitter applied when retryable is
// true: up to MaxRetries retries after the first attempt on any error
// except a 4xx response, per spec.md §4.D.
func (c *Client) Do(ctx context.Context, method, path string, body any, retryable bool) ([]byte, error) {
	if !retryable {
		respBody, _, err := c.doOnce(ctx, method, path, body)
		return respBody, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitteredDelay(c.cfg.Retry, attempt-1)):
			}
		}

		respBody, _, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			return respBody, nil
		}
		if be, ok := err.(*Error); ok && !be.Retryable() {
			return respBody, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// PostJSON is a convenience wrapper decoding the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body any, retryable bool, out any) error {
	raw, err := c.Do(ctx, http.MethodPost, path, body, retryable)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// GetJSON issues a GET request and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	raw, err := c.Do(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
