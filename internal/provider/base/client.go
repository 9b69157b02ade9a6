// Package base provides the retrying HTTP transport shared by all provider
// adapters. It knows nothing about payment semantics: retryable statuses
// are retried, other non-2xx responses are returned to the caller as normal
// results to interpret.
package base

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 600 * time.Millisecond
	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 30 * time.Second
)

// Config tunes a Client. Zero values use the defaults above.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Client executes outbound HTTP calls with bounded retries and exponential
// backoff, honoring Retry-After hints. A per-client circuit breaker stops
// hammering a provider that is hard down.
type Client struct {
	name           string
	http           *http.Client
	maxRetries     int
	initialBackoff time.Duration
	breaker        *gobreaker.CircuitBreaker
}

func NewClient(name string, cfg Config) *Client {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
	}

	return &Client{
		name:           name,
		http:           &http.Client{Transport: transport, Timeout: cfg.ReadTimeout},
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: name,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Response is a completed HTTP exchange.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// TransportError is a network-level failure after exhausting retries, or a
// call refused by an open circuit breaker.
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Do executes the request with retries. Callers needing a hard deadline
// bound ctx; a single call may block for the sum of all backoff delays.
func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string, jsonBody any) (*Response, error) {
	var body []byte
	if jsonBody != nil {
		var err error
		body, err = json.Marshal(jsonBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	out, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.doWithRetries(ctx, method, url, headers, body)
		if err != nil {
			return nil, err
		}
		// A 5xx that survived the whole retry budget means the provider is
		// degraded; the breaker must count it even though the caller still
		// gets the response to interpret.
		if resp.StatusCode >= 500 {
			return resp, errServerDegraded
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, errServerDegraded) {
			return out.(*Response), nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransportError{URL: url, Err: err}
		}
		return nil, err
	}
	return out.(*Response), nil
}

// errServerDegraded flags an exhausted-retries 5xx inside the breaker so
// it registers as a failure; Do strips it before returning.
var errServerDegraded = errors.New("server error after exhausting retries")

func (c *Client) doWithRetries(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	var lastErr error
	attempts := c.maxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.attempt(ctx, method, url, headers, body, attempt, attempts)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, &TransportError{URL: url, Attempts: attempt, Err: ctx.Err()}
			}
			if attempt < attempts {
				if err := sleep(ctx, bo.NextBackOff()); err != nil {
					return nil, &TransportError{URL: url, Attempts: attempt, Err: err}
				}
				continue
			}
			return nil, &TransportError{URL: url, Attempts: attempt, Err: lastErr}
		}

		if retryable(resp.StatusCode) && attempt < attempts {
			delay := bo.NextBackOff()
			if ra := retryAfter(resp.Headers); ra > 0 {
				delay = ra
			}
			log.Warn().
				Str("client", c.name).
				Str("url", url).
				Int("status", resp.StatusCode).
				Dur("retry_in", delay).
				Msg("retryable response, backing off")
			if err := sleep(ctx, delay); err != nil {
				return nil, &TransportError{URL: url, Attempts: attempt, Err: err}
			}
			continue
		}

		// Non-retryable statuses, and retryable ones with the budget spent,
		// are the caller's to interpret.
		return resp, nil
	}

	return nil, &TransportError{URL: url, Attempts: attempts, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, method, url string, headers map[string]string, body []byte, attempt, total int) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	log.Info().
		Str("client", c.name).
		Str("method", method).
		Str("url", url).
		Int("attempt", attempt).
		Int("max_attempts", total).
		Msg("http request")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Error().
			Str("client", c.name).
			Str("url", url).
			Int("attempt", attempt).
			Err(err).
			Msg("http request failed")
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	log.Info().
		Str("client", c.name).
		Str("url", url).
		Int("attempt", attempt).
		Int("status", resp.StatusCode).
		Msg("http response")

	return &Response{StatusCode: resp.StatusCode, Body: respBody, Headers: resp.Header}, nil
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
