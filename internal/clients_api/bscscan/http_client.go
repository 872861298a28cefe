package bscscan

// HTTP client for the BscScan (Etherscan-compatible) API.
// Sends GET requests with a rate limiter, a circuit breaker and the shared retry module.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"onion-alerts/internal/infra/log"
	"onion-alerts/internal/infra/retry"
)

const (
	DefaultBaseURL  = "https://api.bscscan.com/api"
	maxResponseSize = 4 * 1024 * 1024
)

var bscscanHTTPTimeout = 10 * time.Second
var bscscanRetry = retry.Options{
	MaxRetries: 3,
	BaseDelay:  300 * time.Millisecond,
	MaxDelay:   5 * time.Second,
	Backoff:    2.0,
}

type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	rateLimiter    *rate.Limiter
	circuitBreaker *gobreaker.CircuitBreaker
	retry          retry.Options
}

// NewClient builds a client. The free API tier allows 5 calls a second.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: bscscanHTTPTimeout},
		rateLimiter: rate.NewLimiter(rate.Limit(5), 1),
		circuitBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "BscScanAPI",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.LogWarn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
		retry: bscscanRetry,
	}
}

// WithRetry overrides retry options (tests use tiny delays).
func (c *Client) WithRetry(o retry.Options) *Client {
	c.retry = o
	return c
}

// WithRateLimit replaces the limiter.
func (c *Client) WithRateLimit(l *rate.Limiter) *Client {
	c.rateLimiter = l
	return c
}

func (c *Client) doGET(ctx context.Context, url string) ([]byte, error) {
	var respBody []byte
	err := retry.Do(ctx, c.retry, func() error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		out, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, retry.Permanent(err)
			}
			req.Header.Set("Accept", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
			if err != nil {
				return nil, err
			}

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, &retry.HTTPError{
					StatusCode: resp.StatusCode,
					Body:       body,
					RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
				}
			}
			return body, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return retry.Permanent(err)
		}
		if err != nil {
			return err
		}
		respBody = out.([]byte)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bscscan GET failed: %w", err)
	}
	return respBody, nil
}
