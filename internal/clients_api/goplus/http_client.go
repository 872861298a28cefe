package goplus

// Client for the GoPlus token security API.
// Sends GET requests with a rate limiter, a circuit breaker and the shared retry module.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"onion-alerts/internal/infra/log"
	"onion-alerts/internal/infra/retry"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.gopluslabs.io/api/v1"

var goplusRetry = retry.Options{
	MaxRetries: 2,
	BaseDelay:  500 * time.Millisecond,
	MaxDelay:   5 * time.Second,
	Backoff:    2.0,
}

type Client struct {
	baseURL        string
	httpClient     *http.Client
	rateLimiter    *rate.Limiter
	circuitBreaker *gobreaker.CircuitBreaker
	retryOptions   retry.Options
}

// NewClient builds a client. The free tier allows roughly 30 calls a minute.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(rate.Every(2*time.Second), 2),
		circuitBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "GoPlusAPI",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 3
			},
		}),
		retryOptions: goplusRetry,
	}
}

// WithRetry overrides retry options (tests use tiny delays).
func (c *Client) WithRetry(o retry.Options) *Client {
	c.retryOptions = o
	return c
}

// WithRateLimit replaces the limiter.
func (c *Client) WithRateLimit(l *rate.Limiter) *Client {
	c.rateLimiter = l
	return c
}

func (c *Client) doGET(ctx context.Context, endpoint string) ([]byte, error) {
	requestID := log.GenerateRequestID()
	start := time.Now()

	var respBody []byte
	err := retry.Do(ctx, c.retryOptions, func() error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		out, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
			if err != nil {
				return nil, retry.Permanent(err)
			}
			req.Header.Set("Accept", "application/json")
			log.LogRequest(requestID, http.MethodGet, endpoint)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				log.LogResponse(requestID, 0, time.Since(start).Milliseconds(), zap.String("endpoint", endpoint), zap.Error(err))
				return nil, err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
			if err != nil {
				return nil, err
			}
			log.LogResponse(requestID, resp.StatusCode, time.Since(start).Milliseconds(), zap.String("endpoint", endpoint))

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
		return nil, fmt.Errorf("goplus GET failed: %w", err)
	}
	return respBody, nil
}
