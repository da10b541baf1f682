package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ClientOptions tunes the outbound client of a platform adapter.
type ClientOptions struct {
	// BaseURL overrides the platform API host.
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	RateLimit   float64
	RateBurst   int
}

func ClientOptionsFromConfig(p config.Publishing) ClientOptions {
	return ClientOptions{
		Timeout:     p.RequestTimeout,
		MaxAttempts: p.RetryMaxAttempts,
		BaseDelay:   p.RetryBaseDelay,
		RateLimit:   p.RateLimit,
		RateBurst:   p.RateBurst,
	}
}

// apiClient wraps resty with a rate limiter, a circuit breaker and bounded
// retries of transient failures. Every platform adapter owns one.
type apiClient struct {
	platform    models.Platform
	http        *resty.Client
	breaker     *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
}

func newAPIClient(platform models.Platform, defaultBaseURL string, opts ClientOptions) *apiClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "postflow/1.0")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(platform),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only outages trip the breaker; rejected content is the caller's problem.
		IsSuccessful: func(err error) bool {
			return err == nil || !apperror.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("platform circuit breaker state changed", "platform", name, "from", from.String(), "to", to.String())
		},
	})

	return &apiClient{
		platform:    platform,
		http:        client,
		breaker:     breaker,
		limiter:     rate.NewLimiter(limit, burst),
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// do runs send with a fresh request per attempt. Transient failures are
// retried with exponential backoff up to maxAttempts; everything else returns at once.
func (c *apiClient) do(ctx context.Context, send func(req *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	return c.execute(ctx, true, send)
}

// doCreate is do for requests that make something public. Only answered
// failures (429 and 5xx) are retried. A timeout or broken connection may
// have created the object, so it is reported without a second attempt.
func (c *apiClient) doCreate(ctx context.Context, send func(req *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	return c.execute(ctx, false, send)
}

func (c *apiClient) execute(ctx context.Context, retryTransport bool, send func(req *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)

	attempt := 0
	return backoff.RetryWithData(func() (*resty.Response, error) {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(apperror.Transient(string(c.platform), apperror.CodeTimeout, err))
		}

		out, err := c.breaker.Execute(func() (interface{}, error) {
			resp, err := send(c.http.R().SetContext(ctx))
			if err != nil {
				return nil, &transportError{err: apperror.Transient(string(c.platform), apperror.CodeTimeout, err)}
			}
			if resp.IsError() {
				return resp, c.classify(resp)
			}
			return resp, nil
		})

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.PlatformRequestsTotal.WithLabelValues(string(c.platform), "circuit_open").Inc()
			return nil, backoff.Permanent(apperror.Transient(string(c.platform), apperror.CodeCircuitOpen, err))
		}

		resp, _ := out.(*resty.Response)
		var te *transportError
		if errors.As(err, &te) {
			err = te.err
			if !retryTransport {
				metrics.PlatformRequestsTotal.WithLabelValues(string(c.platform), "transient").Inc()
				slog.Warn("platform create request failed without a response, not retrying", "platform", c.platform, "error", err.Error())
				return resp, backoff.Permanent(err)
			}
		}
		if err != nil {
			if apperror.IsRetryable(err) {
				metrics.PlatformRequestsTotal.WithLabelValues(string(c.platform), "transient").Inc()
				slog.Info("platform request failed, retrying", "platform", c.platform, "attempt", attempt, "error", err.Error())
				return resp, err
			}
			metrics.PlatformRequestsTotal.WithLabelValues(string(c.platform), "permanent").Inc()
			return resp, backoff.Permanent(err)
		}

		metrics.PlatformRequestsTotal.WithLabelValues(string(c.platform), "ok").Inc()
		return resp, nil
	}, policy)
}

// transportError marks a request that got no response.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }

func (e *transportError) Unwrap() error { return e.err }

// classify maps an error response to the transient/permanent taxonomy.
func (c *apiClient) classify(resp *resty.Response) error {
	status := resp.StatusCode()
	message := extractErrorMessage(resp.Body())
	if message == "" {
		message = fmt.Sprintf("status %d", status)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return apperror.Transient(string(c.platform), apperror.CodeRateLimited, errors.New(message))
	case status >= 500 || isGraphTransient(resp.Body()):
		return apperror.Transient(string(c.platform), apperror.CodeServerError, errors.New(message))
	case status == http.StatusUnauthorized || status == http.StatusForbidden || isGraphAuthError(resp.Body()):
		return apperror.Permanent(string(c.platform), apperror.CodeAuthRevoked, message)
	default:
		return apperror.Permanent(string(c.platform), apperror.CodeRejected, message)
	}
}

func extractErrorMessage(body []byte) string {
	var payload struct {
		Error any `json:"error"`
		// X API v2
		Detail string `json:"detail"`
		Title  string `json:"title"`
		// Pinterest
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	switch e := payload.Error.(type) {
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return msg
		}
	case string:
		return e
	}
	if payload.Detail != "" {
		return payload.Detail
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Title
}

func graphError(body []byte) *transfer.GraphErrorResponse {
	var payload transfer.GraphErrorResponse
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Code == 0 {
		return nil
	}
	return &payload
}

// isGraphAuthError detects Graph API OAuthException code 190, which Meta returns with status 400.
func isGraphAuthError(body []byte) bool {
	g := graphError(body)
	return g != nil && g.Error.Code == 190
}

func isGraphTransient(body []byte) bool {
	g := graphError(body)
	return g != nil && g.Error.IsTransient
}
