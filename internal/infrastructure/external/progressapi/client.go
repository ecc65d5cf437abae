// Package progressapi implements the HTTP client of the remote progress service.
// The service stores one snapshot per scope under /v1/progress/{scope}.
package progressapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/learnpath/learnpath/internal/domain/progress"
	"github.com/learnpath/learnpath/internal/domain/shared"
	"github.com/learnpath/learnpath/pkg/circuitbreaker"
	"github.com/learnpath/learnpath/pkg/logger"
	"github.com/learnpath/learnpath/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// maxBodySize caps how much of a response is read.
const maxBodySize = 1 << 20

// ClientConfig contains configuration for the progress API client.
type ClientConfig struct {
	// BaseURL is the service root, e.g. "https://api.example.com".
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// RateLimiterConfig for client-side rate limiting.
	RateLimiterConfig RateLimiterConfig

	// Retrier overrides retry.GatewayRetrier.
	Retrier *retry.Retrier

	// Breaker overrides circuitbreaker.GatewayBreaker.
	Breaker *circuitbreaker.CircuitBreaker

	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           5 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client implements progress.RemoteGateway over HTTP.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier
}

var _ progress.RemoteGateway = (*Client)(nil)

// NewClient creates a new progress API client.
func NewClient(config ClientConfig) *Client {
	log := logger.OrDefault(config.Logger).With(logger.Component("progress-api"))
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	breaker := config.Breaker
	if breaker == nil {
		breaker = circuitbreaker.GatewayBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		})
	}

	retrier := config.Retrier
	if retrier == nil {
		retrier = retry.GatewayRetrier()
	}

	return &Client{
		config:      config,
		httpClient:  httpClient,
		logger:      log,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker:     breaker,
		retrier:     retrier,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// FetchSnapshot returns the scope's snapshot or progress.ErrRemoteNotFound.
func (c *Client) FetchSnapshot(ctx context.Context, scope progress.ScopeID) (*progress.RemoteSnapshot, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, snapshotPath(scope), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: %w", scope, err)
	}

	switch {
	case resp.status == http.StatusNotFound:
		return nil, progress.ErrRemoteNotFound
	case resp.status == http.StatusOK:
		return decodeSnapshot(resp.body)
	default:
		return nil, fmt.Errorf("fetch snapshot %s: %w", scope, c.mapError(newStatusError(resp.status, resp.body)))
	}
}

// UpsertSnapshot creates or replaces the scope's snapshot.
// A 204 response means the service stored snap as sent.
func (c *Client) UpsertSnapshot(ctx context.Context, scope progress.ScopeID, snap progress.RemoteSnapshot) (*progress.RemoteSnapshot, error) {
	resp, err := c.doRequest(ctx, http.MethodPut, snapshotPath(scope), snapshotToDTO(snap))
	if err != nil {
		return nil, fmt.Errorf("upsert snapshot %s: %w", scope, err)
	}

	switch resp.status {
	case http.StatusOK, http.StatusCreated:
		return decodeSnapshot(resp.body)
	case http.StatusNoContent:
		stored := snap
		return &stored, nil
	default:
		return nil, fmt.Errorf("upsert snapshot %s: %w", scope, c.mapError(newStatusError(resp.status, resp.body)))
	}
}

func snapshotPath(scope progress.ScopeID) string {
	return "/v1/progress/" + url.PathEscape(scope.String())
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type response struct {
	status int
	body   []byte
}

// doRequest performs a request with rate limiting, circuit breaking and retries.
// 5xx, 429 and network errors are retried and count against the breaker.
// Every other status is handed back to the caller as a response.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}

	start := time.Now()
	resp, err := circuitbreaker.Call(ctx, c.breaker, func(ctx context.Context) (*response, error) {
		return retry.DoWithData(ctx, c.retrier, func(ctx context.Context) (*response, error) {
			if err := c.rateLimiter.Allow(ctx); err != nil {
				return nil, err
			}

			resp, retryAfter, err := c.doSingleRequest(ctx, method, path, payload)
			if err != nil {
				return nil, retry.Retryable(err)
			}
			if resp.status == http.StatusTooManyRequests {
				c.rateLimiter.RecordRateLimitHit(retryAfter)
			}
			if resp.status >= 400 {
				if se := newStatusError(resp.status, resp.body); se.Temporary() {
					return nil, retry.Retryable(se)
				}
			}
			return resp, nil
		})
	})
	if err != nil {
		c.logger.Debug("progress api request failed",
			slog.String("method", method),
			slog.String("path", path),
			logger.Latency(time.Since(start)),
			logger.Err(err))
		return nil, c.mapError(err)
	}

	c.logger.Debug("progress api request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.status),
		logger.Latency(time.Since(start)))
	return resp, nil
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, payload []byte) (*response, time.Duration, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}

	var retryAfter time.Duration
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil {
			retryAfter = time.Duration(seconds) * time.Second
		}
	}

	return &response{status: resp.StatusCode, body: respBody}, retryAfter, nil
}

// mapError translates transport failures into shared gateway errors.
func (c *Client) mapError(err error) error {
	var statusErr *StatusError
	var rateErr *RateLimitError
	var netErr net.Error

	switch {
	case errors.Is(err, context.Canceled):
		return err
	case circuitbreaker.IsRejected(err):
		return fmt.Errorf("%w: %w", shared.ErrGatewayUnavailable, err)
	case errors.As(err, &rateErr):
		return fmt.Errorf("%w: %w", shared.ErrGatewayRateLimited, err)
	case errors.As(err, &statusErr):
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", shared.ErrGatewayRateLimited, err)
		case statusErr.StatusCode >= 500:
			return fmt.Errorf("%w: %w", shared.ErrGatewayUnavailable, err)
		}
		return shared.WrapError("gateway", "Request", shared.ErrExternalService, statusErr.Error(), err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", shared.ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%w: %w", shared.ErrGatewayUnavailable, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus reports the client's protective state.
type ClientStatus struct {
	RateLimiter RateLimiterStatus
	Breaker     circuitbreaker.State
	Counts      circuitbreaker.Counts
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter: c.rateLimiter.Status(),
		Breaker:     c.breaker.State(),
		Counts:      c.breaker.Counts(),
	}
}

// Reset resets the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.breaker.Reset()
}
