// Package push implements the HTTP client for the push notification gateway.
package push

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/cardquest/progression/internal/domain/notification"
	"github.com/cardquest/progression/pkg/circuitbreaker"
	"github.com/cardquest/progression/pkg/logger"
	"github.com/cardquest/progression/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the push gateway client.
type ClientConfig struct {
	// BaseURL of the gateway, e.g. https://push.internal
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// Retrier overrides retry.PushRetrier().
	Retrier *retry.Retrier

	// Breaker overrides circuitbreaker.PushGatewayBreaker.
	Breaker *circuitbreaker.CircuitBreaker

	HTTPClient *http.Client
	Logger     *logger.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL, apiKey string) ClientConfig {
	return ClientConfig{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 5 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// GatewayError is a non-2xx response from the gateway.
type GatewayError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("push gateway: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("push gateway: status %d", e.StatusCode)
}

// Temporary reports whether the request may succeed later.
func (e *GatewayError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ErrInvalidToken is returned when the gateway rejects a device token.
var ErrInvalidToken = errors.New("push token rejected")

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client sends notifications through the push gateway.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
	log        *logger.Logger
}

var _ notification.PushSender = (*Client)(nil)

// NewClient creates a push gateway client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	c := &Client{
		config:  config,
		retrier: config.Retrier,
		breaker: config.Breaker,
		log:     config.Logger.Named("push_client"),
	}

	c.httpClient = config.HTTPClient
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: config.Timeout}
	}
	if c.retrier == nil {
		c.retrier = retry.PushRetrier()
	}
	if c.breaker == nil {
		c.breaker = circuitbreaker.PushGatewayBreaker(c.onStateChange, IsGatewayFailure)
	}
	return c
}

type sendRequest struct {
	Token        string               `json:"token"`
	Notification notification.Payload `json:"notification"`
}

// SendPushNotification delivers one payload to one device token.
func (c *Client) SendPushNotification(ctx context.Context, token string, payload notification.Payload) error {
	body, err := json.Marshal(sendRequest{Token: token, Notification: payload})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	start := time.Now()
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.send(ctx, body)
		})
	})

	fields := []logger.Field{
		logger.String("token", Fingerprint(token)),
		logger.String("kind", string(payload.Kind)),
		logger.Latency(time.Since(start)),
	}
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			c.log.Warn("push skipped, gateway circuit open", fields...)
		}
		return fmt.Errorf("send push to %s: %w", Fingerprint(token), err)
	}
	c.log.Debug("push delivered", fields...)
	return nil
}

// send performs a single HTTP call. Temporary failures are marked retryable.
func (c *Client) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/send", bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	gwErr := &GatewayError{StatusCode: resp.StatusCode}
	var msg struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(respBody, &msg) == nil {
		gwErr.Message = msg.Error
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil {
			gwErr.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %w", ErrInvalidToken, gwErr)
	case gwErr.Temporary():
		return retry.Retryable(gwErr)
	default:
		return gwErr
	}
}

func (c *Client) onStateChange(name string, from, to circuitbreaker.State) {
	c.log.Warn("circuit breaker state changed",
		logger.String("breaker", name),
		logger.String("from", from.String()),
		logger.String("to", to.String()))
}

// BreakerState exposes the gateway breaker state for health checks.
func (c *Client) BreakerState() circuitbreaker.State { return c.breaker.State() }

// IsGatewayFailure reports whether err says something about gateway health.
// Rejected tokens and malformed requests do not.
func IsGatewayFailure(err error) bool {
	if err == nil {
		return false
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Temporary()
	}
	return true
}

// Fingerprint returns a short stable hash of a device token for logs.
func Fingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
