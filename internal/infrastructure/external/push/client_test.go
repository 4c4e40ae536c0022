package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardquest/progression/internal/domain/notification"
	"github.com/cardquest/progression/pkg/circuitbreaker"
	"github.com/cardquest/progression/pkg/logger"
	"github.com/cardquest/progression/pkg/retry"
)

func newTestClient(url string, breaker *circuitbreaker.CircuitBreaker) *Client {
	return NewClient(ClientConfig{
		BaseURL: url,
		APIKey:  "secret",
		Timeout: time.Second,
		Retrier: retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(0)),
		Breaker: breaker,
		Logger:  logger.Nop(),
	})
}

var payload = notification.Payload{
	Kind:  notification.KindLevelUp,
	Title: "Level 2 reached",
	Body:  "You now have 450 XP in total.",
}

func TestSendPushNotification_Delivers(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/send", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL, nil).SendPushNotification(context.Background(), "device-1", payload)
	require.NoError(t, err)
	assert.Equal(t, "device-1", got.Token)
	assert.Equal(t, payload, got.Notification)
}

func TestSendPushNotification_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL, nil).SendPushNotification(context.Background(), "device-1", payload)
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestSendPushNotification_RejectedTokenIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte(`{"error":"unregistered"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, nil)
	err := client.SendPushNotification(context.Background(), "device-1", payload)

	require.ErrorIs(t, err, ErrInvalidToken)
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "unregistered", gwErr.Message)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, circuitbreaker.StateClosed, client.BreakerState())
}

func TestSendPushNotification_OpenCircuitSkipsGateway(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	breaker := circuitbreaker.New("push-test",
		circuitbreaker.WithFailureThreshold(1),
		circuitbreaker.WithTimeout(time.Hour),
		circuitbreaker.WithIsFailure(IsGatewayFailure))
	client := newTestClient(srv.URL, breaker)
	ctx := context.Background()

	require.Error(t, client.SendPushNotification(ctx, "device-1", payload))
	assert.Equal(t, circuitbreaker.StateOpen, client.BreakerState())
	before := calls.Load()

	err := client.SendPushNotification(ctx, "device-1", payload)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, before, calls.Load())
}

func TestIsGatewayFailure(t *testing.T) {
	assert.False(t, IsGatewayFailure(nil))
	assert.False(t, IsGatewayFailure(&GatewayError{StatusCode: http.StatusBadRequest}))
	assert.True(t, IsGatewayFailure(&GatewayError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, IsGatewayFailure(errors.New("connection reset")))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("device-1")
	assert.Len(t, a, 12)
	assert.Equal(t, a, Fingerprint("device-1"))
	assert.NotEqual(t, a, Fingerprint("device-2"))
	assert.NotContains(t, a, "device")
}
