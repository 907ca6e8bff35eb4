package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachforge/outreach-core/internal/config"
	"github.com/reachforge/outreach-core/internal/domain/dispatch"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
)

func newSender(url string) *WebhookSender {
	return NewWebhookSender(config.DeliveryConfig{
		WebhookURL: url,
		Timeout:    5 * time.Second,
	}, logging.NewNopLogger())
}

func TestWebhookSender_Success(t *testing.T) {
	var received outboundMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := newSender(srv.URL).Send(context.Background(), "acct-1", "@lead", "hello")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", received.AccountKey)
	assert.Equal(t, "@lead", received.Recipient)
	assert.Equal(t, "hello", received.Payload)
}

func TestWebhookSender_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newSender(srv.URL).Send(context.Background(), "acct-1", "@lead", "hello")
	require.Error(t, err)
	assert.False(t, dispatch.IsPermanent(err))
}

func TestWebhookSender_TooManyRequestsIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := newSender(srv.URL).Send(context.Background(), "acct-1", "@lead", "hello")
	require.Error(t, err)
	assert.False(t, dispatch.IsPermanent(err))
}

func TestWebhookSender_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := newSender(srv.URL).Send(context.Background(), "acct-1", "@lead", "hello")
	require.Error(t, err)
	assert.True(t, dispatch.IsPermanent(err))
}

func TestWebhookSender_UnreachableIsTransient(t *testing.T) {
	err := newSender("http://127.0.0.1:1/hook").Send(context.Background(), "acct-1", "@lead", "hello")
	require.Error(t, err)
	assert.False(t, dispatch.IsPermanent(err))
}

func TestFromConfig(t *testing.T) {
	logger := logging.NewNopLogger()

	sender := FromConfig(config.DeliveryConfig{}, logger)
	_, isLog := sender.(*LogSender)
	assert.True(t, isLog)
	assert.NoError(t, sender.Send(context.Background(), "acct-1", "@lead", "hi"))

	sender = FromConfig(config.DeliveryConfig{WebhookURL: "http://example.com"}, logger)
	_, isWebhook := sender.(*WebhookSender)
	assert.True(t, isWebhook)
}
