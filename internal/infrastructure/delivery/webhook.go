// Package delivery provides the production ChannelSender implementations.
// The dispatch queue stays channel-agnostic; this package owns the actual
// outbound transport and the transient/permanent failure classification.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/reachforge/outreach-core/internal/config"
	"github.com/reachforge/outreach-core/internal/domain/dispatch"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// outboundMessage is the wire shape posted to the webhook.
type outboundMessage struct {
	AccountKey string `json:"account_key"`
	Recipient  string `json:"recipient"`
	Payload    string `json:"payload"`
}

// WebhookSender delivers messages as JSON POSTs to a configured endpoint.
// Network errors and 5xx responses are transient; 4xx responses are
// permanent.
type WebhookSender struct {
	url    string
	client *http.Client
	logger logging.Logger
}

// NewWebhookSender builds a sender from config.
func NewWebhookSender(cfg config.DeliveryConfig, logger logging.Logger) *WebhookSender {
	return &WebhookSender{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("webhook_sender"),
	}
}

func (s *WebhookSender) Send(ctx context.Context, key common.AccountKey, recipient, payload string) error {
	body, err := json.Marshal(outboundMessage{
		AccountKey: key.String(),
		Recipient:  recipient,
		Payload:    payload,
	})
	if err != nil {
		return dispatch.PermanentError("encode outbound message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return dispatch.PermanentError("build webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return dispatch.TransientError("webhook unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return dispatch.TransientError("webhook returned "+resp.Status, nil)
	default:
		return dispatch.PermanentError("webhook rejected message with "+resp.Status, nil)
	}
}

// LogSender records the send in the log and succeeds.  The development
// fallback when no webhook is configured.
type LogSender struct {
	logger logging.Logger
}

// NewLogSender builds a LogSender.
func NewLogSender(logger logging.Logger) *LogSender {
	return &LogSender{logger: logger.Named("log_sender")}
}

func (s *LogSender) Send(_ context.Context, key common.AccountKey, recipient, payload string) error {
	s.logger.Info("message delivered (log only)",
		logging.String("account", key.String()),
		logging.String("recipient", recipient),
		logging.Int("payload_bytes", len(payload)),
	)
	return nil
}

// FromConfig selects the configured sender implementation.
func FromConfig(cfg config.DeliveryConfig, logger logging.Logger) dispatch.ChannelSender {
	if cfg.WebhookURL == "" {
		return NewLogSender(logger)
	}
	return NewWebhookSender(cfg, logger)
}
