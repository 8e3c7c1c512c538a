package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raisekit/opscore/pkg/errors"
)

// WebhookSender posts alert payloads as JSON to the channel's configured
// URL. It serves the webhook channel type and doubles as the transport for
// slack/discord/teams incoming-webhook endpoints.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender creates a sender with a bounded request timeout.
func NewWebhookSender(timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{client: &http.Client{Timeout: timeout}}
}

type webhookPayload struct {
	Message string `json:"message"`
	Alert   *Alert `json:"alert,omitempty"`
}

func (s *WebhookSender) Send(ctx context.Context, channel *Channel, message string, alert *Alert) error {
	url := channel.Config["url"]
	if url == "" {
		return errors.New(errors.KindValidation, fmt.Sprintf("channel %s has no url configured", channel.ID))
	}

	body, err := json.Marshal(webhookPayload{Message: message, Alert: alert})
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to encode webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token := channel.Config["token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.KindExternalService, "webhook delivery failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.New(errors.KindExternalService, fmt.Sprintf("webhook returned status %d", resp.StatusCode))
	}
	return nil
}

// LogSender writes notifications to the process log. It is the default for
// channel types without a real transport configured (email/sms/push in
// development environments).
type LogSender struct {
	logger *logrus.Logger
}

// NewLogSender creates a log-backed sender.
func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, channel *Channel, message string, alert *Alert) error {
	fields := logrus.Fields{
		"channel":      channel.ID,
		"channel_type": channel.Type,
	}
	if alert != nil {
		fields["alert_id"] = alert.ID
		fields["severity"] = alert.Severity
	}
	s.logger.WithFields(fields).Info(message)
	return nil
}
