package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Akhil-Ferry/Smart-city/internal/config"
)

// EmailSender delivers one email. Implementations may fail with a provider
// error; the dispatcher records the outcome either way.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) (string, error)
}

// SMSSender delivers one SMS.
type SMSSender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// Emitter pushes a payload to a connected user, fire and forget.
type Emitter interface {
	Emit(userID, event string, payload interface{})
}

// WebhookSender posts an alert payload to an external endpoint.
type WebhookSender interface {
	Send(ctx context.Context, payload interface{}) (string, error)
}

// SendGridEmailSender sends email through the SendGrid API.
type SendGridEmailSender struct {
	client *sendgrid.Client
	from   *mail.Email
	logger *slog.Logger
}

// NewSendGridEmailSender creates a SendGrid-backed email sender.
func NewSendGridEmailSender(cfg config.EmailConfig, logger *slog.Logger) *SendGridEmailSender {
	return &SendGridEmailSender{
		client: sendgrid.NewSendClient(cfg.SendGridAPIKey),
		from:   mail.NewEmail(cfg.FromName, cfg.FromAddress),
		logger: logger,
	}
}

// Send delivers one email and returns the provider message id.
func (s *SendGridEmailSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) (string, error) {
	message := mail.NewSingleEmail(s.from, subject, mail.NewEmail("", to), textBody, htmlBody)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return "", fmt.Errorf("failed to send email via SendGrid: %w", err)
	}
	if response.StatusCode >= 400 {
		return "", fmt.Errorf("SendGrid returned status %d", response.StatusCode)
	}

	var messageID string
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		messageID = ids[0]
	}

	s.logger.Debug("email sent", "to", to, "message_id", messageID)
	return messageID, nil
}

// TwilioSMSSender sends SMS through the Twilio API.
type TwilioSMSSender struct {
	client *twilio.RestClient
	from   string
	logger *slog.Logger
}

// NewTwilioSMSSender creates a Twilio-backed SMS sender.
func NewTwilioSMSSender(cfg config.SMSConfig, logger *slog.Logger) *TwilioSMSSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioSID,
		Password: cfg.TwilioToken,
	})
	return &TwilioSMSSender{client: client, from: cfg.FromNumber, logger: logger}
}

// Send delivers one SMS and returns the provider message sid.
func (s *TwilioSMSSender) Send(ctx context.Context, to, body string) (string, error) {
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send SMS via Twilio: %w", err)
	}

	var sid string
	if resp.Sid != nil {
		sid = *resp.Sid
	}

	s.logger.Debug("SMS sent", "to", to, "sid", sid)
	return sid, nil
}

// RestyWebhookSender posts JSON payloads to a configured endpoint.
type RestyWebhookSender struct {
	client *resty.Client
	url    string
	logger *slog.Logger
}

// NewRestyWebhookSender creates a webhook sender for the configured endpoint.
func NewRestyWebhookSender(cfg config.WebhookConfig, logger *slog.Logger) *RestyWebhookSender {
	client := resty.New().SetTimeout(cfg.Timeout)
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	return &RestyWebhookSender{client: client, url: cfg.URL, logger: logger}
}

// Send posts the payload and returns the endpoint's request id header when
// present.
func (s *RestyWebhookSender) Send(ctx context.Context, payload interface{}) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(s.url)
	if err != nil {
		return "", fmt.Errorf("failed to post webhook: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode())
	}

	return resp.Header().Get("X-Request-Id"), nil
}
