package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Akhil-Ferry/Smart-city/internal/config"
	"github.com/Akhil-Ferry/Smart-city/internal/lifecycle"
	"github.com/Akhil-Ferry/Smart-city/internal/model"
)

// RecipientResolver computes the notify-set for an alert.
type RecipientResolver interface {
	Resolve(ctx context.Context, alert *model.Alert) ([]model.User, error)
}

// LogStore persists notification log entries onto the alert. The whole batch
// goes in as one atomic append.
type LogStore interface {
	AppendNotifications(ctx context.Context, id string, entries []model.NotificationRecord) error
}

// Recorder receives dispatch metrics.
type Recorder interface {
	RecordNotification(channel, status string)
	ObserveDispatchDuration(d time.Duration)
}

// Dispatcher fans an alert out to each recipient's enabled channels. One
// recipient's failure never blocks another recipient, or another channel for
// the same recipient; every attempt is recorded in the alert's log.
type Dispatcher struct {
	cfg      config.NotificationsConfig
	logger   *slog.Logger
	resolver RecipientResolver
	store    LogStore
	email    EmailSender
	sms      SMSSender
	emitter  Emitter
	webhook  WebhookSender
	recorder Recorder
	render   *renderer
	limiters map[model.Channel]*rate.Limiter
	now      func() time.Time
}

// NewDispatcher constructs a dispatcher. email, sms, emitter, webhook and
// recorder may be nil; a nil client disables that channel regardless of
// configuration.
func NewDispatcher(
	cfg config.NotificationsConfig,
	baseURL string,
	resolver RecipientResolver,
	store LogStore,
	email EmailSender,
	sms SMSSender,
	emitter Emitter,
	webhook WebhookSender,
	recorder Recorder,
	logger *slog.Logger,
) (*Dispatcher, error) {
	render, err := newRenderer(baseURL)
	if err != nil {
		return nil, err
	}

	limiters := make(map[model.Channel]*rate.Limiter)
	if cfg.Email.RateLimitPerMin > 0 {
		limiters[model.ChannelEmail] = rate.NewLimiter(rate.Limit(cfg.Email.RateLimitPerMin)/60, cfg.Email.RateLimitPerMin)
	}
	if cfg.SMS.RateLimitPerMin > 0 {
		limiters[model.ChannelSMS] = rate.NewLimiter(rate.Limit(cfg.SMS.RateLimitPerMin)/60, cfg.SMS.RateLimitPerMin)
	}
	if cfg.Webhook.RateLimitPerMin > 0 {
		limiters[model.ChannelWebhook] = rate.NewLimiter(rate.Limit(cfg.Webhook.RateLimitPerMin)/60, cfg.Webhook.RateLimitPerMin)
	}

	return &Dispatcher{
		cfg:      cfg,
		logger:   logger,
		resolver: resolver,
		store:    store,
		email:    email,
		sms:      sms,
		emitter:  emitter,
		webhook:  webhook,
		recorder: recorder,
		render:   render,
		limiters: limiters,
		now:      time.Now,
	}, nil
}

// Dispatch resolves recipients and sends through each enabled channel,
// appending the whole outcome batch to the alert's notification log in one
// update.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *model.Alert) (*lifecycle.DispatchSummary, error) {
	if d.recorder != nil {
		start := time.Now()
		defer func() { d.recorder.ObserveDispatchDuration(time.Since(start)) }()
	}

	recipients, err := d.resolver.Resolve(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		d.logger.Warn("no recipients resolved for alert", "alert_id", alert.AlertID)
		return &lifecycle.DispatchSummary{}, nil
	}

	var mu sync.Mutex
	var records []model.NotificationRecord

	group, gctx := errgroup.WithContext(ctx)
	limit := d.cfg.WorkerLimit
	if limit <= 0 {
		limit = 8
	}
	group.SetLimit(limit)

	for _, user := range recipients {
		user := user
		group.Go(func() error {
			// Per-recipient failures are captured in the records, never
			// returned, so one recipient cannot starve the rest.
			recs := d.dispatchToUser(gctx, alert, user)
			mu.Lock()
			records = append(records, recs...)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	if d.webhook != nil && d.cfg.Webhook.Enabled {
		records = append(records, d.sendWebhook(ctx, alert))
	}

	summary := summarize(records)
	if len(records) == 0 {
		return summary, nil
	}

	if err := d.store.AppendNotifications(ctx, alert.ID, records); err != nil {
		d.logger.Error("failed to persist notification log", "alert_id", alert.AlertID, "error", err)
		return summary, err
	}

	return summary, nil
}

// RetryFailed re-attempts the latest failed entry per channel and recipient,
// respecting each entry's retry budget. New attempts are appended; the
// original entries are never rewritten.
func (d *Dispatcher) RetryFailed(ctx context.Context, alert *model.Alert, users []model.User) (*lifecycle.DispatchSummary, error) {
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	// Latest entry wins per (channel, recipient); an earlier failure that
	// was already retried successfully needs no further attempts.
	latest := make(map[string]model.NotificationRecord)
	for _, rec := range alert.Notifications {
		latest[string(rec.Channel)+"|"+rec.Recipient] = rec
	}

	var records []model.NotificationRecord
	for _, rec := range latest {
		if rec.Status != model.DeliveryFailed || rec.RetryCount >= rec.MaxRetries {
			continue
		}
		user, ok := byID[rec.RecipientID]
		if !ok {
			continue
		}

		retry := d.sendOne(ctx, alert, user, rec.Channel)
		retry.RetryCount = rec.RetryCount + 1
		retry.MaxRetries = rec.MaxRetries
		records = append(records, retry)
	}

	summary := summarize(records)
	if len(records) == 0 {
		return summary, nil
	}

	if err := d.store.AppendNotifications(ctx, alert.ID, records); err != nil {
		return summary, err
	}
	return summary, nil
}

// dispatchToUser attempts every channel enabled for one recipient.
func (d *Dispatcher) dispatchToUser(ctx context.Context, alert *model.Alert, user model.User) []model.NotificationRecord {
	var records []model.NotificationRecord

	if d.email != nil && d.cfg.Email.Enabled && user.Email != "" && user.Preferences.Email {
		records = append(records, d.sendOne(ctx, alert, user, model.ChannelEmail))
	}

	smsEligible := alert.Severity == model.SeverityHigh || alert.Severity == model.SeverityCritical
	if d.sms != nil && d.cfg.SMS.Enabled && smsEligible && user.Phone != "" && user.Preferences.SMS {
		records = append(records, d.sendOne(ctx, alert, user, model.ChannelSMS))
	}

	if d.emitter != nil && d.cfg.InApp.Enabled && user.Preferences.InApp {
		records = append(records, d.sendOne(ctx, alert, user, model.ChannelInApp))
	}

	return records
}

// sendOne performs a single channel attempt and returns its log entry.
func (d *Dispatcher) sendOne(ctx context.Context, alert *model.Alert, user model.User, channel model.Channel) model.NotificationRecord {
	record := model.NotificationRecord{
		Channel:       channel,
		RecipientID:   user.ID,
		RecipientType: string(user.Role),
		SentAt:        d.now().UTC(),
		MaxRetries:    d.maxRetries(),
	}

	if limiter, ok := d.limiters[channel]; ok && !limiter.Allow() {
		record.Status = model.DeliveryFailed
		record.ErrorMessage = "rate limit exceeded"
		d.record(channel, record.Status)
		return record
	}

	var externalID string
	var err error

	switch channel {
	case model.ChannelEmail:
		record.Recipient = user.Email
		var htmlBody, textBody string
		htmlBody, textBody, err = d.render.emailBodies(alert)
		if err == nil {
			externalID, err = d.email.Send(ctx, user.Email, d.render.emailSubject(alert), htmlBody, textBody)
		}
	case model.ChannelSMS:
		record.Recipient = user.Phone
		var body string
		body, err = d.render.smsBody(alert)
		if err == nil {
			externalID, err = d.sms.Send(ctx, user.Phone, body)
		}
	case model.ChannelInApp:
		record.Recipient = user.ID
		// Fire and forget; the transport gives no delivery confirmation.
		d.emitter.Emit(user.ID, "alert", inAppPayload(alert))
	default:
		err = fmt.Errorf("unsupported channel: %s", channel)
	}

	if err != nil {
		record.Status = model.DeliveryFailed
		record.ErrorMessage = err.Error()
		d.logger.Warn("notification attempt failed",
			"alert_id", alert.AlertID,
			"channel", channel,
			"recipient_id", user.ID,
			"error", err)
	} else {
		record.Status = model.DeliverySent
		record.ExternalID = externalID
	}

	d.record(channel, record.Status)
	return record
}

func (d *Dispatcher) sendWebhook(ctx context.Context, alert *model.Alert) model.NotificationRecord {
	record := model.NotificationRecord{
		Channel:       model.ChannelWebhook,
		Recipient:     d.cfg.Webhook.URL,
		RecipientType: "endpoint",
		SentAt:        d.now().UTC(),
		MaxRetries:    d.maxRetries(),
	}

	if limiter, ok := d.limiters[model.ChannelWebhook]; ok && !limiter.Allow() {
		record.Status = model.DeliveryFailed
		record.ErrorMessage = "rate limit exceeded"
		d.record(model.ChannelWebhook, record.Status)
		return record
	}

	externalID, err := d.webhook.Send(ctx, inAppPayload(alert))
	if err != nil {
		record.Status = model.DeliveryFailed
		record.ErrorMessage = err.Error()
		d.logger.Warn("webhook dispatch failed", "alert_id", alert.AlertID, "error", err)
	} else {
		record.Status = model.DeliverySent
		record.ExternalID = externalID
	}

	d.record(model.ChannelWebhook, record.Status)
	return record
}

func (d *Dispatcher) maxRetries() int {
	if d.cfg.MaxRetries > 0 {
		return d.cfg.MaxRetries
	}
	return model.DefaultMaxNotificationRetries
}

func (d *Dispatcher) record(channel model.Channel, status model.DeliveryStatus) {
	if d.recorder != nil {
		d.recorder.RecordNotification(string(channel), string(status))
	}
}

func summarize(records []model.NotificationRecord) *lifecycle.DispatchSummary {
	summary := &lifecycle.DispatchSummary{Details: records}
	for _, rec := range records {
		if rec.Status == model.DeliverySent {
			summary.SentCount++
		} else {
			summary.FailedCount++
		}
	}
	return summary
}
