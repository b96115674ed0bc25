package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akhil-Ferry/Smart-city/internal/config"
	"github.com/Akhil-Ferry/Smart-city/internal/model"
)

type fakeEmail struct {
	mu   sync.Mutex
	sent []string
	fail map[string]error
}

func (f *fakeEmail) Send(_ context.Context, to, _, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[to]; ok {
		return "", err
	}
	f.sent = append(f.sent, to)
	return "msg-" + to, nil
}

func (f *fakeEmail) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSMS) Send(_ context.Context, to, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return "sms-" + to, nil
}

type fakeEmitter struct {
	mu    sync.Mutex
	emits []string
}

func (f *fakeEmitter) Emit(userID, _ string, _ interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, userID)
}

type fakeWebhook struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeWebhook) Send(_ context.Context, _ interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "req-1", f.err
}

type fakeResolver struct {
	users []model.User
	err   error
}

func (f *fakeResolver) Resolve(context.Context, *model.Alert) ([]model.User, error) {
	return f.users, f.err
}

type fakeLogStore struct {
	mu      sync.Mutex
	appends [][]model.NotificationRecord
	err     error
}

func (f *fakeLogStore) AppendNotifications(_ context.Context, _ string, entries []model.NotificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.appends = append(f.appends, entries)
	return nil
}

func dispatchConfig() config.NotificationsConfig {
	return config.NotificationsConfig{
		Email:       config.EmailConfig{Enabled: true},
		SMS:         config.SMSConfig{Enabled: true},
		InApp:       config.InAppConfig{Enabled: true},
		Webhook:     config.WebhookConfig{Enabled: false},
		MaxRetries:  3,
		WorkerLimit: 4,
	}
}

func fullPrefs() model.NotificationPreferences {
	return model.NotificationPreferences{Email: true, SMS: true, InApp: true, Reports: true}
}

func testAlert(severity model.Severity) *model.Alert {
	return &model.Alert{
		ID:       "a1",
		AlertID:  "ALT-20260826-ABCD1234",
		Severity: severity,
		Category: model.CategoryAirQuality,
		Status:   model.StatusActive,
		Title:    "PM2.5 threshold exceeded",
	}
}

func newTestDispatcher(
	t *testing.T,
	cfg config.NotificationsConfig,
	resolver RecipientResolver,
	store LogStore,
	email EmailSender,
	sms SMSSender,
	emitter Emitter,
	webhook WebhookSender,
) *Dispatcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := NewDispatcher(cfg, "http://localhost:3000", resolver, store, email, sms, emitter, webhook, nil, logger)
	require.NoError(t, err)
	return d
}

func recordsFor(records []model.NotificationRecord, channel model.Channel) []model.NotificationRecord {
	var out []model.NotificationRecord
	for _, rec := range records {
		if rec.Channel == channel {
			out = append(out, rec)
		}
	}
	return out
}

func TestDispatch(t *testing.T) {
	t.Run("critical alert fans out over all channels", func(t *testing.T) {
		email := &fakeEmail{}
		sms := &fakeSMS{}
		emitter := &fakeEmitter{}
		store := &fakeLogStore{}
		resolver := &fakeResolver{users: []model.User{
			{ID: "u1", Email: "u1@city.gov", Phone: "+15550001", Preferences: fullPrefs()},
			{ID: "u2", Email: "u2@city.gov", Phone: "+15550002", Preferences: fullPrefs()},
		}}

		d := newTestDispatcher(t, dispatchConfig(), resolver, store, email, sms, emitter, nil)
		summary, err := d.Dispatch(context.Background(), testAlert(model.SeverityCritical))
		require.NoError(t, err)

		assert.Equal(t, 6, summary.SentCount)
		assert.Equal(t, 0, summary.FailedCount)
		assert.ElementsMatch(t, []string{"u1@city.gov", "u2@city.gov"}, email.recipients())
		assert.ElementsMatch(t, []string{"+15550001", "+15550002"}, sms.sent)
		assert.ElementsMatch(t, []string{"u1", "u2"}, emitter.emits)

		// The whole batch lands in one append.
		require.Len(t, store.appends, 1)
		assert.Len(t, store.appends[0], 6)
	})

	t.Run("medium severity skips sms", func(t *testing.T) {
		email := &fakeEmail{}
		sms := &fakeSMS{}
		store := &fakeLogStore{}
		resolver := &fakeResolver{users: []model.User{
			{ID: "u1", Email: "u1@city.gov", Phone: "+15550001", Preferences: fullPrefs()},
		}}

		d := newTestDispatcher(t, dispatchConfig(), resolver, store, email, sms, &fakeEmitter{}, nil)
		summary, err := d.Dispatch(context.Background(), testAlert(model.SeverityMedium))
		require.NoError(t, err)

		assert.Empty(t, sms.sent)
		assert.Equal(t, 2, summary.SentCount)
		assert.Empty(t, recordsFor(summary.Details, model.ChannelSMS))
	})

	t.Run("sms opt-out respected but email still attempted", func(t *testing.T) {
		email := &fakeEmail{}
		sms := &fakeSMS{}
		store := &fakeLogStore{}
		prefs := fullPrefs()
		prefs.SMS = false
		resolver := &fakeResolver{users: []model.User{
			{ID: "u1", Email: "u1@city.gov", Phone: "+15550001", Preferences: prefs},
		}}

		d := newTestDispatcher(t, dispatchConfig(), resolver, store, email, sms, &fakeEmitter{}, nil)
		summary, err := d.Dispatch(context.Background(), testAlert(model.SeverityCritical))
		require.NoError(t, err)

		assert.Empty(t, sms.sent)
		assert.Equal(t, []string{"u1@city.gov"}, email.recipients())
		assert.Empty(t, recordsFor(summary.Details, model.ChannelSMS))
	})

	t.Run("missing phone skips sms without failure entry", func(t *testing.T) {
		store := &fakeLogStore{}
		resolver := &fakeResolver{users: []model.User{
			{ID: "u1", Email: "u1@city.gov", Preferences: fullPrefs()},
		}}

		d := newTestDispatcher(t, dispatchConfig(), resolver, store, &fakeEmail{}, &fakeSMS{}, &fakeEmitter{}, nil)
		summary, err := d.Dispatch(context.Background(), testAlert(model.SeverityCritical))
		require.NoError(t, err)
		assert.Equal(t, 0, summary.FailedCount)
		assert.Empty(t, recordsFor(summary.Details, model.ChannelSMS))
	})

	t.Run("one failing recipient does not block the rest", func(t *testing.T) {
		email := &fakeEmail{fail: map[string]error{"bad@city.gov": errors.New("mailbox full")}}
		store := &fakeLogStore{}
		resolver := &fakeResolver{users: []model.User{
			{ID: "u1", Email: "bad@city.gov", Preferences: model.NotificationPreferences{Email: true}},
			{ID: "u2", Email: "ok@city.gov", Preferences: model.NotificationPreferences{Email: true}},
		}}

		d := newTestDispatcher(t, dispatchConfig(), resolver, store, email, nil, nil, nil)
		summary, err := d.Dispatch(context.Background(), testAlert(model.SeverityHigh))
		require.NoError(t, err)

		assert.Equal(t, 1, summary.SentCount)
		assert.Equal(t, 1, summary.FailedCount)
		assert.Equal(t, []string{"ok@city.gov"}, email.recipients())

		failed := 0
		for _, rec := range summary.Details {
			if rec.Status == model.DeliveryFailed {
				failed++
				assert.Equal(t, "mailbox full", rec.ErrorMessage)
				assert.Equal(t, 0, rec.RetryCount)
				assert.Equal(t, 3, rec.MaxRetries)
			}
		}
		assert.Equal(t, 1, failed)
	})

	t.Run("no recipients yields empty summary", func(t *testing.T) {
		store := &fakeLogStore{}
		d := newTestDispatcher(t, dispatchConfig(), &fakeResolver{}, store, &fakeEmail{}, nil, nil, nil)
		summary, err := d.Dispatch(context.Background(), testAlert(model.SeverityHigh))
		require.NoError(t, err)
		assert.Equal(t, 0, summary.SentCount)
		assert.Empty(t, store.appends)
	})

	t.Run("resolver failure surfaces", func(t *testing.T) {
		d := newTestDispatcher(t, dispatchConfig(), &fakeResolver{err: errors.New("db down")}, &fakeLogStore{}, &fakeEmail{}, nil, nil, nil)
		_, err := d.Dispatch(context.Background(), testAlert(model.SeverityHigh))
		assert.Error(t, err)
	})

	t.Run("webhook fires once per run", func(t *testing.T) {
		cfg := dispatchConfig()
		cfg.Webhook = config.WebhookConfig{Enabled: true, URL: "https://ops.example/hook"}
		webhook := &fakeWebhook{}
		store := &fakeLogStore{}
		resolver := &fakeResolver{users: []model.User{
			{ID: "u1", Email: "u1@city.gov", Preferences: fullPrefs()},
			{ID: "u2", Email: "u2@city.gov", Preferences: fullPrefs()},
		}}

		d := newTestDispatcher(t, cfg, resolver, store, &fakeEmail{}, nil, nil, webhook)
		summary, err := d.Dispatch(context.Background(), testAlert(model.SeverityHigh))
		require.NoError(t, err)

		assert.Equal(t, 1, webhook.calls)
		hooks := recordsFor(summary.Details, model.ChannelWebhook)
		require.Len(t, hooks, 1)
		assert.Equal(t, "https://ops.example/hook", hooks[0].Recipient)
	})

	t.Run("append failure surfaces alongside summary", func(t *testing.T) {
		store := &fakeLogStore{err: errors.New("db down")}
		resolver := &fakeResolver{users: []model.User{
			{ID: "u1", Email: "u1@city.gov", Preferences: fullPrefs()},
		}}
		d := newTestDispatcher(t, dispatchConfig(), resolver, store, &fakeEmail{}, nil, &fakeEmitter{}, nil)
		summary, err := d.Dispatch(context.Background(), testAlert(model.SeverityHigh))
		assert.Error(t, err)
		require.NotNil(t, summary)
		assert.Equal(t, 2, summary.SentCount)
	})
}

type fakeRecorder struct {
	mu        sync.Mutex
	notes     map[string]int
	durations []time.Duration
}

func (r *fakeRecorder) RecordNotification(channel, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notes == nil {
		r.notes = make(map[string]int)
	}
	r.notes[channel+"/"+status]++
}

func (r *fakeRecorder) ObserveDispatchDuration(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations = append(r.durations, d)
}

func TestDispatchMetrics(t *testing.T) {
	recorder := &fakeRecorder{}
	resolver := &fakeResolver{users: []model.User{
		{ID: "u1", Email: "u1@city.gov", Preferences: fullPrefs()},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d, err := NewDispatcher(dispatchConfig(), "http://localhost:3000",
		resolver, &fakeLogStore{}, &fakeEmail{}, nil, &fakeEmitter{}, nil, recorder, logger)
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), testAlert(model.SeverityHigh))
	require.NoError(t, err)

	assert.Len(t, recorder.durations, 1)
	assert.Equal(t, 1, recorder.notes["email/sent"])
	assert.Equal(t, 1, recorder.notes["in_app/sent"])
}

func TestRetryFailed(t *testing.T) {
	t.Run("retries latest failed entry with bumped count", func(t *testing.T) {
		email := &fakeEmail{}
		store := &fakeLogStore{}
		d := newTestDispatcher(t, dispatchConfig(), &fakeResolver{}, store, email, nil, nil, nil)

		alert := testAlert(model.SeverityHigh)
		alert.Notifications = model.NotificationLog{
			{Channel: model.ChannelEmail, Recipient: "u1@city.gov", RecipientID: "u1", Status: model.DeliveryFailed, RetryCount: 1, MaxRetries: 3},
		}
		users := []model.User{{ID: "u1", Email: "u1@city.gov", Preferences: fullPrefs()}}

		summary, err := d.RetryFailed(context.Background(), alert, users)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.SentCount)
		require.Len(t, summary.Details, 1)
		assert.Equal(t, 2, summary.Details[0].RetryCount)
		require.Len(t, store.appends, 1)
	})

	t.Run("exhausted budget not retried", func(t *testing.T) {
		email := &fakeEmail{}
		d := newTestDispatcher(t, dispatchConfig(), &fakeResolver{}, &fakeLogStore{}, email, nil, nil, nil)

		alert := testAlert(model.SeverityHigh)
		alert.Notifications = model.NotificationLog{
			{Channel: model.ChannelEmail, Recipient: "u1@city.gov", RecipientID: "u1", Status: model.DeliveryFailed, RetryCount: 3, MaxRetries: 3},
		}
		users := []model.User{{ID: "u1", Email: "u1@city.gov", Preferences: fullPrefs()}}

		summary, err := d.RetryFailed(context.Background(), alert, users)
		require.NoError(t, err)
		assert.Empty(t, summary.Details)
		assert.Empty(t, email.recipients())
	})

	t.Run("later success supersedes earlier failure", func(t *testing.T) {
		email := &fakeEmail{}
		d := newTestDispatcher(t, dispatchConfig(), &fakeResolver{}, &fakeLogStore{}, email, nil, nil, nil)

		alert := testAlert(model.SeverityHigh)
		alert.Notifications = model.NotificationLog{
			{Channel: model.ChannelEmail, Recipient: "u1@city.gov", RecipientID: "u1", Status: model.DeliveryFailed, RetryCount: 0, MaxRetries: 3},
			{Channel: model.ChannelEmail, Recipient: "u1@city.gov", RecipientID: "u1", Status: model.DeliverySent, RetryCount: 1, MaxRetries: 3},
		}
		users := []model.User{{ID: "u1", Email: "u1@city.gov", Preferences: fullPrefs()}}

		summary, err := d.RetryFailed(context.Background(), alert, users)
		require.NoError(t, err)
		assert.Empty(t, summary.Details)
	})

	t.Run("unknown recipient skipped", func(t *testing.T) {
		d := newTestDispatcher(t, dispatchConfig(), &fakeResolver{}, &fakeLogStore{}, &fakeEmail{}, nil, nil, nil)

		alert := testAlert(model.SeverityHigh)
		alert.Notifications = model.NotificationLog{
			{Channel: model.ChannelEmail, Recipient: "gone@city.gov", RecipientID: "gone", Status: model.DeliveryFailed, MaxRetries: 3},
		}

		summary, err := d.RetryFailed(context.Background(), alert, nil)
		require.NoError(t, err)
		assert.Empty(t, summary.Details)
	})
}

func TestRateLimit(t *testing.T) {
	cfg := dispatchConfig()
	cfg.Email.RateLimitPerMin = 1
	email := &fakeEmail{}
	store := &fakeLogStore{}
	cfg.WorkerLimit = 1
	resolver := &fakeResolver{users: []model.User{
		{ID: "u1", Email: "u1@city.gov", Preferences: model.NotificationPreferences{Email: true}},
		{ID: "u2", Email: "u2@city.gov", Preferences: model.NotificationPreferences{Email: true}},
		{ID: "u3", Email: "u3@city.gov", Preferences: model.NotificationPreferences{Email: true}},
	}}

	d := newTestDispatcher(t, cfg, resolver, store, email, nil, nil, nil)
	summary, err := d.Dispatch(context.Background(), testAlert(model.SeverityHigh))
	require.NoError(t, err)

	// Burst of 1: one send passes, the rest are recorded as failed.
	assert.Equal(t, 1, summary.SentCount)
	assert.Equal(t, 2, summary.FailedCount)
	for _, rec := range summary.Details {
		if rec.Status == model.DeliveryFailed {
			assert.Equal(t, "rate limit exceeded", rec.ErrorMessage)
		}
	}
}
