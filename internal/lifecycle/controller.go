package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Akhil-Ferry/Smart-city/internal/model"
)

// AlertStore is the persistence contract the controller drives. Writes are
// atomic per document; UpdateIfStatus only applies when the stored status
// still matches, which is how concurrent transitions against the same alert
// are resolved.
type AlertStore interface {
	Insert(ctx context.Context, alert *model.Alert) error
	GetByID(ctx context.Context, id string) (*model.Alert, error)
	UpdateIfStatus(ctx context.Context, alert *model.Alert, expected ...model.Status) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.Alert, error)
}

// UserDirectory resolves user references for assignment validation.
type UserDirectory interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.User, error)
}

// Dispatcher fans a saved alert out to its recipients. Dispatch failures are
// recorded on the alert, never surfaced to the lifecycle caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *model.Alert) (*DispatchSummary, error)
}

// DispatchSummary is the per-run outcome returned by the dispatcher.
type DispatchSummary struct {
	SentCount   int                        `json:"sent_count"`
	FailedCount int                        `json:"failed_count"`
	Details     []model.NotificationRecord `json:"details"`
}

// Publisher emits alert lifecycle events to the message bus, best effort.
type Publisher interface {
	PublishAlertEvent(ctx context.Context, event string, alert *model.Alert) error
}

// Recorder receives transition metrics.
type Recorder interface {
	RecordAlertCreated(severity, category string)
	RecordTransition(action, outcome string)
}

// Options tunes controller behavior.
type Options struct {
	// NotifyOnSeverityUpgrade triggers a dispatch when severity is raised.
	NotifyOnSeverityUpgrade bool
	// DispatchTimeout bounds the asynchronous notification run.
	DispatchTimeout time.Duration
	// AlertTTL sets expires_at on creation when the input carries none.
	AlertTTL time.Duration
}

// Controller enforces the alert state machine and stamps actor and time
// metadata on every transition.
type Controller struct {
	store      AlertStore
	users      UserDirectory
	dispatcher Dispatcher
	publisher  Publisher
	recorder   Recorder
	logger     *slog.Logger
	validate   *validator.Validate
	opts       Options
	now        func() time.Time
}

// NewController creates a lifecycle controller. dispatcher, publisher and
// recorder may be nil.
func NewController(
	store AlertStore,
	users UserDirectory,
	dispatcher Dispatcher,
	publisher Publisher,
	recorder Recorder,
	logger *slog.Logger,
	opts Options,
) *Controller {
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 30 * time.Second
	}
	return &Controller{
		store:      store,
		users:      users,
		dispatcher: dispatcher,
		publisher:  publisher,
		recorder:   recorder,
		logger:     logger,
		validate:   validator.New(),
		opts:       opts,
		now:        time.Now,
	}
}

// CreateInput carries the fields required to open an alert.
type CreateInput struct {
	Type        model.AlertType  `json:"type" validate:"required"`
	Category    model.Category   `json:"category" validate:"required"`
	Severity    model.Severity   `json:"severity" validate:"required"`
	Title       string           `json:"title" validate:"required,min=3,max=200"`
	Description string           `json:"description" validate:"required,min=3,max=2000"`
	Source      model.Source     `json:"source"`
	Threshold   *model.Threshold `json:"threshold,omitempty"`
	District    string           `json:"district,omitempty"`
	CreatedBy   string           `json:"created_by,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
	Related     []string         `json:"related_alerts,omitempty"`
}

// Create validates the input and opens a new active alert. Recipient
// resolution and dispatch run asynchronously; their failures never fail the
// creation itself.
func (c *Controller) Create(ctx context.Context, input CreateInput) (*model.Alert, error) {
	if err := c.validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, &ValidationError{Field: strings.ToLower(verrs[0].Field()), Reason: verrs[0].Tag()}
		}
		return nil, &ValidationError{Reason: err.Error()}
	}
	if !model.ValidAlertType(input.Type) {
		return nil, &ValidationError{Field: "type", Reason: "unknown alert type"}
	}
	if !model.ValidCategory(input.Category) {
		return nil, &ValidationError{Field: "category", Reason: "unknown category"}
	}
	if !model.ValidSeverity(input.Severity) {
		return nil, &ValidationError{Field: "severity", Reason: "unknown severity"}
	}
	if input.Source.ID == "" || !model.ValidSourceType(input.Source.Type) {
		return nil, &ValidationError{Field: "source", Reason: "source type and id are required"}
	}

	now := c.now().UTC()
	alert := &model.Alert{
		ID:                uuid.NewString(),
		AlertID:           generateAlertID(now),
		Type:              input.Type,
		Category:          input.Category,
		Severity:          input.Severity,
		Status:            model.StatusActive,
		Priority:          model.PriorityForSeverity(input.Severity),
		Title:             input.Title,
		Description:       input.Description,
		Source:            input.Source,
		Threshold:         input.Threshold,
		AssignedTo:        []string{},
		ResolutionActions: model.ResolutionActionList{},
		EscalationHistory: model.EscalationEventList{},
		Notifications:     model.NotificationLog{},
		RelatedAlerts:     input.Related,
		CreatedBy:         input.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if input.District != "" {
		alert.District = &input.District
	}
	if input.ExpiresAt != nil {
		alert.ExpiresAt = input.ExpiresAt
	} else if c.opts.AlertTTL > 0 {
		exp := now.Add(c.opts.AlertTTL)
		alert.ExpiresAt = &exp
	}
	if alert.RelatedAlerts == nil {
		alert.RelatedAlerts = []string{}
	}

	if err := c.store.Insert(ctx, alert); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if c.recorder != nil {
		c.recorder.RecordAlertCreated(string(alert.Severity), string(alert.Category))
	}
	c.logger.Info("alert created",
		"alert_id", alert.AlertID,
		"category", alert.Category,
		"severity", alert.Severity,
		"priority", alert.Priority)

	c.publish("alert.created", alert)
	c.dispatchAsync(alert)
	return alert, nil
}

// Acknowledge moves an active alert to acknowledged.
func (c *Controller) Acknowledge(ctx context.Context, id, actor, notes string) (*model.Alert, error) {
	return c.transition(ctx, id, "acknowledge", func(a model.Alert) (model.Alert, error) {
		return ApplyAcknowledge(a, actor, notes, c.now().UTC())
	})
}

// Resolve moves a non-terminal alert to resolved, recording the actions taken.
func (c *Controller) Resolve(ctx context.Context, id, actor, notes string, actions []string) (*model.Alert, error) {
	alert, err := c.transition(ctx, id, "resolve", func(a model.Alert) (model.Alert, error) {
		return ApplyResolve(a, actor, notes, actions, c.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	c.publish("alert.resolved", alert)
	return alert, nil
}

// MarkFalsePositive closes a non-terminal alert as a false positive.
func (c *Controller) MarkFalsePositive(ctx context.Context, id, actor, reason string) (*model.Alert, error) {
	alert, err := c.transition(ctx, id, "false_positive", func(a model.Alert) (model.Alert, error) {
		return ApplyFalsePositive(a, actor, reason, c.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	c.publish("alert.false_positive", alert)
	return alert, nil
}

// Escalate raises a live alert's escalation level and priority and triggers
// a fresh dispatch.
func (c *Controller) Escalate(ctx context.Context, id, actor, reason string) (*model.Alert, error) {
	alert, err := c.transition(ctx, id, "escalate", func(a model.Alert) (model.Alert, error) {
		return ApplyEscalate(a, actor, reason, c.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("alert escalated",
		"alert_id", alert.AlertID,
		"level", alert.EscalationLevel,
		"priority", alert.Priority,
		"actor", actor)
	c.publish("alert.escalated", alert)
	c.dispatchAsync(alert)
	return alert, nil
}

// Assign replaces the assignee set. Every reference must resolve to a known
// user. Assignment is legal from any status.
func (c *Controller) Assign(ctx context.Context, id string, userIDs []string) (*model.Alert, error) {
	if len(userIDs) == 0 {
		return nil, &ValidationError{Field: "assigned_to", Reason: "at least one recipient required"}
	}
	if c.users != nil {
		found, err := c.users.GetByIDs(ctx, userIDs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if len(found) != len(userIDs) {
			return nil, &ValidationError{Field: "assigned_to", Reason: "unknown user reference"}
		}
	}
	return c.transition(ctx, id, "assign", func(a model.Alert) (model.Alert, error) {
		return ApplyAssign(a, userIDs, c.now().UTC())
	})
}

// UpdateSeverity changes severity and re-derives priority. An upgrade can
// trigger a dispatch when configured.
func (c *Controller) UpdateSeverity(ctx context.Context, id string, severity model.Severity) (*model.Alert, error) {
	var upgraded bool
	alert, err := c.transition(ctx, id, "severity", func(a model.Alert) (model.Alert, error) {
		upgraded = model.PriorityForSeverity(severity) > model.PriorityForSeverity(a.Severity)
		return ApplySeverity(a, severity, c.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	if upgraded && c.opts.NotifyOnSeverityUpgrade {
		c.dispatchAsync(alert)
	}
	return alert, nil
}

// Expire moves a non-terminal alert to expired. Driven by the background
// sweep, not by user action.
func (c *Controller) Expire(ctx context.Context, id string) (*model.Alert, error) {
	return c.transition(ctx, id, "expire", func(a model.Alert) (model.Alert, error) {
		return ApplyExpire(a, c.now().UTC())
	})
}

// ExpireDue sweeps alerts whose expires_at has elapsed. Returns the number
// expired.
func (c *Controller) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := c.store.ListExpired(ctx, c.now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	expired := 0
	for _, alert := range due {
		if _, err := c.Expire(ctx, alert.ID); err != nil {
			// A racer may have resolved it first; that is fine.
			if IsInvalidTransition(err) {
				continue
			}
			c.logger.Error("expiry sweep failed for alert", "alert_id", alert.AlertID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

// transition loads the alert, applies the pure transition, and persists it
// conditionally on the status it was computed from. The loser of a
// concurrent race observes a refreshed status and gets InvalidTransition.
func (c *Controller) transition(
	ctx context.Context,
	id string,
	action string,
	apply func(model.Alert) (model.Alert, error),
) (*model.Alert, error) {
	record := func(outcome string) {
		if c.recorder != nil {
			c.recorder.RecordTransition(action, outcome)
		}
	}

	current, err := c.store.GetByID(ctx, id)
	if err != nil {
		record("error")
		return nil, err
	}

	next, err := apply(*current)
	if err != nil {
		record("rejected")
		return nil, err
	}

	applied, err := c.store.UpdateIfStatus(ctx, &next, current.Status)
	if err != nil {
		record("error")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !applied {
		record("rejected")
		// Lost a race: re-read to report the real current status.
		fresh, ferr := c.store.GetByID(ctx, id)
		if ferr != nil {
			return nil, ferr
		}
		return nil, &InvalidTransitionError{AlertID: fresh.AlertID, From: string(fresh.Status), Action: action}
	}

	record("applied")
	return &next, nil
}

// dispatchAsync runs recipient resolution and notification fan-out in the
// background. The alert is already saved; nothing here can undo that.
func (c *Controller) dispatchAsync(alert *model.Alert) {
	if c.dispatcher == nil {
		return
	}
	copied := *alert
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.DispatchTimeout)
		defer cancel()
		summary, err := c.dispatcher.Dispatch(ctx, &copied)
		if err != nil {
			c.logger.Error("notification dispatch failed", "alert_id", copied.AlertID, "error", err)
			return
		}
		c.logger.Info("notification dispatch complete",
			"alert_id", copied.AlertID,
			"sent", summary.SentCount,
			"failed", summary.FailedCount)
	}()
}

func (c *Controller) publish(event string, alert *model.Alert) {
	if c.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.publisher.PublishAlertEvent(ctx, event, alert); err != nil {
		c.logger.Error("failed to publish alert event", "event", event, "alert_id", alert.AlertID, "error", err)
	}
}

func generateAlertID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ALT-%s-%s", now.Format("20060102"), suffix)
}
