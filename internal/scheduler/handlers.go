package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Akhil-Ferry/Smart-city/internal/config"
	"github.com/Akhil-Ferry/Smart-city/internal/database"
	"github.com/Akhil-Ferry/Smart-city/internal/lifecycle"
	"github.com/Akhil-Ferry/Smart-city/internal/model"
)

// Expirer is the slice of the lifecycle controller the expiry sweep needs.
type Expirer interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// RetryDispatcher re-attempts failed notification deliveries for one alert.
type RetryDispatcher interface {
	RetryFailed(ctx context.Context, alert *model.Alert, users []model.User) (*lifecycle.DispatchSummary, error)
}

// RegisterSweeps wires the standard background tasks onto the scheduler.
func RegisterSweeps(
	s *Scheduler,
	cfg config.SchedulerConfig,
	batch int,
	retryBatch int,
	alerts *database.AlertRepository,
	users *database.UserRepository,
	expirer Expirer,
	dispatcher RetryDispatcher,
	logger *slog.Logger,
) error {
	if batch <= 0 {
		batch = 100
	}
	if retryBatch <= 0 {
		retryBatch = 50
	}

	if err := s.Register(&Task{
		Name:     "alert-expiry-sweep",
		Schedule: cfg.ExpirySweepSchedule,
		Run: func(ctx context.Context) error {
			expired, err := expirer.ExpireDue(ctx, batch)
			if err != nil {
				return err
			}
			if expired > 0 {
				logger.Info("expired stale alerts", "count", expired)
			}
			return nil
		},
	}); err != nil {
		return err
	}

	if err := s.Register(&Task{
		Name:     "notification-retry-sweep",
		Schedule: cfg.RetrySweepSchedule,
		Run: func(ctx context.Context) error {
			return retryFailedNotifications(ctx, retryBatch, alerts, users, dispatcher, logger)
		},
	}); err != nil {
		return err
	}

	return s.Register(&Task{
		Name:     "resolved-alert-cleanup",
		Schedule: cfg.CleanupSchedule,
		Run: func(ctx context.Context) error {
			retention := cfg.AlertRetentionDays
			if retention <= 0 {
				retention = 90
			}
			cutoff := time.Now().UTC().AddDate(0, 0, -retention)
			deleted, err := alerts.DeleteResolvedBefore(ctx, cutoff)
			if err != nil {
				return err
			}
			if deleted > 0 {
				logger.Info("pruned old resolved alerts", "count", deleted, "cutoff", cutoff)
			}
			return nil
		},
	})
}

// retryFailedNotifications finds alerts carrying failed deliveries and runs
// one retry pass per alert. Recipients are refetched so retries go to the
// user's current address, not the one recorded at failure time.
func retryFailedNotifications(
	ctx context.Context,
	batch int,
	alerts *database.AlertRepository,
	users *database.UserRepository,
	dispatcher RetryDispatcher,
	logger *slog.Logger,
) error {
	pending, err := alerts.ListWithFailedNotifications(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to list alerts with failed notifications: %w", err)
	}

	for _, alert := range pending {
		recipientIDs := failedRecipientIDs(alert)
		if len(recipientIDs) == 0 {
			continue
		}

		recipients, err := users.GetByIDs(ctx, recipientIDs)
		if err != nil {
			logger.Error("failed to load retry recipients", "alert_id", alert.AlertID, "error", err)
			continue
		}

		summary, err := dispatcher.RetryFailed(ctx, alert, recipients)
		if err != nil {
			logger.Error("notification retry failed", "alert_id", alert.AlertID, "error", err)
			continue
		}
		if summary.SentCount > 0 || summary.FailedCount > 0 {
			logger.Info("notification retry pass completed",
				"alert_id", alert.AlertID,
				"sent", summary.SentCount,
				"failed", summary.FailedCount)
		}
	}
	return nil
}

func failedRecipientIDs(alert *model.Alert) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, rec := range alert.Notifications {
		if rec.Status != model.DeliveryFailed || rec.RecipientID == "" {
			continue
		}
		if _, ok := seen[rec.RecipientID]; ok {
			continue
		}
		seen[rec.RecipientID] = struct{}{}
		ids = append(ids, rec.RecipientID)
	}
	return ids
}
