package database

import (
	"context"
	"database/sql/driver"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akhil-Ferry/Smart-city/internal/lifecycle"
	"github.com/Akhil-Ferry/Smart-city/internal/model"
)

func setupMockAlertRepo(t *testing.T) (sqlmock.Sqlmock, *AlertRepository) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return mock, NewAlertRepository(sqlxDB, logger)
}

var alertColumnNames = []string{
	"id", "alert_id", "type", "category", "severity", "status", "priority",
	"title", "description", "source", "threshold", "district",
	"assigned_to", "acknowledged_by", "acknowledged_at", "acknowledged_notes",
	"resolved_by", "resolved_at", "resolution_notes", "resolution_actions",
	"escalation_level", "escalation_history", "notifications",
	"related_alerts", "expires_at", "created_by", "created_at", "updated_at",
}

func alertRow() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(alertColumnNames).AddRow(
		"a1", "ALT-20260826-ABCD1234", "threshold", "air_quality", "high", "active", 8,
		"PM2.5 threshold exceeded", "Sensor AQ-17 over limit",
		[]byte(`{"type":"sensor","id":"AQ-17"}`),
		[]byte(`{"parameter":"pm25","value":50,"actual":82,"operator":">"}`),
		nil,
		[]byte(`{}`), nil, nil, nil,
		nil, nil, nil, []byte(`[]`),
		0, []byte(`[]`),
		[]byte(`[{"channel":"email","recipient":"u1@city.gov","sent_at":"2026-08-26T12:00:00Z","delivery_status":"failed","retry_count":0,"max_retries":3}]`),
		[]byte(`{}`), nil, "system", now, now,
	)
}

func TestInsert(t *testing.T) {
	mock, repo := setupMockAlertRepo(t)
	now := time.Now().UTC()

	alert := &model.Alert{
		ID:                "a1",
		AlertID:           "ALT-20260826-ABCD1234",
		Type:              model.TypeThreshold,
		Category:          model.CategoryAirQuality,
		Severity:          model.SeverityHigh,
		Status:            model.StatusActive,
		Priority:          8,
		Title:             "PM2.5 threshold exceeded",
		Description:       "Sensor AQ-17 over limit",
		Source:            model.Source{Type: model.SourceSensor, ID: "AQ-17"},
		AssignedTo:        pq.StringArray{},
		ResolutionActions: model.ResolutionActionList{},
		EscalationHistory: model.EscalationEventList{},
		Notifications:     model.NotificationLog{},
		RelatedAlerts:     pq.StringArray{},
		CreatedBy:         "system",
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// District and both note fields are unset here and must bind as SQL NULL;
	// the schema has to accept that for any alert created without them.
	args := make([]driver.Value, 28)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	args[11], args[15], args[18] = nil, nil, nil

	mock.ExpectExec(`(?s)INSERT INTO alerts`).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), alert))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mock, repo := setupMockAlertRepo(t)
		mock.ExpectQuery(`(?s)SELECT .+ FROM alerts WHERE id = \$1 OR alert_id = \$1`).
			WithArgs("a1").
			WillReturnRows(alertRow())

		alert, err := repo.GetByID(context.Background(), "a1")
		require.NoError(t, err)
		assert.Equal(t, "ALT-20260826-ABCD1234", alert.AlertID)
		assert.Equal(t, model.StatusActive, alert.Status)
		assert.Equal(t, model.SourceSensor, alert.Source.Type)
		require.NotNil(t, alert.Threshold)
		assert.Equal(t, 82.0, alert.Threshold.Actual)
		assert.Equal(t, 50.0, alert.Threshold.Limit)
		require.Len(t, alert.Notifications, 1)
		assert.Equal(t, model.DeliveryFailed, alert.Notifications[0].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing maps to not found", func(t *testing.T) {
		mock, repo := setupMockAlertRepo(t)
		mock.ExpectQuery(`(?s)SELECT .+ FROM alerts`).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(alertColumnNames))

		_, err := repo.GetByID(context.Background(), "ghost")
		assert.ErrorIs(t, err, lifecycle.ErrNotFound)
	})
}

func TestUpdateIfStatus(t *testing.T) {
	alert := &model.Alert{
		ID:       "a1",
		AlertID:  "ALT-20260826-ABCD1234",
		Severity: model.SeverityHigh,
		Status:   model.StatusAcknowledged,
	}

	t.Run("guard matches", func(t *testing.T) {
		mock, repo := setupMockAlertRepo(t)
		mock.ExpectExec(`(?s)UPDATE alerts SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		applied, err := repo.UpdateIfStatus(context.Background(), alert, model.StatusActive)
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("lost race reports zero rows", func(t *testing.T) {
		mock, repo := setupMockAlertRepo(t)
		mock.ExpectExec(`(?s)UPDATE alerts SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		applied, err := repo.UpdateIfStatus(context.Background(), alert, model.StatusActive)
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestAppendNotifications(t *testing.T) {
	entries := []model.NotificationRecord{
		{Channel: model.ChannelEmail, Recipient: "u1@city.gov", Status: model.DeliverySent},
	}

	t.Run("single atomic append", func(t *testing.T) {
		mock, repo := setupMockAlertRepo(t)
		mock.ExpectExec(`(?s)UPDATE alerts SET\s+notifications = notifications \|\| \$2::jsonb`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.AppendNotifications(context.Background(), "a1", entries)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty batch touches nothing", func(t *testing.T) {
		mock, repo := setupMockAlertRepo(t)
		err := repo.AppendNotifications(context.Background(), "a1", nil)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown alert", func(t *testing.T) {
		mock, repo := setupMockAlertRepo(t)
		mock.ExpectExec(`(?s)UPDATE alerts SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.AppendNotifications(context.Background(), "ghost", entries)
		assert.ErrorIs(t, err, lifecycle.ErrNotFound)
	})
}

func TestList(t *testing.T) {
	mock, repo := setupMockAlertRepo(t)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM alerts WHERE status = \$1`).
		WithArgs("active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`(?s)SELECT .+ FROM alerts WHERE status = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("active", 20).
		WillReturnRows(alertRow())

	alerts, total, err := repo.List(context.Background(), AlertFilter{Status: "active", Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, alerts, 1)
	assert.Equal(t, "a1", alerts[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListExpired(t *testing.T) {
	mock, repo := setupMockAlertRepo(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)SELECT .+ FROM alerts\s+WHERE expires_at IS NOT NULL AND expires_at < \$1`).
		WithArgs(now, 100).
		WillReturnRows(alertRow())

	alerts, err := repo.ListExpired(context.Background(), now, 100)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestListWithFailedNotifications(t *testing.T) {
	mock, repo := setupMockAlertRepo(t)

	mock.ExpectQuery(`(?s)WHERE notifications @> '\[\{"delivery_status": "failed"\}\]'`).
		WithArgs(50).
		WillReturnRows(alertRow())

	alerts, err := repo.ListWithFailedNotifications(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.DeliveryFailed, alerts[0].Notifications[0].Status)
}

func TestGetStats(t *testing.T) {
	mock, repo := setupMockAlertRepo(t)
	from := time.Now().AddDate(0, 0, -7)
	to := time.Now()

	mock.ExpectQuery(`(?s)SELECT\s+COUNT\(\*\) as total`).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{
			"total", "active", "acknowledged", "resolved", "false_positive",
			"expired", "critical", "high", "medium", "low",
		}).AddRow(10, 4, 2, 3, 1, 0, 1, 3, 4, 2))

	stats, err := repo.GetStats(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 4, stats.Active)
	assert.Equal(t, 1, stats.Critical)
}

func TestDeleteResolvedBefore(t *testing.T) {
	mock, repo := setupMockAlertRepo(t)
	cutoff := time.Now().AddDate(0, 0, -90)

	mock.ExpectExec(`(?s)DELETE FROM alerts\s+WHERE status IN \('resolved', 'false_positive', 'expired'\)`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := repo.DeleteResolvedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 7, deleted)
}
