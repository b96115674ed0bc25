package handlers

import (
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akhil-Ferry/Smart-city/internal/database"
	"github.com/Akhil-Ferry/Smart-city/internal/lifecycle"
)

var alertColumnNames = []string{
	"id", "alert_id", "type", "category", "severity", "status", "priority",
	"title", "description", "source", "threshold", "district",
	"assigned_to", "acknowledged_by", "acknowledged_at", "acknowledged_notes",
	"resolved_by", "resolved_at", "resolution_notes", "resolution_actions",
	"escalation_level", "escalation_history", "notifications",
	"related_alerts", "expires_at", "created_by", "created_at", "updated_at",
}

func alertRow(status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(alertColumnNames).AddRow(
		"a1", "ALT-20250301-DEADBEEF", "threshold", "air_quality", "high", status, 8,
		"PM2.5 exceeded", "Reading above configured limit",
		[]byte(`{"type": "sensor", "id": "AQ-17"}`), []byte(`{"parameter": "pm25", "value": 50, "actual": 82, "operator": ">"}`), nil,
		[]byte(`{}`), nil, nil, nil,
		nil, nil, nil, []byte(`[]`),
		0, []byte(`[]`), []byte(`[{"channel": "email", "recipient": "ops@city.gov", "recipient_id": "u1", "sent_at": "2025-03-01T10:00:00Z", "delivery_status": "failed", "error_message": "mailbox full", "retry_count": 0, "max_retries": 3}]`),
		[]byte(`{}`), nil, "system", now, now,
	)
}

func setupRouter(t *testing.T) (sqlmock.Sqlmock, *mux.Router) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := database.NewAlertRepository(sqlx.NewDb(db, "postgres"), logger)
	controller := lifecycle.NewController(repo, nil, nil, nil, nil, logger, lifecycle.Options{})

	router := mux.NewRouter()
	NewAlertHandlers(controller, repo, nil, logger).RegisterRoutes(router)
	return mock, router
}

func doRequest(router *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCreateAlertEndpoint(t *testing.T) {
	t.Run("creates alert", func(t *testing.T) {
		mock, router := setupRouter(t)
		mock.ExpectExec(`(?s)INSERT INTO alerts`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rr := doRequest(router, http.MethodPost, "/api/alerts", `{
			"type": "threshold",
			"category": "air_quality",
			"severity": "high",
			"title": "PM2.5 exceeded",
			"description": "Reading above configured limit",
			"source": {"type": "sensor", "id": "AQ-17"}
		}`)

		require.Equal(t, http.StatusCreated, rr.Code)
		var alert struct {
			AlertID  string `json:"alert_id"`
			Status   string `json:"status"`
			Priority int    `json:"priority"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &alert))
		assert.Regexp(t, `^ALT-\d{8}-[0-9A-F]{8}$`, alert.AlertID)
		assert.Equal(t, "active", alert.Status)
		assert.Equal(t, 8, alert.Priority)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects missing title", func(t *testing.T) {
		_, router := setupRouter(t)

		rr := doRequest(router, http.MethodPost, "/api/alerts", `{
			"type": "threshold",
			"category": "air_quality",
			"severity": "high",
			"description": "Reading above configured limit",
			"source": {"type": "sensor", "id": "AQ-17"}
		}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "title")
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		_, router := setupRouter(t)
		rr := doRequest(router, http.MethodPost, "/api/alerts", `{not json`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetAlertEndpoint(t *testing.T) {
	t.Run("returns alert", func(t *testing.T) {
		mock, router := setupRouter(t)
		mock.ExpectQuery(`(?s)SELECT .+ FROM alerts WHERE id = \$1 OR alert_id = \$1`).
			WithArgs("a1").
			WillReturnRows(alertRow("active"))

		rr := doRequest(router, http.MethodGet, "/api/alerts/a1", "")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "ALT-20250301-DEADBEEF")
	})

	t.Run("maps missing alert to 404", func(t *testing.T) {
		mock, router := setupRouter(t)
		mock.ExpectQuery(`(?s)SELECT .+ FROM alerts WHERE id = \$1 OR alert_id = \$1`).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		rr := doRequest(router, http.MethodGet, "/api/alerts/ghost", "")

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestAcknowledgeEndpoint(t *testing.T) {
	t.Run("acknowledges active alert", func(t *testing.T) {
		mock, router := setupRouter(t)
		mock.ExpectQuery(`(?s)SELECT .+ FROM alerts WHERE id = \$1 OR alert_id = \$1`).
			WithArgs("a1").
			WillReturnRows(alertRow("active"))
		mock.ExpectExec(`(?s)UPDATE alerts SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rr := doRequest(router, http.MethodPost, "/api/alerts/a1/acknowledge",
			`{"actor": "u-42", "notes": "on it"}`)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"acknowledged"`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects terminal alert with 409", func(t *testing.T) {
		mock, router := setupRouter(t)
		mock.ExpectQuery(`(?s)SELECT .+ FROM alerts WHERE id = \$1 OR alert_id = \$1`).
			WithArgs("a1").
			WillReturnRows(alertRow("resolved"))

		rr := doRequest(router, http.MethodPost, "/api/alerts/a1/acknowledge",
			`{"actor": "u-42"}`)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestFalsePositiveEndpoint(t *testing.T) {
	mock, router := setupRouter(t)
	mock.ExpectQuery(`(?s)SELECT .+ FROM alerts WHERE id = \$1 OR alert_id = \$1`).
		WithArgs("a1").
		WillReturnRows(alertRow("active"))
	mock.ExpectExec(`(?s)UPDATE alerts SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := doRequest(router, http.MethodPost, "/api/alerts/a1/false-positive",
		`{"actor": "u-42", "reason": "sensor miscalibrated"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"false_positive"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignEndpoint(t *testing.T) {
	t.Run("rejects empty assignee set", func(t *testing.T) {
		_, router := setupRouter(t)
		rr := doRequest(router, http.MethodPost, "/api/alerts/a1/assign", `{"user_ids": []}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestListAlertsEndpoint(t *testing.T) {
	mock, router := setupRouter(t)
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM alerts WHERE status = \$1`).
		WithArgs("active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`(?s)SELECT .+ FROM alerts WHERE status = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("active", 50).
		WillReturnRows(alertRow("active"))

	rr := doRequest(router, http.MethodGet, "/api/alerts?status=active", "")

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Alerts []json.RawMessage `json:"alerts"`
		Total  int               `json:"total"`
		Limit  int               `json:"limit"`
		Offset int               `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Alerts, 1)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, 50, resp.Limit)
}

func TestNotificationsEndpoint(t *testing.T) {
	mock, router := setupRouter(t)
	mock.ExpectQuery(`(?s)SELECT .+ FROM alerts WHERE id = \$1 OR alert_id = \$1`).
		WithArgs("a1").
		WillReturnRows(alertRow("active"))

	rr := doRequest(router, http.MethodGet, "/api/alerts/a1/notifications", "")

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		AlertID       string            `json:"alert_id"`
		SentCount     int               `json:"sent_count"`
		FailedCount   int               `json:"failed_count"`
		Notifications []json.RawMessage `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ALT-20250301-DEADBEEF", resp.AlertID)
	assert.Equal(t, 0, resp.SentCount)
	assert.Equal(t, 1, resp.FailedCount)
	assert.Len(t, resp.Notifications, 1)
}

func TestStatsEndpoint(t *testing.T) {
	mock, router := setupRouter(t)
	mock.ExpectQuery(`(?s)SELECT\s+COUNT\(\*\) as total`).
		WillReturnRows(sqlmock.NewRows([]string{
			"total", "active", "acknowledged", "resolved", "false_positive",
			"expired", "critical", "high", "medium", "low",
		}).AddRow(5, 2, 1, 2, 0, 0, 1, 2, 1, 1))

	rr := doRequest(router, http.MethodGet, "/api/alerts/stats", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"total":5`)
}

func TestHealthEndpoint(t *testing.T) {
	_, router := setupRouter(t)
	rr := doRequest(router, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")
}
