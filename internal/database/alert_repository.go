package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Akhil-Ferry/Smart-city/internal/lifecycle"
	"github.com/Akhil-Ferry/Smart-city/internal/model"
)

// AlertRepository persists alert documents. Every mutation is a single
// statement, so the store's per-document atomicity is the per-statement
// atomicity of PostgreSQL.
type AlertRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewAlertRepository creates a new alert repository.
func NewAlertRepository(db *sqlx.DB, logger *slog.Logger) *AlertRepository {
	return &AlertRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

const alertColumns = `
	id, alert_id, type, category, severity, status, priority,
	title, description, source, threshold, district,
	assigned_to, acknowledged_by, acknowledged_at, acknowledged_notes,
	resolved_by, resolved_at, resolution_notes, resolution_actions,
	escalation_level, escalation_history, notifications,
	related_alerts, expires_at, created_by, created_at, updated_at`

// Insert creates a new alert document.
func (r *AlertRepository) Insert(ctx context.Context, alert *model.Alert) error {
	query := `
		INSERT INTO alerts (` + alertColumns + `
		) VALUES (
			:id, :alert_id, :type, :category, :severity, :status, :priority,
			:title, :description, :source, :threshold, :district,
			:assigned_to, :acknowledged_by, :acknowledged_at, :acknowledged_notes,
			:resolved_by, :resolved_at, :resolution_notes, :resolution_actions,
			:escalation_level, :escalation_history, :notifications,
			:related_alerts, :expires_at, :created_by, :created_at, :updated_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, alert)
	if err != nil {
		r.logger.Error("failed to insert alert", "alert_id", alert.AlertID, "error", err)
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

// GetByID retrieves an alert by internal id or by its human-readable alert id.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1 OR alert_id = $1`

	var alert model.Alert
	err := r.db.GetContext(ctx, &alert, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("alert %s: %w", id, lifecycle.ErrNotFound)
		}
		r.logger.Error("failed to get alert", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return &alert, nil
}

// UpdateIfStatus writes the full mutable state of the alert, but only when
// the stored status still matches one of the expected values. Returns false
// when the guard did not match, which is how a concurrent transition race is
// detected.
func (r *AlertRepository) UpdateIfStatus(ctx context.Context, alert *model.Alert, expected ...model.Status) (bool, error) {
	statuses := make([]string, len(expected))
	for i, s := range expected {
		statuses[i] = string(s)
	}

	query := `
		UPDATE alerts SET
			severity = :severity,
			status = :status,
			priority = :priority,
			assigned_to = :assigned_to,
			acknowledged_by = :acknowledged_by,
			acknowledged_at = :acknowledged_at,
			acknowledged_notes = :acknowledged_notes,
			resolved_by = :resolved_by,
			resolved_at = :resolved_at,
			resolution_notes = :resolution_notes,
			resolution_actions = :resolution_actions,
			escalation_level = :escalation_level,
			escalation_history = :escalation_history,
			updated_at = :updated_at
		WHERE id = :id AND status = ANY(:expected_statuses)`

	args := map[string]interface{}{
		"severity":           alert.Severity,
		"status":             alert.Status,
		"priority":           alert.Priority,
		"assigned_to":        alert.AssignedTo,
		"acknowledged_by":    alert.AcknowledgedBy,
		"acknowledged_at":    alert.AcknowledgedAt,
		"acknowledged_notes": alert.AcknowledgedNotes,
		"resolved_by":        alert.ResolvedBy,
		"resolved_at":        alert.ResolvedAt,
		"resolution_notes":   alert.ResolutionNotes,
		"resolution_actions": alert.ResolutionActions,
		"escalation_level":   alert.EscalationLevel,
		"escalation_history": alert.EscalationHistory,
		"updated_at":         alert.UpdatedAt,
		"id":                 alert.ID,
		"expected_statuses":  pq.Array(statuses),
	}

	result, err := sqlx.NamedExecContext(ctx, r.db, query, args)
	if err != nil {
		r.logger.Error("failed to update alert", "alert_id", alert.AlertID, "error", err)
		return false, fmt.Errorf("failed to update alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// AppendNotifications appends a batch of notification log entries in one
// atomic update. The log is append-only; entries are never edited or removed.
func (r *AlertRepository) AppendNotifications(ctx context.Context, id string, entries []model.NotificationRecord) error {
	if len(entries) == 0 {
		return nil
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal notification entries: %w", err)
	}

	query := `
		UPDATE alerts SET
			notifications = notifications || $2::jsonb,
			updated_at = NOW()
		WHERE id = $1 OR alert_id = $1`

	result, err := r.db.ExecContext(ctx, query, id, payload)
	if err != nil {
		r.logger.Error("failed to append notifications", "id", id, "error", err)
		return fmt.Errorf("failed to append notifications: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert %s: %w", id, lifecycle.ErrNotFound)
	}

	return nil
}

// List retrieves alerts with filtering and pagination.
func (r *AlertRepository) List(ctx context.Context, filter AlertFilter) ([]*model.Alert, int, error) {
	whereClause, args := r.buildWhereClause(filter)

	countQuery := "SELECT COUNT(*) FROM alerts " + whereClause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		r.logger.Error("failed to count alerts", "error", err)
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM alerts %s %s %s",
		alertColumns, whereClause, r.buildOrderClause(filter), r.buildLimitClause(filter, &args))

	var alerts []*model.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		r.logger.Error("failed to list alerts", "error", err)
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}

	return alerts, total, nil
}

// ListExpired retrieves non-terminal alerts whose expires_at has elapsed.
func (r *AlertRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.Alert, error) {
	query := `
		SELECT ` + alertColumns + ` FROM alerts
		WHERE expires_at IS NOT NULL AND expires_at < $1
		AND status IN ('active', 'acknowledged')
		ORDER BY expires_at ASC
		LIMIT $2`

	var alerts []*model.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, now, limit); err != nil {
		r.logger.Error("failed to list expired alerts", "error", err)
		return nil, fmt.Errorf("failed to list expired alerts: %w", err)
	}

	return alerts, nil
}

// ListWithFailedNotifications retrieves alerts carrying failed notification
// log entries, for the retry sweep to consume.
func (r *AlertRepository) ListWithFailedNotifications(ctx context.Context, limit int) ([]*model.Alert, error) {
	query := `
		SELECT ` + alertColumns + ` FROM alerts
		WHERE notifications @> '[{"delivery_status": "failed"}]'
		ORDER BY updated_at ASC
		LIMIT $1`

	var alerts []*model.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, limit); err != nil {
		r.logger.Error("failed to list alerts with failed notifications", "error", err)
		return nil, fmt.Errorf("failed to list alerts with failed notifications: %w", err)
	}

	return alerts, nil
}

// GetStats aggregates alert counts by status and severity over a time range.
func (r *AlertRepository) GetStats(ctx context.Context, from, to time.Time) (*AlertStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN status = 'active' THEN 1 END) as active,
			COUNT(CASE WHEN status = 'acknowledged' THEN 1 END) as acknowledged,
			COUNT(CASE WHEN status = 'resolved' THEN 1 END) as resolved,
			COUNT(CASE WHEN status = 'false_positive' THEN 1 END) as false_positive,
			COUNT(CASE WHEN status = 'expired' THEN 1 END) as expired,
			COUNT(CASE WHEN severity = 'critical' THEN 1 END) as critical,
			COUNT(CASE WHEN severity = 'high' THEN 1 END) as high,
			COUNT(CASE WHEN severity = 'medium' THEN 1 END) as medium,
			COUNT(CASE WHEN severity = 'low' THEN 1 END) as low
		FROM alerts
		WHERE created_at >= $1 AND created_at <= $2`

	var stats AlertStats
	if err := r.db.GetContext(ctx, &stats, query, from, to); err != nil {
		r.logger.Error("failed to get alert stats", "error", err)
		return nil, fmt.Errorf("failed to get alert stats: %w", err)
	}

	return &stats, nil
}

// DeleteResolvedBefore removes terminal alerts older than the cutoff.
// Administrative retention only; live alerts are never deleted.
func (r *AlertRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM alerts
		WHERE status IN ('resolved', 'false_positive', 'expired')
		AND updated_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		r.logger.Error("failed to clean up alerts", "error", err)
		return 0, fmt.Errorf("failed to clean up alerts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

func (r *AlertRepository) buildWhereClause(filter AlertFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	argIndex := 0

	add := func(cond string, value interface{}) {
		argIndex++
		conditions = append(conditions, fmt.Sprintf(cond, argIndex))
		args = append(args, value)
	}

	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Severity != "" {
		add("severity = $%d", filter.Severity)
	}
	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}
	if filter.District != "" {
		add("district = $%d", filter.District)
	}
	if filter.AssignedTo != "" {
		add("$%d = ANY(assigned_to)", filter.AssignedTo)
	}
	if filter.DateFrom != nil {
		add("created_at >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		add("created_at <= $%d", *filter.DateTo)
	}
	if filter.Search != "" {
		argIndex++
		conditions = append(conditions, fmt.Sprintf(
			"(title ILIKE $%d OR description ILIKE $%d OR alert_id ILIKE $%d)",
			argIndex, argIndex, argIndex))
		args = append(args, "%"+filter.Search+"%")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

var sortableColumns = map[string]bool{
	"created_at":       true,
	"updated_at":       true,
	"priority":         true,
	"severity":         true,
	"status":           true,
	"escalation_level": true,
}

func (r *AlertRepository) buildOrderClause(filter AlertFilter) string {
	sortBy := "created_at"
	if sortableColumns[filter.SortBy] {
		sortBy = filter.SortBy
	}

	sortOrder := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		sortOrder = "ASC"
	}

	return fmt.Sprintf("ORDER BY %s %s", sortBy, sortOrder)
}

func (r *AlertRepository) buildLimitClause(filter AlertFilter, args *[]interface{}) string {
	if filter.Limit <= 0 {
		return ""
	}

	*args = append(*args, filter.Limit)
	clause := fmt.Sprintf("LIMIT $%d", len(*args))

	if filter.Offset > 0 {
		*args = append(*args, filter.Offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(*args))
	}

	return clause
}
