package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Akhil-Ferry/Smart-city/internal/database"
	"github.com/Akhil-Ferry/Smart-city/internal/lifecycle"
	"github.com/Akhil-Ferry/Smart-city/internal/model"
)

// AlertHandlers exposes the alert lifecycle over REST.
type AlertHandlers struct {
	controller *lifecycle.Controller
	alerts     *database.AlertRepository
	hub        http.Handler
	logger     *slog.Logger
}

func NewAlertHandlers(controller *lifecycle.Controller, alerts *database.AlertRepository, hub http.Handler, logger *slog.Logger) *AlertHandlers {
	return &AlertHandlers{
		controller: controller,
		alerts:     alerts,
		hub:        hub,
		logger:     logger,
	}
}

// RegisterRoutes wires all alert endpoints onto the router.
func (h *AlertHandlers) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/alerts").Subrouter()

	api.HandleFunc("", h.CreateAlert).Methods(http.MethodPost)
	api.HandleFunc("", h.ListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.GetAlert).Methods(http.MethodGet)
	api.HandleFunc("/{id}/acknowledge", h.AcknowledgeAlert).Methods(http.MethodPost)
	api.HandleFunc("/{id}/resolve", h.ResolveAlert).Methods(http.MethodPost)
	api.HandleFunc("/{id}/escalate", h.EscalateAlert).Methods(http.MethodPost)
	api.HandleFunc("/{id}/false-positive", h.MarkFalsePositive).Methods(http.MethodPost)
	api.HandleFunc("/{id}/assign", h.AssignAlert).Methods(http.MethodPost)
	api.HandleFunc("/{id}/severity", h.UpdateSeverity).Methods(http.MethodPut)
	api.HandleFunc("/{id}/notifications", h.GetNotifications).Methods(http.MethodGet)

	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	if h.hub != nil {
		router.Handle("/ws", h.hub)
	}
}

// CreateAlert handles POST /api/alerts.
func (h *AlertHandlers) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var input lifecycle.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := h.controller.Create(r.Context(), input)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, alert)
}

// ListAlerts handles GET /api/alerts with filtering and pagination.
func (h *AlertHandlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := parseAlertFilter(r)

	alerts, total, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list alerts", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetAlert handles GET /api/alerts/{id}.
func (h *AlertHandlers) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

type actionRequest struct {
	Actor   string   `json:"actor"`
	Notes   string   `json:"notes,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Actions []string `json:"actions,omitempty"`
}

// AcknowledgeAlert handles POST /api/alerts/{id}/acknowledge.
func (h *AlertHandlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := h.controller.Acknowledge(r.Context(), mux.Vars(r)["id"], req.Actor, req.Notes)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

// ResolveAlert handles POST /api/alerts/{id}/resolve.
func (h *AlertHandlers) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := h.controller.Resolve(r.Context(), mux.Vars(r)["id"], req.Actor, req.Notes, req.Actions)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

// EscalateAlert handles POST /api/alerts/{id}/escalate.
func (h *AlertHandlers) EscalateAlert(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := h.controller.Escalate(r.Context(), mux.Vars(r)["id"], req.Actor, req.Reason)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

// MarkFalsePositive handles POST /api/alerts/{id}/false-positive.
func (h *AlertHandlers) MarkFalsePositive(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := h.controller.MarkFalsePositive(r.Context(), mux.Vars(r)["id"], req.Actor, req.Reason)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

// AssignAlert handles POST /api/alerts/{id}/assign.
func (h *AlertHandlers) AssignAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := h.controller.Assign(r.Context(), mux.Vars(r)["id"], req.UserIDs)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

// UpdateSeverity handles PUT /api/alerts/{id}/severity.
func (h *AlertHandlers) UpdateSeverity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Severity model.Severity `json:"severity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := h.controller.UpdateSeverity(r.Context(), mux.Vars(r)["id"], req.Severity)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

// GetNotifications handles GET /api/alerts/{id}/notifications.
func (h *AlertHandlers) GetNotifications(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}

	sent, failed := 0, 0
	for _, rec := range alert.Notifications {
		if rec.Status == model.DeliverySent || rec.Status == model.DeliveryDelivered {
			sent++
		} else if rec.Status == model.DeliveryFailed {
			failed++
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alert_id":      alert.AlertID,
		"sent_count":    sent,
		"failed_count":  failed,
		"notifications": alert.Notifications,
	})
}

// GetStats handles GET /api/alerts/stats.
func (h *AlertHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}

	stats, err := h.alerts.GetStats(r.Context(), from, to)
	if err != nil {
		h.logger.Error("failed to compute alert stats", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Health handles GET /health.
func (h *AlertHandlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "alerting-service",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func parseAlertFilter(r *http.Request) database.AlertFilter {
	q := r.URL.Query()
	filter := database.AlertFilter{
		Status:     q.Get("status"),
		Severity:   q.Get("severity"),
		Category:   q.Get("category"),
		AssignedTo: q.Get("assigned_to"),
		District:   q.Get("district"),
		Search:     q.Get("search"),
		SortBy:     q.Get("sort_by"),
		SortOrder:  q.Get("sort_order"),
		Limit:      50,
	}

	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 500 {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		filter.Offset = v
	}
	if t, err := time.Parse(time.RFC3339, q.Get("date_from")); err == nil {
		filter.DateFrom = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("date_to")); err == nil {
		filter.DateTo = &t
	}

	return filter
}

// writeLifecycleError maps domain errors onto HTTP status codes.
func (h *AlertHandlers) writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case lifecycle.IsValidation(err):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lifecycle.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "alert not found")
	case lifecycle.IsInvalidTransition(err), lifecycle.IsLimitExceeded(err):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, lifecycle.ErrStoreUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		h.logger.Error("unhandled lifecycle error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *AlertHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *AlertHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
