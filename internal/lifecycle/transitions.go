package lifecycle

import (
	"time"

	"github.com/Akhil-Ferry/Smart-city/internal/model"
)

// Pure transition functions. Each takes the current document, validates the
// lifecycle rule, and returns a stamped copy. Persistence is the store
// adapter's job; these functions never touch storage, so a losing racer is
// simply re-validated against the refreshed document.

// ApplyAcknowledge moves an alert from active to acknowledged.
func ApplyAcknowledge(a model.Alert, actor, notes string, now time.Time) (model.Alert, error) {
	if a.Status != model.StatusActive {
		return a, &InvalidTransitionError{AlertID: a.AlertID, From: string(a.Status), Action: "acknowledge"}
	}
	a.Status = model.StatusAcknowledged
	a.AcknowledgedBy = &actor
	a.AcknowledgedAt = &now
	if notes != "" {
		a.AcknowledgedNotes = &notes
	}
	a.UpdatedAt = now
	return a, nil
}

// ApplyResolve moves an alert from any non-terminal status to resolved and
// appends the supplied resolution actions, each stamped with actor and time.
func ApplyResolve(a model.Alert, actor, notes string, actions []string, now time.Time) (model.Alert, error) {
	if a.Status.Terminal() {
		return a, &InvalidTransitionError{AlertID: a.AlertID, From: string(a.Status), Action: "resolve"}
	}
	a.Status = model.StatusResolved
	a.ResolvedBy = &actor
	a.ResolvedAt = &now
	if notes != "" {
		a.ResolutionNotes = &notes
	}
	for _, action := range actions {
		a.ResolutionActions = append(a.ResolutionActions, model.ResolutionAction{
			Action:      action,
			PerformedBy: actor,
			PerformedAt: now,
		})
	}
	a.UpdatedAt = now
	return a, nil
}

// ApplyFalsePositive closes an alert as a false positive. Legal from any
// non-terminal status; the reason lands in the resolution notes.
func ApplyFalsePositive(a model.Alert, actor, reason string, now time.Time) (model.Alert, error) {
	if a.Status.Terminal() {
		return a, &InvalidTransitionError{AlertID: a.AlertID, From: string(a.Status), Action: "false_positive"}
	}
	a.Status = model.StatusFalsePositive
	a.ResolvedBy = &actor
	a.ResolvedAt = &now
	if reason != "" {
		a.ResolutionNotes = &reason
	}
	a.UpdatedAt = now
	return a, nil
}

// ApplyEscalate raises an alert's escalation level and priority. Legal only
// from active or acknowledged; level 5 is a hard cap and a further escalate
// is rejected with LimitExceededError.
func ApplyEscalate(a model.Alert, actor, reason string, now time.Time) (model.Alert, error) {
	if a.Status != model.StatusActive && a.Status != model.StatusAcknowledged {
		return a, &InvalidTransitionError{AlertID: a.AlertID, From: string(a.Status), Action: "escalate"}
	}
	if a.EscalationLevel >= model.MaxEscalationLevel {
		return a, &LimitExceededError{AlertID: a.AlertID, Level: a.EscalationLevel}
	}
	a.EscalationLevel++
	a.EscalationHistory = append(a.EscalationHistory, model.EscalationEvent{
		Level:     a.EscalationLevel,
		Timestamp: now,
		Actor:     actor,
		Reason:    reason,
	})
	a.Priority += model.EscalationPriorityStep
	if a.Priority > model.MaxPriority {
		a.Priority = model.MaxPriority
	}
	a.UpdatedAt = now
	return a, nil
}

// ApplyAssign replaces the assignee set. Assignment is orthogonal to the
// lifecycle and is legal from any status.
func ApplyAssign(a model.Alert, userIDs []string, now time.Time) (model.Alert, error) {
	if len(userIDs) == 0 {
		return a, &ValidationError{Field: "assigned_to", Reason: "at least one recipient required"}
	}
	a.AssignedTo = userIDs
	a.UpdatedAt = now
	return a, nil
}

// ApplyExpire moves an alert whose expires_at has elapsed to expired.
func ApplyExpire(a model.Alert, now time.Time) (model.Alert, error) {
	if a.Status.Terminal() {
		return a, &InvalidTransitionError{AlertID: a.AlertID, From: string(a.Status), Action: "expire"}
	}
	a.Status = model.StatusExpired
	a.UpdatedAt = now
	return a, nil
}

// ApplySeverity changes severity and re-derives the base priority, keeping
// the increments accumulated through escalation.
func ApplySeverity(a model.Alert, severity model.Severity, now time.Time) (model.Alert, error) {
	if !model.ValidSeverity(severity) {
		return a, &ValidationError{Field: "severity", Reason: "unknown severity"}
	}
	a.Severity = severity
	a.Priority = model.PriorityForSeverity(severity) + a.EscalationLevel*model.EscalationPriorityStep
	if a.Priority > model.MaxPriority {
		a.Priority = model.MaxPriority
	}
	a.UpdatedAt = now
	return a, nil
}
