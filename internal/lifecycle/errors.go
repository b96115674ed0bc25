package lifecycle

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced alert or user does not exist.
var ErrNotFound = errors.New("not found")

// ErrStoreUnavailable wraps store failures that are fatal to the current
// request only.
var ErrStoreUnavailable = errors.New("store unavailable")

// ValidationError reports malformed or missing input. The caller can recover
// by correcting the input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports a lifecycle rule violation, including
// "already in target state" and "terminal state" cases.
type InvalidTransitionError struct {
	AlertID string
	From    string
	Action  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s alert %s in status %q", e.Action, e.AlertID, e.From)
}

// LimitExceededError reports an escalation beyond the maximum level.
type LimitExceededError struct {
	AlertID string
	Level   int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("alert %s already at maximum escalation level %d", e.AlertID, e.Level)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}

// IsLimitExceeded reports whether err is a LimitExceededError.
func IsLimitExceeded(err error) bool {
	var le *LimitExceededError
	return errors.As(err, &le)
}
