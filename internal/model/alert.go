package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Severity classifies how urgent an alert is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertType identifies what kind of condition produced the alert.
type AlertType string

const (
	TypeThreshold   AlertType = "threshold"
	TypeAnomaly     AlertType = "anomaly"
	TypeSystem      AlertType = "system"
	TypeMaintenance AlertType = "maintenance"
	TypeSecurity    AlertType = "security"
)

// Category identifies the city-department domain the alert belongs to.
type Category string

const (
	CategoryAirQuality Category = "air_quality"
	CategoryTraffic    Category = "traffic"
	CategoryEnergy     Category = "energy"
	CategoryWaste      Category = "waste"
	CategoryWater      Category = "water"
	CategorySystem     Category = "system"
	CategorySecurity   Category = "security"
)

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive        Status = "active"
	StatusAcknowledged  Status = "acknowledged"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
	StatusExpired       Status = "expired"
)

// Terminal reports whether no further lifecycle transitions are legal.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFalsePositive || s == StatusExpired
}

// MaxEscalationLevel is the highest level an alert can be escalated to.
const MaxEscalationLevel = 5

// MaxPriority caps the derived priority scale.
const MaxPriority = 10

// EscalationPriorityStep is added to priority per escalation.
const EscalationPriorityStep = 2

// DefaultMaxNotificationRetries bounds the out-of-band retry sweep.
const DefaultMaxNotificationRetries = 3

// PriorityForSeverity derives the base priority for a severity.
func PriorityForSeverity(s Severity) int {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 8
	case SeverityMedium:
		return 5
	default:
		return 2
	}
}

// SourceType identifies what produced an alert.
type SourceType string

const (
	SourceSensor    SourceType = "sensor"
	SourceSystem    SourceType = "system"
	SourceUser      SourceType = "user"
	SourceAnalytics SourceType = "analytics"
	SourceExternal  SourceType = "external"
)

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Source describes the origin of an alert.
type Source struct {
	Type     SourceType `json:"type"`
	ID       string     `json:"id"`
	Name     string     `json:"name,omitempty"`
	Location *GeoPoint  `json:"location,omitempty"`
}

// Threshold records the crossing that produced a threshold alert. It is
// descriptive only and never re-evaluated.
type Threshold struct {
	Parameter string  `json:"parameter"`
	Limit     float64 `json:"value"`
	Actual    float64 `json:"actual"`
	Operator  string  `json:"operator"`
	Unit      string  `json:"unit,omitempty"`
}

// ResolutionAction is one step taken while resolving an alert.
type ResolutionAction struct {
	Action      string    `json:"action"`
	PerformedBy string    `json:"performed_by"`
	PerformedAt time.Time `json:"performed_at"`
	Notes       string    `json:"notes,omitempty"`
}

// EscalationEvent is one entry in an alert's escalation history.
type EscalationEvent struct {
	Level     int       `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
}

// DeliveryStatus is the outcome of one notification attempt.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryBounced   DeliveryStatus = "bounced"
)

// Channel identifies a notification delivery channel.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelInApp   Channel = "in_app"
	ChannelWebhook Channel = "webhook"
)

// NotificationRecord is one entry in an alert's append-only notification log.
type NotificationRecord struct {
	Channel       Channel        `json:"channel"`
	Recipient     string         `json:"recipient"`
	RecipientID   string         `json:"recipient_id,omitempty"`
	RecipientType string         `json:"recipient_type,omitempty"`
	SentAt        time.Time      `json:"sent_at"`
	Status        DeliveryStatus `json:"delivery_status"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ExternalID    string         `json:"external_id,omitempty"`
	RetryCount    int            `json:"retry_count"`
	MaxRetries    int            `json:"max_retries"`
}

// Alert is the central record of a detected condition requiring attention.
type Alert struct {
	ID          string    `db:"id" json:"id"`
	AlertID     string    `db:"alert_id" json:"alert_id"`
	Type        AlertType `db:"type" json:"type"`
	Category    Category  `db:"category" json:"category"`
	Severity    Severity  `db:"severity" json:"severity"`
	Status      Status    `db:"status" json:"status"`
	Priority    int       `db:"priority" json:"priority"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`

	Source    Source     `db:"source" json:"source"`
	Threshold *Threshold `db:"threshold" json:"threshold,omitempty"`
	District  *string    `db:"district" json:"district,omitempty"`

	AssignedTo        pq.StringArray `db:"assigned_to" json:"assigned_to"`
	AcknowledgedBy    *string        `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt    *time.Time     `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AcknowledgedNotes *string        `db:"acknowledged_notes" json:"acknowledged_notes,omitempty"`
	ResolvedBy        *string        `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time     `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolutionNotes   *string        `db:"resolution_notes" json:"resolution_notes,omitempty"`

	ResolutionActions ResolutionActionList `db:"resolution_actions" json:"resolution_actions"`
	EscalationLevel   int                  `db:"escalation_level" json:"escalation_level"`
	EscalationHistory EscalationEventList  `db:"escalation_history" json:"escalation_history"`
	Notifications     NotificationLog      `db:"notifications" json:"notifications"`

	RelatedAlerts pq.StringArray `db:"related_alerts" json:"related_alerts"`
	ExpiresAt     *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	CreatedBy     string         `db:"created_by" json:"created_by"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// Duration is how long the alert has been (or was) open.
func (a *Alert) Duration(now time.Time) time.Duration {
	if a.ResolvedAt != nil {
		return a.ResolvedAt.Sub(a.CreatedAt)
	}
	return now.Sub(a.CreatedAt)
}

// ResponseTime is the time from creation to acknowledgement, nil if never
// acknowledged.
func (a *Alert) ResponseTime() *time.Duration {
	if a.AcknowledgedAt == nil {
		return nil
	}
	d := a.AcknowledgedAt.Sub(a.CreatedAt)
	return &d
}

// ResolutionTime is the time from creation to resolution, nil if unresolved.
func (a *Alert) ResolutionTime() *time.Duration {
	if a.ResolvedAt == nil {
		return nil
	}
	d := a.ResolvedAt.Sub(a.CreatedAt)
	return &d
}

// JSONB column wrappers. The store keeps nested history fields as JSONB so a
// whole batch can be appended in a single atomic update.

type ResolutionActionList []ResolutionAction

func (l ResolutionActionList) Value() (driver.Value, error) { return jsonbValue(l) }
func (l *ResolutionActionList) Scan(src interface{}) error  { return jsonbScan(src, l) }

type EscalationEventList []EscalationEvent

func (l EscalationEventList) Value() (driver.Value, error) { return jsonbValue(l) }
func (l *EscalationEventList) Scan(src interface{}) error  { return jsonbScan(src, l) }

type NotificationLog []NotificationRecord

func (l NotificationLog) Value() (driver.Value, error) { return jsonbValue(l) }
func (l *NotificationLog) Scan(src interface{}) error  { return jsonbScan(src, l) }

func (s Source) Value() (driver.Value, error) { return jsonbValue(s) }
func (s *Source) Scan(src interface{}) error  { return jsonbScan(src, s) }

func (t Threshold) Value() (driver.Value, error) { return jsonbValue(t) }
func (t *Threshold) Scan(src interface{}) error  { return jsonbScan(src, t) }

func jsonbValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func jsonbScan(src, dst interface{}) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", src)
	}
}

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryAirQuality, CategoryTraffic, CategoryEnergy, CategoryWaste,
		CategoryWater, CategorySystem, CategorySecurity:
		return true
	}
	return false
}

// ValidAlertType reports whether t is a known alert type.
func ValidAlertType(t AlertType) bool {
	switch t {
	case TypeThreshold, TypeAnomaly, TypeSystem, TypeMaintenance, TypeSecurity:
		return true
	}
	return false
}

// ValidSourceType reports whether t is a known source type.
func ValidSourceType(t SourceType) bool {
	switch t {
	case SourceSensor, SourceSystem, SourceUser, SourceAnalytics, SourceExternal:
		return true
	}
	return false
}
