package model

import (
	"database/sql/driver"
	"time"

	"github.com/lib/pq"
)

// Role identifies a user's responsibility within the city departments.
type Role string

const (
	RoleAdmin              Role = "admin"
	RoleEnvironmentOfficer Role = "environment_officer"
	RoleTrafficControl     Role = "traffic_control"
	RoleUtilityOfficer     Role = "utility_officer"
	RoleOperator           Role = "operator"
	RoleViewer             Role = "viewer"
)

// UserStatus is the account state of a user.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserInactive  UserStatus = "inactive"
	UserSuspended UserStatus = "suspended"
)

// NotificationPreferences holds per-channel opt-outs. Zero value means all
// channels enabled, matching the store defaults.
type NotificationPreferences struct {
	Email   bool `json:"email"`
	SMS     bool `json:"sms"`
	InApp   bool `json:"in_app"`
	Reports bool `json:"reports"`
}

func (p NotificationPreferences) Value() (driver.Value, error) { return jsonbValue(p) }
func (p *NotificationPreferences) Scan(src interface{}) error  { return jsonbScan(src, p) }

// DefaultPreferences returns preferences with every channel enabled.
func DefaultPreferences() NotificationPreferences {
	return NotificationPreferences{Email: true, SMS: true, InApp: true, Reports: true}
}

// User is a city-department staff member. The identity layer owns creation
// and authentication; this service only reads users to route notifications.
type User struct {
	ID                string                  `db:"id" json:"id"`
	Name              string                  `db:"name" json:"name"`
	Email             string                  `db:"email" json:"email"`
	Phone             string                  `db:"phone" json:"phone,omitempty"`
	Role              Role                    `db:"role" json:"role"`
	Preferences       NotificationPreferences `db:"notification_preferences" json:"notification_preferences"`
	AssignedDistricts pq.StringArray          `db:"assigned_districts" json:"assigned_districts"`
	Status            UserStatus              `db:"status" json:"status"`
	CreatedAt         time.Time               `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time               `db:"updated_at" json:"updated_at"`
}

// HasDistrict reports whether the user covers the given district.
func (u *User) HasDistrict(district string) bool {
	for _, d := range u.AssignedDistricts {
		if d == district {
			return true
		}
	}
	return false
}
