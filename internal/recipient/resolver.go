package recipient

import (
	"context"
	"log/slog"
	"sort"

	"github.com/Akhil-Ferry/Smart-city/internal/model"
)

// categoryRoles maps an alert category to the roles responsible for it by
// default.
var categoryRoles = map[model.Category][]model.Role{
	model.CategoryAirQuality: {model.RoleAdmin, model.RoleEnvironmentOfficer},
	model.CategoryTraffic:    {model.RoleAdmin, model.RoleTrafficControl},
	model.CategoryEnergy:     {model.RoleAdmin, model.RoleUtilityOfficer},
	model.CategoryWaste:      {model.RoleAdmin, model.RoleUtilityOfficer},
	model.CategoryWater:      {model.RoleAdmin, model.RoleUtilityOfficer},
	model.CategorySystem:     {model.RoleAdmin},
}

// ResolveRecipients computes the notify-set for an alert from the current
// active-user population. Pure function: no side effects, safely retryable.
//
// The rules union rather than replace each other:
//  1. category default roles
//  2. users whose assigned districts cover the alert's district
//  3. all admins when severity is critical
//  4. all admins when nothing else matched
func ResolveRecipients(alert *model.Alert, activeUsers []model.User) []model.User {
	selected := make(map[string]model.User)

	roles := categoryRoles[alert.Category]
	for _, u := range activeUsers {
		if u.Status != model.UserActive {
			continue
		}
		for _, role := range roles {
			if u.Role == role {
				selected[u.ID] = u
				break
			}
		}
	}

	if alert.District != nil && *alert.District != "" {
		for _, u := range activeUsers {
			if u.Status == model.UserActive && u.HasDistrict(*alert.District) {
				selected[u.ID] = u
			}
		}
	}

	if alert.Severity == model.SeverityCritical || len(selected) == 0 {
		for _, u := range activeUsers {
			if u.Status == model.UserActive && u.Role == model.RoleAdmin {
				selected[u.ID] = u
			}
		}
	}

	result := make([]model.User, 0, len(selected))
	for _, u := range selected {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Directory supplies the current active-user population.
type Directory interface {
	ListActive(ctx context.Context) ([]model.User, error)
	ListActiveByRole(ctx context.Context, roles ...model.Role) ([]model.User, error)
}

// Resolver computes notify-sets against a user directory, failing closed to
// all active admins when the directory cannot be read.
type Resolver struct {
	dir    Directory
	logger *slog.Logger
}

// NewResolver creates a resolver backed by the given directory.
func NewResolver(dir Directory, logger *slog.Logger) *Resolver {
	return &Resolver{dir: dir, logger: logger}
}

// Resolve returns the deduplicated set of users to notify for an alert.
func (r *Resolver) Resolve(ctx context.Context, alert *model.Alert) ([]model.User, error) {
	users, err := r.dir.ListActive(ctx)
	if err != nil {
		// Fail closed: better to over-notify the admins than to notify
		// nobody at all.
		r.logger.Error("recipient resolution falling back to admins", "alert_id", alert.AlertID, "error", err)
		admins, aerr := r.dir.ListActiveByRole(ctx, model.RoleAdmin)
		if aerr != nil {
			return nil, aerr
		}
		return admins, nil
	}

	return ResolveRecipients(alert, users), nil
}
