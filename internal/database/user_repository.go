package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Akhil-Ferry/Smart-city/internal/model"
)

// UserRepository reads the user directory. User administration is owned by
// the identity service; this side only needs lookups for notification
// routing and assignment validation.
type UserRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *sqlx.DB, logger *slog.Logger) *UserRepository {
	return &UserRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

const userColumns = `
	id, name, email, phone, role, notification_preferences,
	assigned_districts, status, created_at, updated_at`

// ListActive retrieves all active users.
func (r *UserRepository) ListActive(ctx context.Context) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE status = 'active' ORDER BY id`

	var users []model.User
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		r.logger.Error("failed to list active users", "error", err)
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}

	return users, nil
}

// ListActiveByRole retrieves active users holding one of the given roles.
func (r *UserRepository) ListActiveByRole(ctx context.Context, roles ...model.Role) ([]model.User, error) {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE status = 'active' AND role = ANY($1) ORDER BY id`

	var users []model.User
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(names)); err != nil {
		r.logger.Error("failed to list users by role", "error", err)
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}

	return users, nil
}

// GetByIDs retrieves the users matching the given ids. Missing ids are
// simply absent from the result.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1)`

	var users []model.User
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(ids)); err != nil {
		r.logger.Error("failed to get users by ids", "error", err)
		return nil, fmt.Errorf("failed to get users by ids: %w", err)
	}

	return users, nil
}
