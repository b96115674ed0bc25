package recipient

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Akhil-Ferry/Smart-city/internal/model"
)

const activeUsersKey = "alerting:active_users"

// CachedDirectory fronts a Directory with a short-TTL Redis cache so that a
// burst of alerts does not hammer the users table. Cache failures degrade to
// the underlying directory, never to an error.
type CachedDirectory struct {
	inner  Directory
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedDirectory wraps dir with a Redis cache.
func NewCachedDirectory(dir Directory, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedDirectory{inner: dir, client: client, ttl: ttl, logger: logger}
}

// ListActive returns the cached active-user set, reading through on miss.
func (d *CachedDirectory) ListActive(ctx context.Context) ([]model.User, error) {
	if data, err := d.client.Get(ctx, activeUsersKey).Bytes(); err == nil {
		var users []model.User
		if jerr := json.Unmarshal(data, &users); jerr == nil {
			return users, nil
		}
		// Corrupt entry; drop it and read through.
		d.client.Del(ctx, activeUsersKey)
	}

	users, err := d.inner.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	if data, jerr := json.Marshal(users); jerr == nil {
		if serr := d.client.Set(ctx, activeUsersKey, data, d.ttl).Err(); serr != nil {
			d.logger.Debug("failed to cache active users", "error", serr)
		}
	}

	return users, nil
}

// ListActiveByRole bypasses the cache; it is only used on the fail-closed
// path where the cache is the least of our problems.
func (d *CachedDirectory) ListActiveByRole(ctx context.Context, roles ...model.Role) ([]model.User, error) {
	return d.inner.ListActiveByRole(ctx, roles...)
}

// Invalidate drops the cached active-user set.
func (d *CachedDirectory) Invalidate(ctx context.Context) {
	if err := d.client.Del(ctx, activeUsersKey).Err(); err != nil {
		d.logger.Debug("failed to invalidate active user cache", "error", err)
	}
}
