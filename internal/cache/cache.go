// Package cache provides the expiring key-value store shared by the token
// cache, the webhook dedup markers and the notification guards. Production
// deployments use Redis so the markers are visible across processes; the
// in-memory store covers single-process runs and tests.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	// Get returns the value and whether the key exists and is unexpired.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets the key only if absent. Returns true if this call won.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}
