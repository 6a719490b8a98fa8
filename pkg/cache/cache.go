package cache

import (
	"context"
	"time"
)

// Cache is the suppression-state and short-lived coordination store. The
// cache is authoritative for alert cooldown keys across worker restarts, so
// implementations must be externally backed in production deployments.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX stores the value only when the key does not already exist and
	// reports whether it was stored. This is the atomic claim used by the
	// alert cooldown gate and by ad-hoc duplicate suppression.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Delete removes the key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)

	HealthCheck(ctx context.Context) error
}
