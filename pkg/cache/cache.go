package cache

import (
	"context"
	"time"
)

// Cache defines the interface for caching services.
//
// The webhook reconciler uses SetNX as a best-effort dedup marker for
// event IDs: correctness never depends on the cache, so implementations may
// fail freely and callers ignore errors.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	// SetNX stores the value only when the key is absent and reports
	// whether it was stored.
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}
