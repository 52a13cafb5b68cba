// Package dedupe provides the idempotency store the engine uses to suppress
// duplicate action side effects across tick retries.
package dedupe

import (
	"context"
	"time"
)

// Store claims dedupe keys. A key is claimed exactly once within its TTL; a
// second claim for the same key reports false so the caller skips the effect.
type Store interface {
	// Claim atomically records the key. It returns true when this call is the
	// first claim and false when the key was already claimed.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)

	Close() error
}
