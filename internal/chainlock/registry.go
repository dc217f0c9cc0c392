// Package chainlock serializes writers per consent chain through a
// process-external put-if-absent registry.
package chainlock

import (
	"context"
	"time"

	"veda/internal/artifact"
)

const (
	// DefaultPollInterval is the back-off between acquisition attempts.
	DefaultPollInterval = 20 * time.Millisecond
	// DefaultStaleAfter is the age beyond which the janitor reclaims a
	// lock left by a crashed peer.
	DefaultStaleAfter = 30 * time.Second
)

// Registry is the chain lock. Acquire blocks until no other writer holds
// the key and returns a holder token; Release drops the hold only when
// the token still matches, so a holder that outlived a stale reclaim
// cannot delete the lock a later writer took. Locks are never held
// across event emission.
type Registry interface {
	Acquire(ctx context.Context, key artifact.ChainKey) (string, error)
	Release(ctx context.Context, key artifact.ChainKey, holder string) error
}
