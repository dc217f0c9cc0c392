package chainlock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"veda/internal/artifact"
	dErrors "veda/pkg/domain-errors"
)

// memoryHold is one live acquisition.
type memoryHold struct {
	holder   string
	lockedAt time.Time
}

// MemoryRegistry is the in-process lock used by unit tests. It follows
// the same put-if-absent-and-poll shape as the Redis registry.
type MemoryRegistry struct {
	mu            sync.Mutex
	held          map[artifact.ChainKey]memoryHold
	pollInterval  time.Duration
	staleAfter    time.Duration
	janitor       bool
	maxStalePolls int
}

// MemoryOption configures a MemoryRegistry.
type MemoryOption func(*MemoryRegistry)

// WithMemoryJanitorDisabled turns off stale reclamation, matching the
// contended-failure path of the Redis registry.
func WithMemoryJanitorDisabled() MemoryOption {
	return func(r *MemoryRegistry) { r.janitor = false }
}

// WithMemoryStaleAfter overrides the stale threshold.
func WithMemoryStaleAfter(d time.Duration) MemoryOption {
	return func(r *MemoryRegistry) { r.staleAfter = d }
}

// WithMemoryMaxStalePolls bounds the polls against a stale lock before
// the contended failure, keeping tests fast.
func WithMemoryMaxStalePolls(n int) MemoryOption {
	return func(r *MemoryRegistry) { r.maxStalePolls = n }
}

func NewMemory(opts ...MemoryOption) *MemoryRegistry {
	r := &MemoryRegistry{
		held:          make(map[artifact.ChainKey]memoryHold),
		pollInterval:  time.Millisecond,
		staleAfter:    DefaultStaleAfter,
		janitor:       true,
		maxStalePolls: 50,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *MemoryRegistry) Acquire(ctx context.Context, key artifact.ChainKey) (string, error) {
	stalePolls := 0
	for {
		r.mu.Lock()
		hold, taken := r.held[key]
		if !taken {
			mine := uuid.NewString()
			r.held[key] = memoryHold{holder: mine, lockedAt: time.Now()}
			r.mu.Unlock()
			return mine, nil
		}
		stale := time.Since(hold.lockedAt) > r.staleAfter
		if stale && r.janitor {
			mine := uuid.NewString()
			r.held[key] = memoryHold{holder: mine, lockedAt: time.Now()}
			r.mu.Unlock()
			return mine, nil
		}
		r.mu.Unlock()

		if stale {
			stalePolls++
			if stalePolls > r.maxStalePolls {
				return "", dErrors.Newf(dErrors.CodeLockContended, "chain %s held by stale lock", key.String())
			}
		}
		select {
		case <-ctx.Done():
			return "", dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "acquire chain lock")
		case <-time.After(r.pollInterval):
		}
	}
}

// Release drops the hold only while the caller's token still owns it,
// mirroring the Redis compare-and-delete.
func (r *MemoryRegistry) Release(_ context.Context, key artifact.ChainKey, holder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hold, ok := r.held[key]; ok && hold.holder == holder {
		delete(r.held, key)
	}
	return nil
}

// ForceHold plants a lock with a given age. Test hook for the stale
// paths. Returns the planted holder token.
func (r *MemoryRegistry) ForceHold(key artifact.ChainKey, age time.Duration) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	mine := uuid.NewString()
	r.held[key] = memoryHold{holder: mine, lockedAt: time.Now().Add(-age)}
	return mine
}
