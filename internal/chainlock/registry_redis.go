package chainlock

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"veda/internal/artifact"
	dErrors "veda/pkg/domain-errors"
)

var lockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "veda_chain_lock_wait_seconds",
	Help:    "Time spent waiting to acquire a chain lock",
	Buckets: []float64{0.001, 0.005, 0.02, 0.05, 0.1, 0.5, 1, 5, 30},
})

const lockKeyPrefix = "chainlock:"

// compare-and-delete so neither a reclaim nor a release ever removes a
// lock that another writer took in the meantime
var compareDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// newHolder builds the lock value: a unique token plus the acquisition
// instant, so stale locks are observable and release is guarded.
func newHolder() string {
	return uuid.NewString() + "|" + time.Now().UTC().Format(time.RFC3339Nano)
}

// holderLockedAt returns the acquisition-instant part of a lock value.
func holderLockedAt(holder string) string {
	if i := strings.IndexByte(holder, '|'); i >= 0 {
		return holder[i+1:]
	}
	return holder
}

// RedisRegistry implements the chain lock on Redis SET NX.
type RedisRegistry struct {
	client        *redis.Client
	log           *slog.Logger
	pollInterval  time.Duration
	staleAfter    time.Duration
	janitor       bool
	maxStalePolls int
}

// RedisOption configures a RedisRegistry.
type RedisOption func(*RedisRegistry)

// WithPollInterval overrides the acquisition back-off.
func WithPollInterval(d time.Duration) RedisOption {
	return func(r *RedisRegistry) { r.pollInterval = d }
}

// WithStaleAfter overrides the stale-lock threshold.
func WithStaleAfter(d time.Duration) RedisOption {
	return func(r *RedisRegistry) { r.staleAfter = d }
}

// WithJanitorDisabled turns off stale-lock reclamation. Acquisition then
// fails with a lock-contended error once a stale lock persists.
func WithJanitorDisabled() RedisOption {
	return func(r *RedisRegistry) { r.janitor = false }
}

func NewRedis(client *redis.Client, log *slog.Logger, opts ...RedisOption) *RedisRegistry {
	r := &RedisRegistry{
		client:        client,
		log:           log,
		pollInterval:  DefaultPollInterval,
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

func (r *RedisRegistry) Acquire(ctx context.Context, key artifact.ChainKey) (string, error) {
	start := time.Now()
	defer func() { lockWaitSeconds.Observe(time.Since(start).Seconds()) }()

	redisKey := lockKeyPrefix + key.String()
	stalePolls := 0
	for {
		mine := newHolder()
		ok, err := r.client.SetNX(ctx, redisKey, mine, 0).Result()
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeStorage, "acquire chain lock")
		}
		if ok {
			return mine, nil
		}

		holder, err := r.client.Get(ctx, redisKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return "", dErrors.Wrap(err, dErrors.CodeStorage, "inspect chain lock")
		}
		if err == nil && r.isStale(holder) {
			if r.janitor {
				reclaimed, err := compareDeleteScript.Run(ctx, r.client, []string{redisKey}, holder).Int()
				if err != nil {
					return "", dErrors.Wrap(err, dErrors.CodeStorage, "reclaim stale chain lock")
				}
				if reclaimed == 1 {
					r.log.Warn("reclaimed stale chain lock", "chain", key.String(), "locked_at", holderLockedAt(holder))
				}
				continue
			}
			stalePolls++
			if stalePolls > r.maxStalePolls {
				return "", dErrors.Newf(dErrors.CodeLockContended, "chain %s held by stale lock since %s", key.String(), holderLockedAt(holder))
			}
		}

		select {
		case <-ctx.Done():
			return "", dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "acquire chain lock")
		case <-time.After(r.pollInterval):
		}
	}
}

// Release deletes the lock only while this holder's token is still in
// place. A zero result means the janitor reclaimed the hold and another
// writer owns the chain now; deleting would open its critical section.
func (r *RedisRegistry) Release(ctx context.Context, key artifact.ChainKey, holder string) error {
	released, err := compareDeleteScript.Run(ctx, r.client, []string{lockKeyPrefix + key.String()}, holder).Int()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "release chain lock")
	}
	if released == 0 {
		r.log.Warn("chain lock no longer held at release", "chain", key.String())
	}
	return nil
}

func (r *RedisRegistry) isStale(holder string) bool {
	at, err := time.Parse(time.RFC3339Nano, holderLockedAt(holder))
	if err != nil {
		// unreadable holder counts as stale
		return true
	}
	return time.Since(at) > r.staleAfter
}

// RunJanitor periodically scans the lock namespace and reclaims stale
// holds, so crashed peers cannot wedge chains even when no writer is
// currently polling for them.
func (r *RedisRegistry) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil {
				r.log.Error("chain lock sweep failed", "error", err)
			}
		}
	}
}

func (r *RedisRegistry) sweep(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, lockKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		redisKey := iter.Val()
		holder, err := r.client.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		if !r.isStale(holder) {
			continue
		}
		reclaimed, err := compareDeleteScript.Run(ctx, r.client, []string{redisKey}, holder).Int()
		if err != nil {
			return err
		}
		if reclaimed == 1 {
			r.log.Warn("janitor reclaimed stale chain lock", "key", redisKey, "locked_at", holderLockedAt(holder))
		}
	}
	return iter.Err()
}
