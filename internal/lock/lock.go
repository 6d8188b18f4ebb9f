// Package lock provides a Redis-backed per-identity advisory lock. The
// version sequencer itself stays a race-tolerant read-then-write; callers who
// need strictly serial version assignment for one auditable identity take
// this lock around the record-and-insert instead.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ledgerline/recordtrail/internal/audit"
)

// ErrLockHeld is returned when another holder owns the identity's lock.
var ErrLockHeld = errors.New("identity lock held by another writer")

// DefaultTTL bounds how long a crashed holder can block an identity.
const DefaultTTL = 10 * time.Second

// releaseScript deletes the lock only when the caller's token still owns it,
// so an expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// IdentityLock acquires short advisory locks keyed by auditable identity.
type IdentityLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdentityLock creates an IdentityLock. ttl <= 0 uses DefaultTTL.
func NewIdentityLock(client *redis.Client, ttl time.Duration) *IdentityLock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &IdentityLock{client: client, ttl: ttl}
}

// Acquire takes the lock for identity, returning a release func. Returns
// ErrLockHeld without blocking when the lock is already owned.
func (l *IdentityLock) Acquire(ctx context.Context, identity audit.Identity) (func(), error) {
	key := "recordtrail:lock:" + identity.String()
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock for %s: %w", identity, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, identity)
	}

	release := func() {
		// Best-effort; the TTL reclaims the lock if this fails.
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err()
	}
	return release, nil
}
