package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript binds KEYS[1] to ARGV[1] for ARGV[2] ms when the key is free
// or already bound to the same token. Returns {granted, holder}.
var acquireScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return {1, ARGV[1]}
end
if cur == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return {1, cur}
end
return {0, cur}
`)

// releaseScript deletes KEYS[1] only while it is bound to ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaseRepository stores session leases in Redis with store-side expiry.
// Every mutation is owner-checked inside a Lua script.
type LeaseRepository struct {
	rdb redis.Scripter
}

// NewLeaseRepository creates a new LeaseRepository.
func NewLeaseRepository(rdb redis.Scripter) *LeaseRepository {
	return &LeaseRepository{rdb: rdb}
}

// AcquireOrRenew grants or renews the lease for token, or reports the current holder.
func (r *LeaseRepository) AcquireOrRenew(ctx context.Context, key, token string, ttl time.Duration) (string, bool, error) {
	res, err := acquireScript.Run(ctx, r.rdb, []string{key}, token, ttl.Milliseconds()).Slice()
	if err != nil {
		return "", false, fmt.Errorf("acquire lease: %w", err)
	}
	if len(res) != 2 {
		return "", false, fmt.Errorf("acquire lease: unexpected reply %v", res)
	}
	granted, _ := res[0].(int64)
	holder, _ := res[1].(string)
	return holder, granted == 1, nil
}

// Release deletes the lease if token still owns it.
func (r *LeaseRepository) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.rdb, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("release lease: %w", err)
	}
	return n == 1, nil
}
