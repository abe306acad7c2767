package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Releases the lease only if this holder still owns it.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Extends the lease only if this holder still owns it.
var renewLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker implements a lease lock shared between replicas using Redis.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	token  string
}

func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "spenn:lock"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	return &RedisLocker{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
		token:  uuid.NewString(),
	}
}

func (r *RedisLocker) key(name string) string {
	return fmt.Sprintf("%s:%s", r.prefix, strings.TrimSpace(name))
}

// TryLock takes the lease unless another holder has an unexpired one.
func (r *RedisLocker) TryLock(ctx context.Context, name string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(name), r.token, r.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisLocker) Renew(ctx context.Context, name string) (bool, error) {
	n, err := renewLockScript.Run(ctx, r.client, []string{r.key(name)}, r.token, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisLocker) Unlock(ctx context.Context, name string) error {
	return releaseLockScript.Run(ctx, r.client, []string{r.key(name)}, r.token).Err()
}
