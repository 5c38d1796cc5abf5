package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// keyPrefix namespaces lease keys in Redis.
const keyPrefix = "budget-tracker:lease:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript resets the key's expiry only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a Locker backed by Redis SET NX PX.
type Redis struct {
	client redis.Cmdable
}

// NewRedisClient creates a go-redis client and verifies the connection.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedis creates a Redis locker on client.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

// Key returns the Redis key used for a lease name.
func Key(name string) string {
	return keyPrefix + name
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.New().String()
	ok, err := r.client.SetNX(ctx, Key(key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("Acquire: setting %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &redisLease{client: r.client, key: Key(key), token: token}, nil
}

type redisLease struct {
	client redis.Cmdable
	key    string
	token  string
}

func (l *redisLease) Renew(ctx context.Context, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("Renew: extending %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("Release: deleting %s: %w", l.key, err)
	}
	return nil
}

var _ Locker = (*Redis)(nil)
