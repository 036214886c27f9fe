package lockstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix = "scout:lock:"
	seenKeyPrefix = "scout:seen:"
)

// releaseScript deletes the lease only when the caller still owns it, so a
// slow task cannot release a lease that expired and was re-acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements Store on a shared Redis instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis not reachable at %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Acquire(ctx context.Context, key, owner string, ttl int) (bool, error) {
	ok, err := s.client.SetNX(ctx, lockKeyPrefix+key, owner, time.Duration(ttl)*time.Second).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{lockKeyPrefix + key}, owner).Int()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Seen(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, seenKeyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("seen check %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *RedisStore) MarkSeen(ctx context.Context, id string) error {
	if err := s.client.Set(ctx, seenKeyPrefix+id, "1", 0).Err(); err != nil {
		return fmt.Errorf("mark seen %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }
