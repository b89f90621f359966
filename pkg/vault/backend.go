package vault

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the backend namespace for vault entries. No other keys are
// read or written under this prefix.
const KeyPrefix = "data-vault:"

// Backend is the narrow key-value surface the store needs. The production
// implementation is Redis; tests use the in-memory fake in mocks.go.
type Backend interface {
	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value for key, or (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// TTL returns the remaining lifetime of key. The bool is false when the
	// key is absent or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	// CompareAndExpire sets the TTL of key iff its current value equals
	// expected. Returns false when the value changed or the key is gone.
	CompareAndExpire(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// compareAndExpireScript implements the optimistic TTL shrink server-side:
// the observed entry bytes are compared before the expiry is applied, so a
// concurrent delete or replace cannot be extended.
var compareAndExpireScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return -1
`)

// RedisBackend implements Backend on go-redis.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to the URL (redis://host:port/db or a bare
// host:port) and verifies the connection.
func NewRedisBackend(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		// Accept bare host:port the way most deployments configure it.
		opts = &redis.Options{Addr: url}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &BackendError{Op: "connect", Err: err}
	}
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return &BackendError{Op: "set", Err: err}
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, &BackendError{Op: "get", Err: err}
	}
	return value, nil
}

func (b *RedisBackend) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := b.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, false, &BackendError{Op: "pttl", Err: err}
	}
	// PTTL returns -2 for a missing key and -1 for a key without expiry.
	if ttl < 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

func (b *RedisBackend) CompareAndExpire(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	result, err := compareAndExpireScript.Run(ctx, b.client, []string{key},
		expected, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, &BackendError{Op: "compare-and-expire", Err: err}
	}
	return result == 1, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return &BackendError{Op: "ping", Err: err}
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
