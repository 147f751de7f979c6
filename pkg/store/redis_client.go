package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient defines the Redis operations the session store needs.
// This allows swapping between real Redis and in-memory implementations
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) error
	HGet(ctx context.Context, key, field string) (string, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

type RealRedisClient struct {
	client *redis.Client
}

func NewRealRedisClient(url string) (*RealRedisClient, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RealRedisClient{client: redis.NewClient(opt)}, nil
}

func (c *RealRedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RealRedisClient) Close() error {
	return c.client.Close()
}

func (c *RealRedisClient) HSet(ctx context.Context, key string, values ...interface{}) error {
	return c.client.HSet(ctx, key, values...).Err()
}

func (c *RealRedisClient) HGet(ctx context.Context, key, field string) (string, error) {
	return c.client.HGet(ctx, key, field).Result()
}

func (c *RealRedisClient) Del(ctx context.Context, keys ...string) (int64, error) {
	return c.client.Del(ctx, keys...).Result()
}

func (c *RealRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.client.Expire(ctx, key, expiration).Err()
}

// InMemoryRedisClient provides an in-memory implementation of RedisClient for testing
type InMemoryRedisClient struct {
	mu       sync.Mutex
	hashes   map[string]map[string]string
	expiries map[string]time.Time
	now      func() time.Time
}

func NewInMemoryRedisClient() *InMemoryRedisClient {
	return &InMemoryRedisClient{
		hashes:   make(map[string]map[string]string),
		expiries: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (c *InMemoryRedisClient) SetClock(nowFn func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = nowFn
}

// TTL returns the remaining lifetime of key, or zero when it has none.
func (c *InMemoryRedisClient) TTL(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.expiries[key]
	if !ok {
		return 0
	}
	return expiry.Sub(c.now())
}

// expireLocked drops key if its deadline has passed. mu must be held.
func (c *InMemoryRedisClient) expireLocked(key string) {
	if expiry, ok := c.expiries[key]; ok && !c.now().Before(expiry) {
		delete(c.hashes, key)
		delete(c.expiries, key)
	}
}

func (c *InMemoryRedisClient) HSet(ctx context.Context, key string, values ...interface{}) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(values)%2 != 0 {
		return fmt.Errorf("hset requires even number of values")
	}
	c.expireLocked(key)
	if _, ok := c.hashes[key]; !ok {
		c.hashes[key] = make(map[string]string)
	}
	for i := 0; i < len(values); i += 2 {
		field := fmt.Sprintf("%v", values[i])
		var val string
		switch v := values[i+1].(type) {
		case []byte:
			val = string(v)
		case string:
			val = v
		default:
			val = fmt.Sprintf("%v", v)
		}
		c.hashes[key][field] = val
	}
	return nil
}

func (c *InMemoryRedisClient) HGet(ctx context.Context, key, field string) (string, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked(key)
	fields, ok := c.hashes[key]
	if !ok {
		return "", redis.Nil
	}
	val, ok := fields[field]
	if !ok {
		return "", redis.Nil
	}
	return val, nil
}

func (c *InMemoryRedisClient) Del(ctx context.Context, keys ...string) (int64, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for _, key := range keys {
		c.expireLocked(key)
		if _, ok := c.hashes[key]; ok {
			n++
		}
		delete(c.hashes, key)
		delete(c.expiries, key)
	}
	return n, nil
}

func (c *InMemoryRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.hashes[key]; !ok {
		return nil
	}
	if expiration <= 0 {
		delete(c.expiries, key)
		return nil
	}
	c.expiries[key] = c.now().Add(expiration)
	return nil
}
