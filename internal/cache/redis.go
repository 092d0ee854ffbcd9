package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"
)

// scanCount is the COUNT hint for SCAN and the batch size for MGET/DEL during namespace walks.
const scanCount = 200

type RedisOption func(*redis.Options)

func WithPassword(p string) RedisOption {
	return func(o *redis.Options) { o.Password = p }
}

func WithDB(db int) RedisOption {
	return func(o *redis.Options) { o.DB = db }
}

func WithPoolSize(n int) RedisOption {
	return func(o *redis.Options) {
		if n > 0 {
			o.PoolSize = n
		}
	}
}

func WithDialTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) {
		if d > 0 {
			o.DialTimeout = d
		}
	}
}

func WithReadTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) {
		if d > 0 {
			o.ReadTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) {
		if d > 0 {
			o.WriteTimeout = d
		}
	}
}

// RedisCache implements Store on Redis. Keys are encoded with Key.String, so the
// namespace prefix is visible to operators using redis-cli.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to addr and pings it. The client is closed if the ping fails.
func NewRedisCache(ctx context.Context, addr string, opts ...RedisOption) (*RedisCache, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	if err := ping(ctx, rdb); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisCache{rdb: rdb}, nil
}

func ping(ctx context.Context, rdb *redis.Client) error {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Get implements Store.Get.
func (c *RedisCache) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key.String(), err)
	}
	return val, true, nil
}

// Set implements Store.Set.
func (c *RedisCache) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.rdb.Set(ctx, key.String(), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %q: %w", key.String(), err)
	}
	return nil
}

// Delete implements Store.Delete.
func (c *RedisCache) Delete(ctx context.Context, key Key) error {
	if err := c.rdb.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("redis DEL %q: %w", key.String(), err)
	}
	return nil
}

// Entries implements Store.Entries with SCAN over the namespace prefix and batched MGET.
// Keys that expire between SCAN and MGET are skipped.
func (c *RedisCache) Entries(ctx context.Context, namespace string) (map[Key][]byte, error) {
	out := make(map[Key][]byte)
	err := c.scanNamespace(ctx, namespace, func(batch []string) error {
		vals, err := c.rdb.MGet(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis MGET %d keys: %w", len(batch), err)
		}
		for i, v := range vals {
			key, ok := ParseKey(batch[i])
			if !ok || v == nil {
				continue
			}
			switch t := v.(type) {
			case string:
				out[key] = []byte(t)
			case []byte:
				out[key] = t
			default:
				out[key] = fmt.Append(nil, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Clear implements Store.Clear with SCAN over the namespace prefix and batched DEL.
func (c *RedisCache) Clear(ctx context.Context, namespace string) error {
	return c.scanNamespace(ctx, namespace, func(batch []string) error {
		if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis DEL %d keys: %w", len(batch), err)
		}
		return nil
	})
}

// scanNamespace walks every key under namespace and hands them to fn in batches.
// SCAN is used rather than KEYS so large namespaces do not block the server.
func (c *RedisCache) scanNamespace(ctx context.Context, namespace string, fn func(batch []string) error) error {
	match := escapeGlob(namespacePrefix(namespace)) + "*"
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return fmt.Errorf("redis SCAN %q: %w", match, err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping checks if redis is reachable. Used for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return ping(ctx, c.rdb)
}

// Close closes the redis client connections. Call during shutdown.
func (c *RedisCache) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

// escapeGlob escapes Redis glob metacharacters so a prefix is matched literally.
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
