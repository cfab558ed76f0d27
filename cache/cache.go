package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache is a nil-safe wrapper around Redis used for dispatch dedupe. A nil
// *Cache (no Redis configured) degrades to the in-process dedupe only, so
// every method tolerates a nil receiver.
type Cache struct {
	rdb *redis.Client
}

// New connects to Redis when addr is set and returns nil otherwise. A failed
// ping is logged and treated the same as no Redis at all.
func New(ctx context.Context, addr, password string) *Cache {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("redis unreachable, dedupe cache disabled")
		rdb.Close()
		return nil
	}
	log.Info().Str("addr", addr).Msg("redis connected")
	return &Cache{rdb: rdb}
}

// Close releases the connection pool.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.rdb.Close()
}

// ClaimDispatch marks a (user, signal) pair dispatched and reports whether
// this call won the claim. The key expires after ttl so a crashed run does
// not block the pair forever. Errors fail open: a broken cache must not stop
// trading, the in-process dedupe still holds within one iteration.
func (c *Cache) ClaimDispatch(ctx context.Context, email, symbol string, signalTS time.Time, ttl time.Duration) bool {
	if c == nil {
		return true
	}
	key := fmt.Sprintf("dispatch:%s:%s:%d", email, symbol, signalTS.Unix())
	ok, err := c.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis claim failed, allowing dispatch")
		return true
	}
	return ok
}
