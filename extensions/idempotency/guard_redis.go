package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard implements Guard on a shared Redis so that several gateway
// instances exclude each other per order.
type RedisGuard struct {
	client redis.UniversalClient
	cfg    *config
}

// NewRedisGuard creates a Redis-backed guard.
func NewRedisGuard(client redis.UniversalClient, opts ...Option) *RedisGuard {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &RedisGuard{client: client, cfg: cfg}
}

// Acquire polls SET NX PX until the key is ours, ctx is done or the
// configured wait limit passes.
func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := g.cfg.keyGenerator(key)
	token := uuid.NewString()

	var deadline <-chan time.Time
	if g.cfg.maxWait > 0 {
		timer := time.NewTimer(g.cfg.maxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(g.cfg.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := g.client.SetNX(ctx, redisKey, token, g.cfg.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire order guard %s: %w", key, err)
		}
		if ok {
			return g.releaseFunc(redisKey, token), nil
		}

		select {
		case <-ticker.C:
		case <-deadline:
			return nil, ErrGuardTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (g *RedisGuard) releaseFunc(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled; release regardless.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, g.client, []string{redisKey}, token).Err()
		})
	}
}

// Ensure RedisGuard implements Guard
var _ Guard = (*RedisGuard)(nil)
