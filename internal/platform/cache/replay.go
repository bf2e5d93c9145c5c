package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/studkg/cashier/pkg/config"
)

const replayKeyPrefix = "finik:webhook:seen:"

// ReplayGuard remembers webhook deliveries that were already acted upon.
type ReplayGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string, ttl time.Duration) error
}

// ReplayKey derives the cache key of one signed delivery.
func ReplayKey(timestamp, signature string) string {
	sum := sha256.Sum256([]byte(timestamp + "|" + signature))
	return replayKeyPrefix + hex.EncodeToString(sum[:])
}

type RedisGuard struct {
	client *redis.Client
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Seen(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *RedisGuard) Remember(ctx context.Context, key string, ttl time.Duration) error {
	return g.client.SetNX(ctx, key, time.Now().UnixMilli(), ttl).Err()
}

// NoopGuard never reports a delivery as seen.
type NoopGuard struct{}

func (NoopGuard) Seen(context.Context, string) (bool, error)            { return false, nil }
func (NoopGuard) Remember(context.Context, string, time.Duration) error { return nil }

// MemoryGuard is a process-local guard for single instance deployments and tests.
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{entries: map[string]time.Time{}, now: time.Now}
}

func (g *MemoryGuard) Seen(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	exp, ok := g.entries[key]
	if !ok {
		return false, nil
	}
	if g.now().After(exp) {
		delete(g.entries, key)
		return false, nil
	}
	return true, nil
}

func (g *MemoryGuard) Remember(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("replay ttl must be positive")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.entries[key]; !ok {
		g.entries[key] = g.now().Add(ttl)
	}
	return nil
}

// NewReplayGuard uses redis when redis.addr is configured.
func NewReplayGuard(lc fx.Lifecycle, cfg *config.Config, log *zap.SugaredLogger) ReplayGuard {
	if cfg.Redis.Addr == "" {
		log.Infow("replay_guard_disabled", "reason", "redis.addr not set")
		return NoopGuard{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// an unreachable cache degrades to store-level idempotency only
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warnw("redis_ping_failed", "addr", cfg.Redis.Addr, "error", err.Error())
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewRedisGuard(client)
}

var Module = fx.Options(
	fx.Provide(NewReplayGuard),
)
