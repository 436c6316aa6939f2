package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/voxkey/voicegate-backend/internal/platform/logger"
	"github.com/voxkey/voicegate-backend/internal/ratelimit"
)

// Limiter implements a sliding-window failure counter on Redis sorted
// sets, one key per user. Members are scored by failure timestamp so
// pruning the window is a single ZREMRANGEBYSCORE.
type Limiter struct {
	log *logger.Logger
	rdb *goredis.Client
	cfg ratelimit.Config
}

func New(addr, password string, db int, cfg ratelimit.Config, baseLog *logger.Logger) (*Limiter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	if cfg.Window <= 0 || cfg.MaxFailures <= 0 {
		cfg = ratelimit.DefaultConfig()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Limiter{
		log: baseLog.With("service", "RedisRateLimiter"),
		rdb: rdb,
		cfg: cfg,
	}, nil
}

func (l *Limiter) key(userID string) string {
	return "voicegate:authfail:" + userID
}

func (l *Limiter) Allow(ctx context.Context, userID string) (bool, time.Duration, error) {
	now := time.Now()
	cutoff := now.Add(-l.cfg.Window)
	key := l.key(userID)

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit check: %w", err)
	}

	count := countCmd.Val()
	if count < int64(l.cfg.MaxFailures) {
		return true, 0, nil
	}

	oldest, err := l.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return false, l.cfg.Window, fmt.Errorf("rate limit retry-after: %w", err)
	}
	retryAfter := l.cfg.Window
	if len(oldest) > 0 {
		expiresAt := time.Unix(0, int64(oldest[0].Score)).Add(l.cfg.Window)
		if d := time.Until(expiresAt); d > 0 {
			retryAfter = d
		} else {
			retryAfter = time.Second
		}
	}
	return false, retryAfter, nil
}

func (l *Limiter) RecordFailure(ctx context.Context, userID string) error {
	now := time.Now()
	key := l.key(userID)

	pipe := l.rdb.Pipeline()
	pipe.ZAdd(ctx, key, goredis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, l.cfg.Window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rate limit record: %w", err)
	}
	return nil
}

func (l *Limiter) Close() error {
	return l.rdb.Close()
}
