package memory

import (
	"context"
	"sync"
	"time"

	"github.com/voxkey/voicegate-backend/internal/ratelimit"
)

// Limiter is a process-local sliding-window failure counter. It serves
// single-instance deployments and tests where Redis is not configured.
type Limiter struct {
	mu       sync.Mutex
	cfg      ratelimit.Config
	failures map[string][]time.Time
	now      func() time.Time
}

func New(cfg ratelimit.Config) *Limiter {
	if cfg.Window <= 0 || cfg.MaxFailures <= 0 {
		cfg = ratelimit.DefaultConfig()
	}
	return &Limiter{
		cfg:      cfg,
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (l *Limiter) prune(userID string, now time.Time) []time.Time {
	cutoff := now.Add(-l.cfg.Window)
	kept := l.failures[userID][:0]
	for _, ts := range l.failures[userID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, userID)
		return nil
	}
	l.failures[userID] = kept
	return kept
}

func (l *Limiter) Allow(_ context.Context, userID string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.prune(userID, now)
	if len(kept) < l.cfg.MaxFailures {
		return true, 0, nil
	}

	retryAfter := kept[0].Add(l.cfg.Window).Sub(now)
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	return false, retryAfter, nil
}

func (l *Limiter) RecordFailure(_ context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[userID] = append(l.failures[userID], l.now())
	return nil
}
