package ratelimit

import (
	"context"
	"time"
)

// Limiter tracks failed authentication attempts per user. Only failures
// count toward the limit; a successful authentication never consumes quota.
type Limiter interface {
	// Allow reports whether the user may attempt authentication right now.
	// When the limit is exhausted it also returns how long until the oldest
	// counted failure ages out of the window.
	Allow(ctx context.Context, userID string) (bool, time.Duration, error)

	// RecordFailure registers a failed attempt for the user.
	RecordFailure(ctx context.Context, userID string) error
}

type Config struct {
	Window      time.Duration
	MaxFailures int
}

func DefaultConfig() Config {
	return Config{
		Window:      5 * time.Minute,
		MaxFailures: 5,
	}
}
