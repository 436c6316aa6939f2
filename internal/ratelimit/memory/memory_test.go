package memory

import (
	"context"
	"testing"
	"time"

	"github.com/voxkey/voicegate-backend/internal/ratelimit"
)

func newTestLimiter(window time.Duration, max int) (*Limiter, *time.Time) {
	l := New(ratelimit.Config{Window: window, MaxFailures: max})
	now := time.Now()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllowUnderLimit(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.RecordFailure(ctx, "alice"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	ok, _, err := l.Allow(ctx, "alice")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !ok {
		t.Fatalf("expected allow with 2 of 3 failures")
	}
}

func TestBlockAtLimit(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.RecordFailure(ctx, "alice"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	ok, retryAfter, err := l.Allow(ctx, "alice")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatalf("expected block at 3 of 3 failures")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("retryAfter out of range: %v", retryAfter)
	}
}

func TestWindowSlides(t *testing.T) {
	l, now := newTestLimiter(time.Minute, 2)
	ctx := context.Background()

	l.RecordFailure(ctx, "alice")
	l.RecordFailure(ctx, "alice")
	if ok, _, _ := l.Allow(ctx, "alice"); ok {
		t.Fatalf("expected block inside window")
	}

	*now = now.Add(61 * time.Second)
	if ok, _, _ := l.Allow(ctx, "alice"); !ok {
		t.Fatalf("expected allow after window slid past both failures")
	}
}

func TestUsersIsolated(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 1)
	ctx := context.Background()

	l.RecordFailure(ctx, "alice")
	if ok, _, _ := l.Allow(ctx, "alice"); ok {
		t.Fatalf("alice should be blocked")
	}
	if ok, _, _ := l.Allow(ctx, "bob"); !ok {
		t.Fatalf("bob should be unaffected")
	}
}
