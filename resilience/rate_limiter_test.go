package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/kbukum/mmalkit/errors"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRateLimiter_BurstAndRefill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	limited := 0
	rl := newRateLimiter(RateLimiterConfig{Name: "capture", Rate: 10, Burst: 3, OnLimit: func(string) { limited++ }}, clock.now)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	if rl.Allow() {
		t.Fatal("request over burst allowed")
	}
	if limited != 1 {
		t.Errorf("expected OnLimit once, got %d", limited)
	}

	clock.advance(100 * time.Millisecond)
	if !rl.Allow() {
		t.Error("expected a token after refill")
	}

	clock.advance(time.Hour)
	if got := rl.Tokens(); got != 3 {
		t.Errorf("tokens must cap at burst, got %v", got)
	}
}

func TestRateLimiter_Execute(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Name: "capture", Rate: 0.001, Burst: 1})
	if err := rl.Execute(func() error { return nil }); err != nil {
		t.Fatalf("first call rejected: %v", err)
	}
	err := rl.Execute(func() error { return nil })
	if !errors.HasCode(err, errors.ErrCodeRateLimited) {
		t.Errorf("expected RATE_LIMITED, got %v", err)
	}
}

func TestRateLimiter_Wait(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Name: "capture", Rate: 100, Burst: 1})
	rl.Allow()

	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("expected Wait to block for a refill")
	}
}

func TestRateLimiter_WaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Name: "capture", Rate: 0.1, Burst: 1})
	rl.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestKeyedRateLimiter(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	k := NewKeyedRateLimiter(RateLimiterConfig{Name: "http", Rate: 1, Burst: 1})
	k.now = clock.now

	if !k.Allow("10.0.0.1") || k.Allow("10.0.0.1") {
		t.Fatal("expected one request per bucket")
	}
	if !k.Allow("10.0.0.2") {
		t.Fatal("buckets must be independent")
	}
	if n := k.Prune(); n != 2 {
		t.Errorf("expected 2 drained buckets kept, got %d", n)
	}
	clock.advance(2 * time.Second)
	if n := k.Prune(); n != 0 {
		t.Errorf("expected refilled buckets pruned, got %d", n)
	}
}
