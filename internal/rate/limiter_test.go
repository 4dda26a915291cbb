package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestLoginThrottle(t *testing.T) {
	limiter, mr := newTestLimiter(t, Config{
		EnableIPThrottle: true,
		MaxLoginPerIP:    3,
		LoginWindow:      time.Minute,
	})
	ctx := context.Background()

	// CheckLogin is a passive read; it never spends budget on its own.
	for i := 0; i < 10; i++ {
		if err := limiter.CheckLogin(ctx, "198.51.100.9"); err != nil {
			t.Fatalf("check %d with no recorded attempts: %v", i+1, err)
		}
	}

	for i := 0; i < 3; i++ {
		if err := limiter.RecordLogin(ctx, "198.51.100.9"); err != nil {
			t.Fatalf("record %d: %v", i+1, err)
		}
	}
	if err := limiter.CheckLogin(ctx, "198.51.100.9"); err != nil {
		t.Fatalf("check at the budget: %v", err)
	}

	if err := limiter.RecordLogin(ctx, "198.51.100.9"); !errors.Is(err, ErrThrottled) {
		t.Fatalf("record over budget: err = %v, want ErrThrottled", err)
	}
	if err := limiter.CheckLogin(ctx, "198.51.100.9"); !errors.Is(err, ErrThrottled) {
		t.Fatalf("check over budget: err = %v, want ErrThrottled", err)
	}

	// Other clients keep their own window.
	if err := limiter.CheckLogin(ctx, "198.51.100.10"); err != nil {
		t.Fatalf("check for a different ip: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := limiter.CheckLogin(ctx, "198.51.100.9"); err != nil {
		t.Fatalf("check after the window: %v", err)
	}
	if err := limiter.RecordLogin(ctx, "198.51.100.9"); err != nil {
		t.Fatalf("record after the window: %v", err)
	}
}

func TestRefreshThrottleCountsAndEnforces(t *testing.T) {
	limiter, mr := newTestLimiter(t, Config{
		EnableRefreshThrottle: true,
		MaxRefreshPerFamily:   2,
		RefreshWindow:         time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.CheckRefresh(ctx, "fam-1"); err != nil {
			t.Fatalf("rotation %d: %v", i+1, err)
		}
	}
	if err := limiter.CheckRefresh(ctx, "fam-1"); !errors.Is(err, ErrThrottled) {
		t.Fatalf("rotation over budget: err = %v, want ErrThrottled", err)
	}

	if err := limiter.CheckRefresh(ctx, "fam-2"); err != nil {
		t.Fatalf("rotation for a different family: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := limiter.CheckRefresh(ctx, "fam-1"); err != nil {
		t.Fatalf("rotation after the window: %v", err)
	}
}

func TestThrottleWindowIsFixedNotSliding(t *testing.T) {
	limiter, mr := newTestLimiter(t, Config{
		EnableRefreshThrottle: true,
		MaxRefreshPerFamily:   2,
		RefreshWindow:         time.Minute,
	})
	ctx := context.Background()

	if err := limiter.CheckRefresh(ctx, "fam-1"); err != nil {
		t.Fatalf("first rotation: %v", err)
	}

	// A hit late in the window does not push the expiry out.
	mr.FastForward(45 * time.Second)
	if err := limiter.CheckRefresh(ctx, "fam-1"); err != nil {
		t.Fatalf("second rotation: %v", err)
	}
	mr.FastForward(20 * time.Second)
	if err := limiter.CheckRefresh(ctx, "fam-1"); err != nil {
		t.Fatalf("rotation in the next window: %v", err)
	}
}

func TestThrottleDisabled(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		MaxLoginPerIP:       1,
		MaxRefreshPerFamily: 1,
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := limiter.RecordLogin(ctx, "198.51.100.9"); err != nil {
			t.Fatalf("record %d while disabled: %v", i+1, err)
		}
		if err := limiter.CheckRefresh(ctx, "fam-1"); err != nil {
			t.Fatalf("rotation %d while disabled: %v", i+1, err)
		}
	}
}

func TestThrottleIgnoresEmptyKeys(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{
		EnableIPThrottle:      true,
		EnableRefreshThrottle: true,
		MaxLoginPerIP:         1,
		MaxRefreshPerFamily:   1,
		LoginWindow:           time.Minute,
		RefreshWindow:         time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := limiter.RecordLogin(ctx, ""); err != nil {
			t.Fatalf("record with empty ip: %v", err)
		}
		if err := limiter.CheckLogin(ctx, ""); err != nil {
			t.Fatalf("check with empty ip: %v", err)
		}
		if err := limiter.CheckRefresh(ctx, ""); err != nil {
			t.Fatalf("rotation with empty family: %v", err)
		}
	}
}
