package identity_test

import (
	"errors"
	"testing"
	"time"

	identity "github.com/kadvik/identity"
)

func (env *testEnv) login(t *testing.T, username, pass string, opts identity.LoginOptions) *identity.LoginResult {
	t.Helper()
	result, err := env.engine.Login(requestCtx("203.0.113.7", "cli/1.0"), username, pass, opts)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return result
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	first := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{})

	rotated, err := env.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.RefreshToken == first.RefreshToken {
		t.Fatal("rotation must mint a new refresh token")
	}
	if rotated.AccessToken == "" {
		t.Fatal("rotation must mint a new access token")
	}

	// The replacement keeps working.
	if _, err := env.engine.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("second rotation: %v", err)
	}
}

func TestRefreshReuseKillsFamily(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	first := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{})
	rotated, err := env.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Presenting the superseded token is the canonical theft signal.
	if _, err := env.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, identity.ErrRefreshReuse) {
		t.Fatalf("reused token: err = %v, want ErrRefreshReuse", err)
	}

	// The whole family dies with it, current token included.
	if _, err := env.engine.Refresh(ctx, rotated.RefreshToken); !errors.Is(err, identity.ErrRefreshReuse) {
		t.Fatalf("sibling after reuse: err = %v, want ErrRefreshReuse", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[identity.MetricRefreshReuseDetected] == 0 {
		t.Fatal("reuse detection not counted")
	}
}

func TestRefreshUnknownToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := requestCtx("203.0.113.7", "")

	if _, err := env.engine.Refresh(ctx, "never-issued-token"); !errors.Is(err, identity.ErrRefreshInvalid) {
		t.Fatalf("err = %v, want ErrRefreshInvalid", err)
	}
	if _, err := env.engine.Refresh(ctx, ""); !errors.Is(err, identity.ErrRefreshInvalid) {
		t.Fatalf("empty token: err = %v, want ErrRefreshInvalid", err)
	}
}

func TestRefreshExpiry(t *testing.T) {
	env := newTestEnv(t, func(cfg *identity.Config) {
		cfg.Refresh.TTL = 24 * time.Hour
		cfg.Refresh.RememberMeTTL = 30 * 24 * time.Hour
	})
	env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	short := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{})
	long := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{RememberMe: true})

	env.clock.Advance(25 * time.Hour)

	if _, err := env.engine.Refresh(ctx, short.RefreshToken); !errors.Is(err, identity.ErrRefreshExpired) {
		t.Fatalf("expired token: err = %v, want ErrRefreshExpired", err)
	}

	// The remember-me session is unaffected.
	if _, err := env.engine.Refresh(ctx, long.RefreshToken); err != nil {
		t.Fatalf("remember-me refresh: %v", err)
	}
}

func TestRefreshRotationKeepsRememberMeLifetime(t *testing.T) {
	env := newTestEnv(t, func(cfg *identity.Config) {
		cfg.Refresh.TTL = 24 * time.Hour
		cfg.Refresh.RememberMeTTL = 30 * 24 * time.Hour
	})
	env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	long := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{RememberMe: true})
	rotated, err := env.engine.Refresh(ctx, long.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// The replacement inherits the 30-day lifetime, not the 24h default.
	env.clock.Advance(25 * time.Hour)
	if _, err := env.engine.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("rotated remember-me refresh: %v", err)
	}
}

func TestSessionCapEvictsOldest(t *testing.T) {
	env := newTestEnv(t, func(cfg *identity.Config) {
		cfg.Refresh.MaxActiveSessions = 2
	})
	env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	first := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{})
	env.clock.Advance(time.Second)
	second := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{})
	env.clock.Advance(time.Second)
	third := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{})

	// The oldest session is gone; its token reads as revoked.
	if _, err := env.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, identity.ErrRefreshReuse) {
		t.Fatalf("evicted token: err = %v, want ErrRefreshReuse", err)
	}
	if _, err := env.engine.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("second session: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, third.RefreshToken); err != nil {
		t.Fatalf("third session: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if got := snap.Counters[identity.MetricSessionEvicted]; got != 1 {
		t.Fatalf("evictions = %d, want 1", got)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	result := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{})

	if err := env.engine.Logout(ctx, result.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}

	// A logged-out token presented again is treated as reuse.
	if _, err := env.engine.Refresh(ctx, result.RefreshToken); !errors.Is(err, identity.ErrRefreshReuse) {
		t.Fatalf("after logout: err = %v, want ErrRefreshReuse", err)
	}

	// Logout is idempotent: unknown and already-revoked tokens succeed.
	if err := env.engine.Logout(ctx, result.RefreshToken); err != nil {
		t.Fatalf("repeat logout: %v", err)
	}
	if err := env.engine.Logout(ctx, "never-issued-token"); err != nil {
		t.Fatalf("unknown logout: %v", err)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	a := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{})
	b := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{})

	n, err := env.engine.LogoutAll(ctx, account.ID)
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked = %d, want 2", n)
	}

	for _, token := range []string{a.RefreshToken, b.RefreshToken} {
		if _, err := env.engine.Refresh(ctx, token); !errors.Is(err, identity.ErrRefreshReuse) {
			t.Fatalf("after logout all: err = %v, want ErrRefreshReuse", err)
		}
	}
}

func TestRefreshThrottlePerFamily(t *testing.T) {
	env := newTestEnv(t, func(cfg *identity.Config) {
		cfg.Refresh.MaxPerFamily = 2
		cfg.Refresh.ThrottleWindow = time.Minute
	})
	env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	token := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{}).RefreshToken
	for i := 0; i < 2; i++ {
		result, err := env.engine.Refresh(ctx, token)
		if err != nil {
			t.Fatalf("rotation %d: %v", i+1, err)
		}
		token = result.RefreshToken
	}

	if _, err := env.engine.Refresh(ctx, token); !errors.Is(err, identity.ErrRefreshThrottled) {
		t.Fatalf("err = %v, want ErrRefreshThrottled", err)
	}

	// The window passes; the same token is still valid and rotates.
	env.advance(time.Minute + time.Second)
	if _, err := env.engine.Refresh(ctx, token); err != nil {
		t.Fatalf("after window: %v", err)
	}

	// A second family on the same account has its own budget.
	other := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{}).RefreshToken
	if _, err := env.engine.Refresh(ctx, other); err != nil {
		t.Fatalf("other family: %v", err)
	}
}

func TestRefreshForDeletedAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	result := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{})

	if err := env.engine.SoftDeleteAccount(ctx, account.ID, "admin-1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if _, err := env.engine.Refresh(ctx, result.RefreshToken); !errors.Is(err, identity.ErrRefreshInvalid) {
		t.Fatalf("deleted account refresh: err = %v, want ErrRefreshInvalid", err)
	}
}
