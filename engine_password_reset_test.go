package identity_test

import (
	"errors"
	"testing"
	"time"

	identity "github.com/kadvik/identity"
)

func (env *testEnv) resetToken(t *testing.T, identifier string) string {
	t.Helper()
	if err := env.engine.RequestPasswordReset(requestCtx("203.0.113.7", ""), identifier); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	mail, ok := env.mailer.lastWithTemplate(identity.MailTemplatePasswordReset)
	if !ok {
		t.Fatal("no reset mail enqueued")
	}
	return mail.Data["token"]
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	session := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{})
	token := env.resetToken(t, "alice")

	if err := env.engine.ConfirmPasswordReset(ctx, token, "next-horse-battery"); err != nil {
		t.Fatalf("confirm reset: %v", err)
	}

	// Every prior session is gone and the old password is dead.
	if _, err := env.engine.Refresh(ctx, session.RefreshToken); !errors.Is(err, identity.ErrRefreshReuse) {
		t.Fatalf("old session: err = %v, want ErrRefreshReuse", err)
	}
	if _, err := env.engine.Login(ctx, "alice", "correct-horse-battery", identity.LoginOptions{}); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("old password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := env.engine.Login(ctx, "alice", "next-horse-battery", identity.LoginOptions{}); err != nil {
		t.Fatalf("new password: %v", err)
	}

	// The token is single-use.
	if err := env.engine.ConfirmPasswordReset(ctx, token, "third-horse-battery"); !errors.Is(err, identity.ErrResetTokenInvalid) {
		t.Fatalf("spent token: err = %v, want ErrResetTokenInvalid", err)
	}
}

func TestPasswordResetUnknownIdentifierIsSilent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := requestCtx("203.0.113.7", "")

	before := env.mailer.count()
	if err := env.engine.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("unknown identifier must return nil, got %v", err)
	}
	if env.mailer.count() != before {
		t.Fatal("unknown identifier must not produce mail")
	}
	if err := env.engine.RequestPasswordReset(ctx, ""); err != nil {
		t.Fatalf("empty identifier must return nil, got %v", err)
	}
}

func TestPasswordResetRequestThrottle(t *testing.T) {
	env := newTestEnv(t, func(cfg *identity.Config) {
		cfg.PasswordReset.MaxRequestsPerHour = 2
	})
	env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "")

	for i := 0; i < 2; i++ {
		if err := env.engine.RequestPasswordReset(ctx, "alice"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if err := env.engine.RequestPasswordReset(ctx, "alice"); !errors.Is(err, identity.ErrResetThrottled) {
		t.Fatalf("err = %v, want ErrResetThrottled", err)
	}

	// A different identifier has its own budget.
	if err := env.engine.RequestPasswordReset(ctx, "bob"); err != nil {
		t.Fatalf("other identifier: %v", err)
	}

	// The hour passes and the budget returns.
	env.advance(time.Hour + time.Second)
	if err := env.engine.RequestPasswordReset(ctx, "alice"); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestPasswordResetGuessingIsBounded(t *testing.T) {
	env := newTestEnv(t, func(cfg *identity.Config) {
		cfg.PasswordReset.MaxConfirmAttempts = 2
	})
	ctx := requestCtx("203.0.113.7", "")

	if err := env.engine.ConfirmPasswordReset(ctx, "wrong-token-1", "next-horse-battery"); !errors.Is(err, identity.ErrResetTokenInvalid) {
		t.Fatalf("first guess: err = %v, want ErrResetTokenInvalid", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, "wrong-token-2", "next-horse-battery"); !errors.Is(err, identity.ErrResetAttemptsExceeded) {
		t.Fatalf("second guess: err = %v, want ErrResetAttemptsExceeded", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, "wrong-token-3", "next-horse-battery"); !errors.Is(err, identity.ErrResetAttemptsExceeded) {
		t.Fatalf("locked out: err = %v, want ErrResetAttemptsExceeded", err)
	}
}

func TestPasswordResetRejectsReuseAndPolicy(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "")

	token := env.resetToken(t, "alice")

	if err := env.engine.ConfirmPasswordReset(ctx, token, "short"); !errors.Is(err, identity.ErrPasswordPolicy) {
		t.Fatalf("short password: err = %v, want ErrPasswordPolicy", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, token, "correct-horse-battery"); !errors.Is(err, identity.ErrPasswordReuse) {
		t.Fatalf("same password: err = %v, want ErrPasswordReuse", err)
	}

	// Neither rejection consumed the token.
	if err := env.engine.ConfirmPasswordReset(ctx, token, "next-horse-battery"); err != nil {
		t.Fatalf("confirm after rejections: %v", err)
	}
}

func TestPasswordResetClearsLockout(t *testing.T) {
	env := newTestEnv(t, func(cfg *identity.Config) {
		cfg.Login.MaxFailedAttempts = 2
	})
	account := env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "")

	env.engine.Login(ctx, "alice", "wrong-pass-here", identity.LoginOptions{})
	if _, err := env.engine.Login(ctx, "alice", "wrong-pass-here", identity.LoginOptions{}); !errors.Is(err, identity.ErrAccountLockedOut) {
		t.Fatalf("err = %v, want ErrAccountLockedOut", err)
	}

	token := env.resetToken(t, "alice")
	if err := env.engine.ConfirmPasswordReset(ctx, token, "next-horse-battery"); err != nil {
		t.Fatalf("confirm reset: %v", err)
	}

	// Mailbox control outranks the failed-login streak.
	stored := env.mustAccount(t, account.ID)
	if stored.FailedLogins != 0 || !stored.LockedUntil.IsZero() {
		t.Fatalf("lockout survived the reset: failed=%d until=%v", stored.FailedLogins, stored.LockedUntil)
	}
	if _, err := env.engine.Login(ctx, "alice", "next-horse-battery", identity.LoginOptions{}); err != nil {
		t.Fatalf("login after reset: %v", err)
	}
}
