package identity_test

import (
	"errors"
	"testing"
	"time"

	identity "github.com/kadvik/identity"
)

func TestTOTPEnrollmentLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	setup, err := env.engine.InitiateTOTPEnrollment(ctx, account.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if setup.Secret == "" || setup.URI == "" {
		t.Fatal("setup must carry the secret and provisioning URI")
	}

	// Pending enrollment is not enforced at login.
	if result := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{}); result.MFARequired {
		t.Fatal("a pending secret must not demand a second factor")
	}

	if err := env.engine.ConfirmTOTPEnrollment(ctx, account.ID, env.totpCode(t, setup.Secret)); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	stored := env.mustAccount(t, account.ID)
	if !stored.MFAEnabled || stored.TOTPConfirmedAt.IsZero() {
		t.Fatal("confirmation must enable MFA")
	}

	// Now login demands the factor.
	if result := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{}); !result.MFARequired {
		t.Fatal("confirmed enrollment must demand a second factor")
	}
}

func TestTOTPPendingSecretIsReplaceable(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	first, err := env.engine.InitiateTOTPEnrollment(ctx, account.ID)
	if err != nil {
		t.Fatalf("first initiate: %v", err)
	}
	second, err := env.engine.InitiateTOTPEnrollment(ctx, account.ID)
	if err != nil {
		t.Fatalf("second initiate: %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("re-initiation must mint a fresh secret")
	}

	// The superseded secret no longer confirms.
	if err := env.engine.ConfirmTOTPEnrollment(ctx, account.ID, env.totpCode(t, first.Secret)); !errors.Is(err, identity.ErrMFACodeInvalid) {
		t.Fatalf("old secret: err = %v, want ErrMFACodeInvalid", err)
	}
	if err := env.engine.ConfirmTOTPEnrollment(ctx, account.ID, env.totpCode(t, second.Secret)); err != nil {
		t.Fatalf("new secret: %v", err)
	}
}

func TestTOTPInitiateAfterConfirmRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")
	env.enrollTOTP(t, ctx, account.ID)

	if _, err := env.engine.InitiateTOTPEnrollment(ctx, account.ID); !errors.Is(err, identity.ErrTOTPAlreadyEnrolled) {
		t.Fatalf("err = %v, want ErrTOTPAlreadyEnrolled", err)
	}
}

func TestTOTPConfirmWithoutPending(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	if err := env.engine.ConfirmTOTPEnrollment(ctx, account.ID, "000000"); !errors.Is(err, identity.ErrTOTPNotEnrolled) {
		t.Fatalf("err = %v, want ErrTOTPNotEnrolled", err)
	}
}

func TestTOTPConfirmationCodeCannotSatisfyLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	setup, err := env.engine.InitiateTOTPEnrollment(ctx, account.ID)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	code := env.totpCode(t, setup.Secret)
	if err := env.engine.ConfirmTOTPEnrollment(ctx, account.ID, code); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// The confirmation code's window is spent.
	challenge := env.loginForChallenge(t, "alice", "correct-horse-battery")
	if _, err := env.engine.ConfirmMFA(ctx, challenge, code, identity.MFAMethodTOTP, identity.ConfirmMFAOptions{}); !errors.Is(err, identity.ErrMFACodeInvalid) {
		t.Fatalf("err = %v, want ErrMFACodeInvalid", err)
	}
}

func TestDisableTOTP(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")
	secret := env.enrollTOTP(t, ctx, account.ID)

	if _, err := env.engine.RegenerateBackupCodes(ctx, account.ID); err != nil {
		t.Fatalf("regenerate codes: %v", err)
	}

	// A full MFA login before the disable, so there is a live session to
	// observe afterwards.
	challenge := env.loginForChallenge(t, "alice", "correct-horse-battery")
	session, err := env.engine.ConfirmMFA(ctx, challenge, env.totpCode(t, secret), identity.MFAMethodTOTP, identity.ConfirmMFAOptions{})
	if err != nil {
		t.Fatalf("confirm mfa: %v", err)
	}

	// Wrong password leaves everything in place.
	if err := env.engine.DisableTOTP(ctx, account.ID, "wrong-password-here"); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}
	if stored := env.mustAccount(t, account.ID); !stored.MFAEnabled {
		t.Fatal("failed disable must not touch enrollment")
	}

	if err := env.engine.DisableTOTP(ctx, account.ID, "correct-horse-battery"); err != nil {
		t.Fatalf("disable: %v", err)
	}

	stored := env.mustAccount(t, account.ID)
	if stored.MFAEnabled || len(stored.TOTPSecret) != 0 || !stored.TOTPConfirmedAt.IsZero() {
		t.Fatal("disable must clear the enrollment")
	}
	if n := env.store.BackupCodeCount(account.ID); n != 0 {
		t.Fatalf("backup codes left after disable: %d", n)
	}

	// Sessions minted under the removed factor are dead.
	if _, err := env.engine.Refresh(ctx, session.RefreshToken); !errors.Is(err, identity.ErrRefreshReuse) {
		t.Fatalf("refresh after disable: err = %v, want ErrRefreshReuse", err)
	}

	// Login is back to single-factor.
	if result := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{}); result.MFARequired {
		t.Fatal("MFA still demanded after disable")
	}
}

func TestDisableTOTPWithoutEnrollment(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	if err := env.engine.DisableTOTP(ctx, account.ID, "correct-horse-battery"); !errors.Is(err, identity.ErrTOTPNotEnrolled) {
		t.Fatalf("err = %v, want ErrTOTPNotEnrolled", err)
	}
}

func TestRegenerateBackupCodesReplacesOldSet(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")
	env.enrollTOTP(t, ctx, account.ID)

	first, err := env.engine.RegenerateBackupCodes(ctx, account.ID)
	if err != nil {
		t.Fatalf("first set: %v", err)
	}
	if _, err := env.engine.RegenerateBackupCodes(ctx, account.ID); err != nil {
		t.Fatalf("second set: %v", err)
	}

	// A code from the replaced set is dead.
	challenge := env.loginForChallenge(t, "alice", "correct-horse-battery")
	if _, err := env.engine.ConfirmMFA(ctx, challenge, first[0], identity.MFAMethodBackup, identity.ConfirmMFAOptions{}); !errors.Is(err, identity.ErrMFACodeInvalid) {
		t.Fatalf("replaced code: err = %v, want ErrMFACodeInvalid", err)
	}
}

func TestRegenerateBackupCodesRequiresEnrollment(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	if _, err := env.engine.RegenerateBackupCodes(ctx, account.ID); !errors.Is(err, identity.ErrTOTPNotEnrolled) {
		t.Fatalf("err = %v, want ErrTOTPNotEnrolled", err)
	}
}

func TestTOTPReEnrollmentAfterDisable(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.seedAccount(t, "alice", "correct-horse-battery", nil)
	ctx := requestCtx("203.0.113.7", "cli/1.0")

	env.enrollTOTP(t, ctx, account.ID)
	if err := env.engine.DisableTOTP(ctx, account.ID, "correct-horse-battery"); err != nil {
		t.Fatalf("disable: %v", err)
	}

	// The replay guard was cleared; a fresh enrollment confirms cleanly
	// even in the same code window.
	env.advance(30 * time.Second)
	env.enrollTOTP(t, ctx, account.ID)

	if result := env.login(t, "alice", "correct-horse-battery", identity.LoginOptions{}); !result.MFARequired {
		t.Fatal("re-enrollment must demand a second factor again")
	}
}
