package identity

import (
	"context"
	"errors"
	"time"

	"github.com/kadvik/identity/txn"
)

// InitiateTOTPEnrollment mints a fresh TOTP secret for the account and
// stores it in pending state. The secret does nothing until
// ConfirmTOTPEnrollment proves the authenticator was provisioned.
//
// Re-initiating while a pending secret exists replaces it; the old
// pending secret is void the moment the new one is stored. Once a secret
// is confirmed, initiation is rejected and the caller must disable TOTP
// first.
func (e *Engine) InitiateTOTPEnrollment(ctx context.Context, accountID string) (*TOTPSetup, error) {
	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !accountUsable(&account) {
		return nil, ErrAccountNotFound
	}
	if totpEnrolled(&account) {
		return nil, ErrTOTPAlreadyEnrolled
	}

	key, err := e.totp.Generate(account.Email)
	if err != nil {
		return nil, ErrTOTPSetupFailed
	}

	protected, err := e.protector.Protect([]byte(key.Secret()))
	if err != nil {
		return nil, ErrTOTPSetupFailed
	}

	_, err = e.updateAccount(ctx, accountID, func(a *Account) error {
		if totpEnrolled(a) {
			return ErrTOTPAlreadyEnrolled
		}
		a.TOTPSecret = protected
		a.TOTPConfirmedAt = time.Time{}
		a.MFAEnabled = false
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTOTPAlreadyEnrolled) {
			return nil, ErrTOTPAlreadyEnrolled
		}
		if txn.IsConflict(err) {
			e.emitAudit(ctx, auditEventTOTPSetupFailed, false, accountID, ErrTOTPSetupFailed, nil)
			return nil, ErrTOTPSetupFailed
		}
		return nil, err
	}

	e.metricInc(MetricTOTPEnrollInitiated)
	e.emitAudit(ctx, auditEventTOTPSetupInitiated, true, accountID, nil, nil)

	return &TOTPSetup{
		Secret: key.Secret(),
		URI:    key.URL(),
	}, nil
}

// ConfirmTOTPEnrollment proves the authenticator holds the pending secret
// and flips the account to MFA-enforced. The confirmation code's window
// is recorded in the replay guard so the same code cannot immediately
// satisfy a login challenge.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, accountID, code string) error {
	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !accountUsable(&account) {
		return ErrAccountNotFound
	}
	if totpEnrolled(&account) {
		return ErrTOTPAlreadyEnrolled
	}
	if len(account.TOTPSecret) == 0 {
		return ErrTOTPNotEnrolled
	}

	secret, err := e.protector.Unprotect(account.TOTPSecret)
	if err != nil {
		return ErrTOTPSetupFailed
	}

	counter, ok := e.totp.Verify(code, string(secret), e.clock.Now())
	if !ok {
		e.emitAudit(ctx, auditEventTOTPSetupFailed, false, accountID, ErrMFACodeInvalid, nil)
		return ErrMFACodeInvalid
	}
	if _, err := e.replay.Accept(ctx, accountID, counter); err != nil {
		return ErrStoreUnavailable
	}

	now := e.clock.Now()
	_, err = e.updateAccount(ctx, accountID, func(a *Account) error {
		if len(a.TOTPSecret) == 0 {
			return ErrTOTPNotEnrolled
		}
		if totpEnrolled(a) {
			return ErrTOTPAlreadyEnrolled
		}
		a.TOTPConfirmedAt = now
		a.MFAEnabled = true
		return nil
	})
	if err != nil {
		return err
	}

	e.metricInc(MetricTOTPEnrolled)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, accountID, nil, nil)
	return nil
}

// DisableTOTP turns off the second factor after re-verifying the account
// password. Backup codes, trusted devices, and the per-account MFA
// counters all go with it: none of them make sense without an enrolled
// factor. Every session is revoked too, since anything minted under the
// removed factor would otherwise outlive it.
func (e *Engine) DisableTOTP(ctx context.Context, accountID, pass string) error {
	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !accountUsable(&account) {
		return ErrAccountNotFound
	}
	if !totpEnrolled(&account) {
		return ErrTOTPNotEnrolled
	}

	ok, err := e.hasher.Verify(pass, account.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventTOTPDisabled, false, accountID, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	_, err = e.updateAccount(ctx, accountID, func(a *Account) error {
		a.TOTPSecret = nil
		a.TOTPConfirmedAt = time.Time{}
		a.MFAEnabled = false
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.accounts.ReplaceBackupCodes(ctx, accountID, nil); err != nil {
		return ErrStoreUnavailable
	}
	if _, err := e.refresh.RevokeAllForAccount(ctx, accountID); err != nil {
		return ErrStoreUnavailable
	}
	_ = e.totpAttempts.Reset(ctx, accountID)
	_ = e.backupAttempts.Reset(ctx, accountID)
	_ = e.replay.Clear(ctx, accountID)
	_ = e.devices.RevokeAllForAccount(ctx, accountID)

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, accountID, nil, nil)
	return nil
}

// totpEnrolled means a secret exists and was confirmed. A pending secret
// alone does not count; login never demands a factor the user has not
// proven they hold.
func totpEnrolled(a *Account) bool {
	return len(a.TOTPSecret) > 0 && !a.TOTPConfirmedAt.IsZero()
}
