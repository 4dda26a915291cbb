package identity

import (
	"context"
	"errors"
	"time"

	"github.com/kadvik/identity/internal"
	"github.com/kadvik/identity/internal/rate"
)

// Login verifies the primary credential and either issues a token pair or
// hands back an MFA challenge.
//
// Unknown identifier, wrong password, and unusable account states all
// return ErrInvalidCredentials with identical timing-insensitive shape.
// Exceeding the failed-attempt threshold returns ErrAccountLockedOut, as
// does any login while the lockout window is open, correct password or
// not.
func (e *Engine) Login(ctx context.Context, identifier, pass string, opts LoginOptions) (*LoginResult, error) {
	if identifier == "" || pass == "" {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	ip := clientIPFromContext(ctx)
	if err := e.throttle.CheckLogin(ctx, ip); err != nil {
		if errors.Is(err, rate.ErrThrottled) {
			e.metricInc(MetricLoginThrottled)
			e.emitAudit(ctx, auditEventLoginThrottled, false, "", ErrLoginThrottled, func() map[string]string {
				return map[string]string{"identifier": maskIdentifier(identifier)}
			})
			return nil, ErrLoginThrottled
		}
		return nil, ErrStoreUnavailable
	}

	account, err := e.accounts.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, e.failLogin(ctx, nil, identifier, ip)
		}
		return nil, ErrStoreUnavailable
	}

	if !accountUsable(&account) {
		return nil, e.failLogin(ctx, &account, identifier, ip)
	}

	now := e.clock.Now()
	if account.LockedUntil.After(now) {
		e.metricInc(MetricLoginLockedOut)
		e.emitAudit(ctx, auditEventLoginLocked, false, account.ID, ErrAccountLockedOut, nil)
		return nil, ErrAccountLockedOut
	}

	ok, err := e.hasher.Verify(pass, account.PasswordHash)
	if err != nil {
		// A hash that fails to parse is a data problem, not a caller
		// problem, but the caller still only learns "invalid credentials".
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, err, nil)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, e.failLogin(ctx, &account, identifier, ip)
	}

	if account.MFAEnabled {
		bypass, err := e.trustedDeviceBypass(ctx, &account, opts.TrustedDeviceToken)
		if err != nil {
			return nil, err
		}
		if !bypass {
			return e.beginMFAChallenge(ctx, &account, opts.RememberMe)
		}
		e.metricInc(MetricMFATrustedBypass)
		e.emitAudit(ctx, auditEventMFABypassTrusted, true, account.ID, nil, nil)
	}

	return e.completeLogin(ctx, &account, opts.RememberMe, ip, pass)
}

// failLogin charges a failed attempt to the IP throttle and, when the
// account exists, to its lockout counter. The returned error is uniform
// except when this very failure crosses the lockout threshold.
func (e *Engine) failLogin(ctx context.Context, account *Account, identifier, ip string) error {
	_ = e.throttle.RecordLogin(ctx, ip)
	e.metricInc(MetricLoginFailure)

	if account == nil || !accountUsable(account) {
		var accountID string
		if account != nil {
			accountID = account.ID
		}
		e.emitAudit(ctx, auditEventLoginFailure, false, accountID, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"identifier": maskIdentifier(identifier)}
		})
		return ErrInvalidCredentials
	}

	var locked bool
	now := e.clock.Now()
	_, err := e.updateAccount(ctx, account.ID, func(a *Account) error {
		locked = false
		if !a.LockedUntil.IsZero() && !a.LockedUntil.After(now) {
			// Previous lockout elapsed; this failure starts a new streak.
			a.FailedLogins = 0
			a.LockedUntil = time.Time{}
		}
		a.FailedLogins++
		if a.FailedLogins >= e.cfg.Login.MaxFailedAttempts {
			a.LockedUntil = now.Add(e.cfg.Login.LockoutDuration)
			a.FailedLogins = 0
			locked = true
		}
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, err, nil)
		return ErrInvalidCredentials
	}

	if locked {
		e.metricInc(MetricLoginLockedOut)
		e.emitAudit(ctx, auditEventLoginLocked, false, account.ID, ErrAccountLockedOut, nil)
		return ErrAccountLockedOut
	}

	e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"identifier": maskIdentifier(identifier)}
	})
	return ErrInvalidCredentials
}

// trustedDeviceBypass reports whether the presented device token lets the
// account skip its second factor.
func (e *Engine) trustedDeviceBypass(ctx context.Context, account *Account, deviceToken string) (bool, error) {
	if !e.cfg.TrustedDevice.Enabled || deviceToken == "" {
		return false, nil
	}

	ok, err := e.devices.Verify(ctx, internal.HashToken(deviceToken), account.ID, e.deviceFingerprint(ctx))
	if err != nil {
		return false, ErrStoreUnavailable
	}
	if !ok {
		e.emitAudit(ctx, auditEventDeviceRejected, false, account.ID, nil, nil)
	}
	return ok, nil
}

// beginMFAChallenge parks the verified password step behind a short-lived
// single-use challenge. No tokens are issued and LastLoginAt stays
// untouched until the second factor lands.
func (e *Engine) beginMFAChallenge(ctx context.Context, account *Account, rememberMe bool) (*LoginResult, error) {
	token, err := internal.NewID()
	if err != nil {
		return nil, err
	}

	record := &mfaChallenge{
		AccountID:  account.ID,
		RememberMe: rememberMe,
		ExpiresAt:  e.clock.Now().Add(e.cfg.MFA.ChallengeTTL).Unix(),
	}
	if err := e.challenges.Save(ctx, token, record, e.cfg.MFA.ChallengeTTL); err != nil {
		return nil, ErrStoreUnavailable
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, auditEventMFARequired, true, account.ID, nil, nil)

	return &LoginResult{
		MFARequired:    true,
		ChallengeToken: token,
		MethodHint:     maskIdentifier(account.Email),
	}, nil
}

// completeLogin clears the failure streak, stamps LastLoginAt/IP,
// opportunistically upgrades the password hash, and issues the pair.
// plaintext is empty on the MFA path, where the password is long gone and
// no rehash is possible.
func (e *Engine) completeLogin(ctx context.Context, account *Account, rememberMe bool, ip, plaintext string) (*LoginResult, error) {
	var upgradedHash string
	if plaintext != "" {
		// Best effort: a failed rehash must not break the login.
		if needs, err := e.hasher.NeedsRehash(account.PasswordHash); err == nil && needs {
			if rehashed, herr := e.hasher.Hash(plaintext); herr == nil {
				upgradedHash = rehashed
			}
		}
	}

	now := e.clock.Now()
	updated, err := e.updateAccount(ctx, account.ID, func(a *Account) error {
		a.FailedLogins = 0
		a.LockedUntil = time.Time{}
		a.LastLoginAt = now
		a.LastLoginIP = ip
		if upgradedHash != "" {
			a.PasswordHash = upgradedHash
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result, err := e.issuePair(ctx, &updated, rememberMe)
	if err != nil {
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, err, nil)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, nil, nil)
	return result, nil
}
