package identity

import (
	"context"
	"crypto/sha256"
	"errors"

	"github.com/kadvik/identity/internal"
)

// ConfirmMFA completes a login that Login parked behind a challenge.
//
// The challenge is single-use: the first successful confirmation consumes
// it and a second submission fails even with a correct code. Which
// precondition failed (unknown, expired, consumed) is never revealed.
// Attempt lockout is checked before the code is even looked at.
func (e *Engine) ConfirmMFA(
	ctx context.Context,
	challengeToken, code string,
	method MFAMethod,
	opts ConfirmMFAOptions,
) (*LoginResult, error) {
	if challengeToken == "" || code == "" {
		e.metricInc(MetricMFAFailure)
		return nil, ErrMFAChallengeInvalid
	}

	challenge, err := e.challenges.Get(ctx, challengeToken)
	if err != nil {
		if errors.Is(err, errChallengeBackend) {
			return nil, ErrStoreUnavailable
		}
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, "", ErrMFAChallengeInvalid, nil)
		return nil, ErrMFAChallengeInvalid
	}

	account, err := e.accounts.FindByID(ctx, challenge.AccountID)
	if err != nil || !accountUsable(&account) {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, challenge.AccountID, ErrMFAChallengeInvalid, nil)
		return nil, ErrMFAChallengeInvalid
	}

	limiter, err := e.attemptLimiterFor(method)
	if err != nil {
		return nil, err
	}

	lockedOut, err := limiter.Check(ctx, account.ID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if lockedOut {
		e.metricInc(MetricMFALockedOut)
		e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, account.ID, ErrMFAAttemptsExceeded, func() map[string]string {
			return map[string]string{"method": string(method)}
		})
		return nil, ErrMFAAttemptsExceeded
	}

	verified, verifyErr := e.verifySecondFactor(ctx, &account, method, code)
	if verifyErr != nil {
		return nil, verifyErr
	}
	if !verified {
		return nil, e.failMFAAttempt(ctx, &account, challengeToken, method)
	}

	if err := limiter.Reset(ctx, account.ID); err != nil {
		return nil, ErrStoreUnavailable
	}

	consumed, err := e.challenges.Consume(ctx, challengeToken)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if !consumed {
		// Someone already spent this challenge: replay, no tokens.
		e.metricInc(MetricMFAChallengeReplay)
		e.emitAudit(ctx, auditEventMFAChallengeReplay, false, account.ID, ErrMFAChallengeConsumed, nil)
		return nil, ErrMFAChallengeConsumed
	}

	result, err := e.completeLogin(ctx, &account, challenge.RememberMe, clientIPFromContext(ctx), "")
	if err != nil {
		return nil, err
	}

	if opts.TrustDevice && e.cfg.TrustedDevice.Enabled {
		deviceToken, derr := e.mintTrustedDevice(ctx, account.ID)
		if derr == nil {
			result.TrustedDeviceToken = deviceToken
		}
	}

	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, account.ID, nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})
	return result, nil
}

func (e *Engine) attemptLimiterFor(method MFAMethod) (*attemptLimiter, error) {
	switch method {
	case MFAMethodTOTP:
		return e.totpAttempts, nil
	case MFAMethodBackup:
		return e.backupAttempts, nil
	default:
		return nil, ErrMFACodeInvalid
	}
}

// verifySecondFactor checks the submitted code. Backup codes are burned
// on use regardless of what the rest of the flow does, so a guessed-then-
// replayed code can never be retried.
func (e *Engine) verifySecondFactor(ctx context.Context, account *Account, method MFAMethod, code string) (bool, error) {
	switch method {
	case MFAMethodTOTP:
		if len(account.TOTPSecret) == 0 {
			return false, nil
		}
		secret, err := e.protector.Unprotect(account.TOTPSecret)
		if err != nil {
			return false, ErrStoreUnavailable
		}

		counter, ok := e.totp.Verify(code, string(secret), e.clock.Now())
		if !ok {
			return false, nil
		}

		accepted, err := e.replay.Accept(ctx, account.ID, counter)
		if err != nil {
			return false, ErrStoreUnavailable
		}
		if !accepted {
			e.emitAudit(ctx, auditEventMFAFailure, false, account.ID, ErrMFACodeReplayed, nil)
			return false, nil
		}
		return true, nil

	case MFAMethodBackup:
		used, err := e.accounts.ConsumeBackupCode(ctx, account.ID, backupCodeDigest(account.ID, code))
		if err != nil {
			return false, ErrStoreUnavailable
		}
		if used {
			e.metricInc(MetricBackupCodeUsed)
			e.emitAudit(ctx, auditEventBackupCodeUsed, true, account.ID, nil, nil)
		}
		return used, nil

	default:
		return false, ErrMFACodeInvalid
	}
}

// failMFAAttempt charges the failure to both counters: the per-challenge
// budget (exhausting it destroys the challenge) and the per-account,
// per-method lockout.
func (e *Engine) failMFAAttempt(ctx context.Context, account *Account, challengeToken string, method MFAMethod) error {
	_, _ = e.challenges.RecordFailure(ctx, challengeToken, e.cfg.MFA.ChallengeMaxAttempts)

	limiter, err := e.attemptLimiterFor(method)
	if err != nil {
		return err
	}
	crossed, err := limiter.RecordFailure(ctx, account.ID)
	if err != nil {
		return ErrStoreUnavailable
	}

	e.metricInc(MetricMFAFailure)
	if crossed {
		e.metricInc(MetricMFALockedOut)
		e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, account.ID, ErrMFAAttemptsExceeded, func() map[string]string {
			return map[string]string{"method": string(method)}
		})
		return ErrMFAAttemptsExceeded
	}

	e.emitAudit(ctx, auditEventMFAFailure, false, account.ID, ErrMFACodeInvalid, func() map[string]string {
		return map[string]string{"method": string(method)}
	})
	return ErrMFACodeInvalid
}

func (e *Engine) mintTrustedDevice(ctx context.Context, accountID string) (string, error) {
	token, hash, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	if err := e.devices.Save(ctx, hash, accountID, e.deviceFingerprint(ctx), e.cfg.TrustedDevice.TTL); err != nil {
		return "", ErrStoreUnavailable
	}
	e.emitAudit(ctx, auditEventDeviceTrusted, true, accountID, nil, nil)
	return token, nil
}

// backupCodeDigest binds the code to its account so identical codes on
// different accounts produce distinct digests at rest.
func backupCodeDigest(accountID, code string) [32]byte {
	h := sha256.New()
	h.Write([]byte(accountID))
	h.Write([]byte{0})
	h.Write([]byte(internal.CanonicalBackupCode(code)))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
