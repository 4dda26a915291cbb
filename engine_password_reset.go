package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kadvik/identity/internal"
	"github.com/kadvik/identity/password"
)

// RequestPasswordReset issues a reset token for the identified account
// and mails it. Like Login and Register, the outcome is uniform: unknown
// identifiers return nil with no mail, and only the rate limit is ever
// visible to the caller.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) error {
	identifier = strings.TrimSpace(strings.ToLower(identifier))
	if identifier == "" {
		return nil
	}

	lockedOut, err := e.resetRequests.Check(ctx, identifier)
	if err != nil {
		return ErrStoreUnavailable
	}
	if lockedOut {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", ErrResetThrottled, func() map[string]string {
			return map[string]string{"identifier": maskIdentifier(identifier)}
		})
		return ErrResetThrottled
	}
	if _, err := e.resetRequests.RecordFailure(ctx, identifier); err != nil {
		return ErrStoreUnavailable
	}

	account, err := e.accounts.FindByIdentifier(ctx, identifier)
	if err != nil || !accountUsable(&account) {
		// Same silence as a successful request.
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", ErrAccountNotFound, func() map[string]string {
			return map[string]string{"identifier": maskIdentifier(identifier)}
		})
		return nil
	}

	token, hash, err := internal.NewOpaqueToken()
	if err != nil {
		return err
	}
	if err := e.resetTokens.Save(ctx, hash, account.ID, e.cfg.PasswordReset.TokenTTL); err != nil {
		return ErrStoreUnavailable
	}

	e.enqueueMail(ctx, Mail{
		To:       account.Email,
		Template: MailTemplatePasswordReset,
		Data:     map[string]string{"token": token},
	})

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, account.ID, nil, nil)
	return nil
}

// ConfirmPasswordReset consumes a reset token and installs the new
// password. The token is single-use, guessing is bounded per client IP,
// and every live session and any standing lockout are cleared: the reset
// proves control of the mailbox, which outranks the failed-login streak.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPass string) error {
	if token == "" {
		return ErrResetTokenInvalid
	}

	ip := clientIPFromContext(ctx)
	lockedOut, err := e.resetAttempts.Check(ctx, ip)
	if err != nil {
		return ErrStoreUnavailable
	}
	if lockedOut {
		return ErrResetAttemptsExceeded
	}

	hash := internal.HashToken(token)
	accountID, err := e.resetTokens.Peek(ctx, hash)
	if err != nil {
		return ErrStoreUnavailable
	}
	if accountID == "" {
		exceeded, rerr := e.resetAttempts.RecordFailure(ctx, ip)
		if rerr != nil {
			return ErrStoreUnavailable
		}
		if exceeded {
			return ErrResetAttemptsExceeded
		}
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", ErrResetTokenInvalid, nil)
		return ErrResetTokenInvalid
	}

	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil || !accountUsable(&account) {
		return ErrResetTokenInvalid
	}

	newHash, err := e.hasher.Hash(newPass)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return ErrPasswordPolicy
		}
		return err
	}
	if same, verr := e.hasher.Verify(newPass, account.PasswordHash); verr == nil && same {
		return ErrPasswordReuse
	}

	consumed, err := e.resetTokens.Consume(ctx, hash)
	if err != nil {
		return ErrStoreUnavailable
	}
	if !consumed {
		return ErrResetTokenInvalid
	}

	_, err = e.updateAccount(ctx, accountID, func(a *Account) error {
		a.PasswordHash = newHash
		a.RequirePasswordChange = false
		a.FailedLogins = 0
		a.LockedUntil = time.Time{}
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := e.refresh.RevokeAllForAccount(ctx, accountID); err != nil {
		return ErrStoreUnavailable
	}
	_ = e.resetAttempts.Reset(ctx, ip)

	e.metricInc(MetricPasswordResetConfirm)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, accountID, nil, nil)
	return nil
}
