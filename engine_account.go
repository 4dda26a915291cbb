package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kadvik/identity/internal"
	"github.com/kadvik/identity/password"
)

// Register creates a pending account and enqueues a verification mail.
//
// The outcome is uniform: a duplicate username or email returns nil just
// like a successful registration, and the existing owner gets a notice
// mail instead. The caller cannot tell the two apart, so registration
// cannot be used to probe which identifiers exist.
func (e *Engine) Register(ctx context.Context, input RegisterInput) error {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if username == "" || email == "" || !strings.Contains(email, "@") {
		return ErrPasswordPolicy
	}

	hash, err := e.hasher.Hash(input.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return ErrPasswordPolicy
		}
		return err
	}

	id, err := internal.NewID()
	if err != nil {
		return err
	}

	now := e.clock.Now()
	_, err = e.accounts.Create(ctx, Account{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Status:       AccountPending,
		CreatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateIdentifier) {
			e.enqueueMail(ctx, Mail{
				To:       email,
				Template: MailTemplateAccountExists,
			})
			e.emitAudit(ctx, auditEventRegistration, false, "", ErrDuplicateIdentifier, func() map[string]string {
				return map[string]string{"identifier": maskIdentifier(email)}
			})
			return nil
		}
		return ErrStoreUnavailable
	}

	if err := e.sendVerificationMail(ctx, id, email); err != nil {
		return err
	}

	e.metricInc(MetricRegistration)
	e.emitAudit(ctx, auditEventRegistration, true, id, nil, func() map[string]string {
		return map[string]string{"identifier": maskIdentifier(email)}
	})
	return nil
}

func (e *Engine) sendVerificationMail(ctx context.Context, accountID, email string) error {
	token, hash, err := internal.NewOpaqueToken()
	if err != nil {
		return err
	}
	if err := e.verifyTokens.Save(ctx, hash, accountID, e.cfg.Verification.TokenTTL); err != nil {
		return ErrStoreUnavailable
	}

	e.enqueueMail(ctx, Mail{
		To:       email,
		Template: MailTemplateEmailVerification,
		Data:     map[string]string{"token": token},
	})
	return nil
}

// ConfirmEmail consumes a verification token and activates the pending
// account. Tokens are single-use; guessing is bounded per client IP.
func (e *Engine) ConfirmEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrVerificationTokenInvalid
	}

	ip := clientIPFromContext(ctx)
	lockedOut, err := e.verifyAttempts.Check(ctx, ip)
	if err != nil {
		return ErrStoreUnavailable
	}
	if lockedOut {
		return ErrVerificationAttemptsExceeded
	}

	hash := internal.HashToken(token)
	accountID, err := e.verifyTokens.Peek(ctx, hash)
	if err != nil {
		return ErrStoreUnavailable
	}
	if accountID == "" {
		exceeded, rerr := e.verifyAttempts.RecordFailure(ctx, ip)
		if rerr != nil {
			return ErrStoreUnavailable
		}
		if exceeded {
			return ErrVerificationAttemptsExceeded
		}
		return ErrVerificationTokenInvalid
	}

	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return ErrVerificationTokenInvalid
	}
	if account.Status != AccountPending {
		return ErrVerificationNotPending
	}

	consumed, err := e.verifyTokens.Consume(ctx, hash)
	if err != nil {
		return ErrStoreUnavailable
	}
	if !consumed {
		return ErrVerificationTokenInvalid
	}

	_, err = e.updateAccount(ctx, accountID, func(a *Account) error {
		if a.Status != AccountPending {
			return ErrVerificationNotPending
		}
		a.Status = AccountActive
		return nil
	})
	if err != nil {
		return err
	}

	_ = e.verifyAttempts.Reset(ctx, ip)
	e.enqueueMail(ctx, Mail{To: account.Email, Template: MailTemplateWelcome})
	e.emitAudit(ctx, auditEventEmailVerified, true, accountID, nil, nil)
	return nil
}

// SoftDeleteAccount marks the account deleted and tears down its live
// sessions. The row survives; RestoreAccount can undo the deletion.
func (e *Engine) SoftDeleteAccount(ctx context.Context, accountID, actorID string) error {
	now := e.clock.Now()
	_, err := e.updateAccount(ctx, accountID, func(a *Account) error {
		if a.Status == AccountDeleted {
			return ErrAccountNotFound
		}
		a.Status = AccountDeleted
		a.DeletedAt = now
		a.DeletedBy = actorID
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := e.refresh.RevokeAllForAccount(ctx, accountID); err != nil {
		return ErrStoreUnavailable
	}
	_ = e.devices.RevokeAllForAccount(ctx, accountID)

	e.emitAudit(ctx, auditEventAccountDeleted, true, accountID, nil, func() map[string]string {
		return map[string]string{"actor": actorID}
	})
	return nil
}

// RestoreAccount reverses a soft deletion. Only deleted accounts can be
// restored; the account comes back active with its roles and MFA state
// intact, but with no sessions.
func (e *Engine) RestoreAccount(ctx context.Context, accountID string) error {
	_, err := e.updateAccount(ctx, accountID, func(a *Account) error {
		if a.Status != AccountDeleted {
			return ErrAccountNotDeleted
		}
		a.Status = AccountActive
		a.DeletedAt = time.Time{}
		a.DeletedBy = ""
		return nil
	})
	if err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventAccountRestored, true, accountID, nil, nil)
	return nil
}

// ChangePassword rotates the credential after re-verifying the current
// one, then revokes every session. The caller logs in again with the new
// password; nothing minted under the old one survives.
func (e *Engine) ChangePassword(ctx context.Context, accountID, oldPass, newPass string) error {
	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !accountUsable(&account) {
		return ErrAccountNotFound
	}

	ok, err := e.hasher.Verify(oldPass, account.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventPasswordChanged, false, accountID, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	if newPass == oldPass {
		return ErrPasswordReuse
	}

	newHash, err := e.hasher.Hash(newPass)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return ErrPasswordPolicy
		}
		return err
	}

	_, err = e.updateAccount(ctx, accountID, func(a *Account) error {
		a.PasswordHash = newHash
		a.RequirePasswordChange = false
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := e.refresh.RevokeAllForAccount(ctx, accountID); err != nil {
		return ErrStoreUnavailable
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChanged, true, accountID, nil, nil)
	return nil
}
