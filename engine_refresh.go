package identity

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kadvik/identity/internal"
	"github.com/kadvik/identity/internal/rate"
)

// Refresh rotates a refresh token: the presented token is revoked and a
// new one is issued in the same family, together with a fresh access
// token.
//
// Presenting an already-revoked token is treated as theft evidence and
// revokes the entire family. Presenting an expired token is not: expiry
// is the normal end of life and other sessions are left alone.
func (e *Engine) Refresh(ctx context.Context, token string) (*LoginResult, error) {
	if token == "" {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	oldHash := internal.HashToken(token)
	record, err := e.refresh.Get(ctx, oldHash)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if record == nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", ErrRefreshInvalid, nil)
		return nil, ErrRefreshInvalid
	}

	if err := e.throttle.CheckRefresh(ctx, record.FamilyID); err != nil {
		if errors.Is(err, rate.ErrThrottled) {
			e.metricInc(MetricRefreshThrottled)
			e.emitAudit(ctx, auditEventRefreshThrottled, false, record.AccountID, ErrRefreshThrottled, nil)
			return nil, ErrRefreshThrottled
		}
		return nil, ErrStoreUnavailable
	}

	account, err := e.accounts.FindByID(ctx, record.AccountID)
	if err != nil || !accountUsable(&account) {
		// The account went away or got disabled under a live session.
		// Kill the family so the remaining tokens stop working too.
		_, _ = e.refresh.RevokeFamily(ctx, record.AccountID, record.FamilyID)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, record.AccountID, ErrRefreshInvalid, nil)
		return nil, ErrRefreshInvalid
	}

	newPlain, newHash, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, err
	}

	// The replacement inherits the old token's lifetime, so a remember-me
	// session stays remember-me across rotations.
	ttl := record.ExpiresAt - record.IssuedAt
	maxTTL := int64(e.cfg.Refresh.MaxTTL.Seconds())
	if maxTTL > 0 && ttl > maxTTL {
		ttl = maxTTL
	}
	now := e.clock.Now()
	newExpiresAt := now.Unix() + ttl

	status, err := e.refresh.Rotate(ctx, oldHash, newHash, record, newExpiresAt, e.refreshRetention())
	if err != nil {
		return nil, ErrStoreUnavailable
	}

	switch status {
	case rotateStatusReuse:
		revoked, _ := e.refresh.RevokeFamily(ctx, record.AccountID, record.FamilyID)
		e.metricInc(MetricRefreshReuseDetected)
		e.emitAudit(ctx, auditEventRefreshReuse, false, record.AccountID, ErrRefreshReuse, func() map[string]string {
			return map[string]string{
				"family_id":      record.FamilyID,
				"tokens_revoked": strconv.Itoa(revoked),
			}
		})
		return nil, ErrRefreshReuse

	case rotateStatusExpired:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, record.AccountID, ErrRefreshExpired, nil)
		return nil, ErrRefreshExpired

	case rotateStatusRotated:
		// Proceed below.

	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, record.AccountID, ErrRefreshInvalid, nil)
		return nil, ErrRefreshInvalid
	}

	access, accessExpiry, err := e.jwt.CreateAccess(account.ID, uuid.NewString(), account.Roles, account.RequirePasswordChange)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, account.ID, nil, func() map[string]string {
		return map[string]string{"family_id": record.FamilyID}
	})

	return &LoginResult{
		AccessToken:      access,
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     newPlain,
		RefreshExpiresAt: time.Unix(newExpiresAt, 0),
	}, nil
}

// Logout revokes the presented refresh token. Unknown, expired, and
// already-revoked tokens all succeed silently; logout is idempotent.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	revoked, err := e.refresh.Revoke(ctx, internal.HashToken(token))
	if err != nil {
		return ErrStoreUnavailable
	}
	if revoked {
		e.metricInc(MetricLogout)
		e.emitAudit(ctx, auditEventLogout, true, "", nil, nil)
	}
	return nil
}

// LogoutAll revokes every refresh token and trusted device the account
// holds, across all sessions and families. Returns the number of tokens
// revoked.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) (int, error) {
	if accountID == "" {
		return 0, ErrAccountNotFound
	}

	revoked, err := e.refresh.RevokeAllForAccount(ctx, accountID)
	if err != nil {
		return 0, ErrStoreUnavailable
	}
	if err := e.devices.RevokeAllForAccount(ctx, accountID); err != nil {
		return revoked, ErrStoreUnavailable
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, accountID, nil, func() map[string]string {
		return map[string]string{"tokens_revoked": strconv.Itoa(revoked)}
	})
	return revoked, nil
}
