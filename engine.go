package identity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kadvik/identity/internal"
	"github.com/kadvik/identity/internal/rate"
	"github.com/kadvik/identity/jwt"
	"github.com/kadvik/identity/password"
	"github.com/kadvik/identity/txn"
)

const resetRequestWindow = time.Hour

// The replay guard must remember a counter for as long as the matching
// code could still be submitted.
func totpReplayTTL(cfg TOTPConfig) time.Duration {
	return time.Duration(cfg.Skew+2) * cfg.Period
}

// Engine is the authentication and session-lifecycle core. Construct it
// with New().…Build(); all methods are safe for concurrent use.
type Engine struct {
	cfg       Config
	clock     Clock
	accounts  AccountStore
	mailer    Mailer
	hasher    *password.Hasher
	jwt       *jwt.Manager
	totp      *totpManager
	protector SecretProtector
	metrics   *Metrics
	audit     *auditDispatcher

	refresh    *refreshStore
	challenges *mfaChallengeStore
	devices    *trustedDeviceStore

	totpAttempts   *attemptLimiter
	backupAttempts *attemptLimiter
	resetAttempts  *attemptLimiter
	resetRequests  *attemptLimiter
	verifyAttempts *attemptLimiter

	replay *totpReplayGuard

	resetTokens  *oneTimeTokenStore
	verifyTokens *oneTimeTokenStore

	throttle *rate.Limiter
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used afterwards.
func (e *Engine) Close() {
	e.audit.Close()
}

// MetricsSnapshot exposes the current counter values for exporters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events discarded under queue pressure.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

// updateAccount is the engine's unit-of-work helper: it re-fetches the
// account fresh on every attempt, applies mutate, and writes through the
// store's versioned update, retrying on conflict. mutate must be
// idempotent with respect to re-execution and must not perform side
// effects; those belong after updateAccount returns.
func (e *Engine) updateAccount(ctx context.Context, accountID string, mutate func(a *Account) error) (Account, error) {
	opts := txn.Options{}
	return txn.Run(ctx, opts, func(ctx context.Context) (Account, error) {
		account, err := e.accounts.FindByID(ctx, accountID)
		if err != nil {
			return Account{}, err
		}
		if err := mutate(&account); err != nil {
			return Account{}, err
		}
		updated, err := e.accounts.Update(ctx, account)
		if txn.IsConflict(err) {
			e.metricInc(MetricTxnConflictRetry)
		}
		return updated, err
	})
}

// ValidateAccess parses and validates an access token and returns the
// authenticated principal.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AuthResult, error) {
	start := e.clock.Now()
	claims, err := e.jwt.ParseAccess(accessToken)
	e.metrics.Observe(MetricValidateLatency, e.clock.Now().Sub(start))
	if err != nil {
		return nil, ErrTokenInvalid
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return &AuthResult{
		AccountID:              claims.Subject,
		Roles:                  claims.Roles,
		RequiresPasswordChange: claims.PasswordChange,
		ExpiresAt:              expiresAt,
	}, nil
}

// issuePair mints an access token and a fresh-family refresh token for a
// completed login, applying the session cap first. Rotation goes through
// the refresh store's atomic path instead and never calls this.
func (e *Engine) issuePair(ctx context.Context, account *Account, rememberMe bool) (*LoginResult, error) {
	if err := e.applySessionCap(ctx, account.ID); err != nil {
		return nil, err
	}

	access, accessExpiry, err := e.jwt.CreateAccess(account.ID, uuid.NewString(), account.Roles, account.RequirePasswordChange)
	if err != nil {
		return nil, err
	}

	refreshPlain, refreshHash, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, err
	}

	ttl := e.refreshTTL(rememberMe)
	now := e.clock.Now()
	record := refreshToken{
		AccountID: account.ID,
		FamilyID:  uuid.NewString(),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	if err := e.refresh.Issue(ctx, refreshHash, record, e.refreshRetention()); err != nil {
		return nil, ErrStoreUnavailable
	}

	return &LoginResult{
		AccessToken:      access,
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     refreshPlain,
		RefreshExpiresAt: now.Add(ttl),
	}, nil
}

func (e *Engine) refreshTTL(rememberMe bool) time.Duration {
	ttl := e.cfg.Refresh.TTL
	if rememberMe {
		ttl = e.cfg.Refresh.RememberMeTTL
	}
	if ttl > e.cfg.Refresh.MaxTTL {
		ttl = e.cfg.Refresh.MaxTTL
	}
	return ttl
}

// Records stay resident past expiry so revoked-token replay keeps
// tripping reuse detection until the family is certainly dead.
func (e *Engine) refreshRetention() time.Duration {
	return e.cfg.Refresh.MaxTTL + 24*time.Hour
}

// applySessionCap enforces the bounded concurrent-session policy: when
// the account is at the cap, the oldest active token's family is revoked
// to make room for the new login.
func (e *Engine) applySessionCap(ctx context.Context, accountID string) error {
	limit := e.cfg.Refresh.MaxActiveSessions
	if limit <= 0 {
		return nil
	}

	count, _, oldest, err := e.refresh.ActiveSessions(ctx, accountID)
	if err != nil {
		return ErrStoreUnavailable
	}
	if count < limit || oldest == nil {
		return nil
	}

	if _, err := e.refresh.RevokeFamily(ctx, accountID, oldest.FamilyID); err != nil {
		return ErrStoreUnavailable
	}
	e.metricInc(MetricSessionEvicted)
	e.emitAudit(ctx, auditEventSessionEvicted, true, accountID, nil, func() map[string]string {
		return map[string]string{"family_id": oldest.FamilyID}
	})
	return nil
}

// enqueueMail hands a message to the mailer. Failures are audit-logged
// warnings, never errors: the primary operation already succeeded.
func (e *Engine) enqueueMail(ctx context.Context, mail Mail) {
	if e.mailer == nil {
		return
	}
	if err := e.mailer.Enqueue(ctx, mail); err != nil {
		e.emitAudit(ctx, auditEventMailEnqueueFailed, false, "", nil, func() map[string]string {
			return map[string]string{
				"template": mail.Template,
				"to":       maskIdentifier(mail.To),
			}
		})
	}
}

func (e *Engine) deviceFingerprint(ctx context.Context) [32]byte {
	return internal.Fingerprint(clientIPFromContext(ctx), userAgentFromContext(ctx))
}

// accountUsable distinguishes nothing to the caller: every unusable state
// collapses into ErrInvalidCredentials at the API boundary.
func accountUsable(a *Account) bool {
	return a.Status == AccountActive && a.DeletedAt.IsZero()
}
