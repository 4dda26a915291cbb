package identity

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/kadvik/identity/internal/rate"
	"github.com/kadvik/identity/jwt"
	"github.com/kadvik/identity/password"
)

// Builder assembles an Engine. Redis and an AccountStore are mandatory;
// everything else has a sensible default.
//
//	engine, err := identity.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithAccountStore(store).
//		Build()
type Builder struct {
	cfg       Config
	cfgSet    bool
	redis     redis.UniversalClient
	accounts  AccountStore
	mailer    Mailer
	sink      AuditSink
	clock     Clock
	protector SecretProtector
}

// New starts a Builder with DefaultConfig.
func New() *Builder {
	return &Builder{}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	b.cfgSet = true
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithMailer sets the outbound-mail collaborator. Without one, mail is
// silently skipped (useful in tests and API-only deployments).
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithClock overrides the time source, primarily for tests.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithSecretProtector overrides the TOTP-secret protector built from
// Config.Secrets.TOTPKey.
func (b *Builder) WithSecretProtector(p SecretProtector) *Builder {
	b.protector = p
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	cfg := b.cfg
	if !b.cfgSet {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("identity: redis client is required")
	}
	if b.accounts == nil {
		return nil, errors.New("identity: account store is required")
	}

	clock := b.clock
	if clock == nil {
		clock = SystemClock()
	}

	protector := b.protector
	if protector == nil {
		if len(cfg.Secrets.TOTPKey) == 0 {
			return nil, errors.New("identity: Secrets.TOTPKey or a SecretProtector is required")
		}
		var err error
		protector, err = NewSecretProtector(cfg.Secrets.TOTPKey)
		if err != nil {
			return nil, err
		}
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: cfg.JWT.SigningMethod,
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
		TimeFunc:      clock.Now,
	})
	if err != nil {
		return nil, err
	}

	ns := cfg.KeyNamespace
	if ns != "" && ns[len(ns)-1] != ':' {
		ns += ":"
	}

	e := &Engine{
		cfg:       cfg,
		clock:     clock,
		accounts:  b.accounts,
		mailer:    b.mailer,
		hasher:    hasher,
		jwt:       jwtManager,
		totp:      newTOTPManager(cfg.MFA.TOTP),
		protector: protector,
		metrics:   NewMetrics(cfg.Metrics),
		audit:     newAuditDispatcher(cfg.Audit, b.sink),

		refresh:    newRefreshStore(b.redis, ns, clock),
		challenges: newMFAChallengeStore(b.redis, ns, clock),
		devices:    newTrustedDeviceStore(b.redis, ns, clock),

		totpAttempts:   newAttemptLimiter(b.redis, ns+"mfl:totp:", cfg.MFA.TOTPMaxFailures, cfg.MFA.TOTPLockout),
		backupAttempts: newAttemptLimiter(b.redis, ns+"mfl:bc:", cfg.MFA.BackupMaxFailures, cfg.MFA.BackupLockout),
		resetAttempts:  newAttemptLimiter(b.redis, ns+"prl:c:", cfg.PasswordReset.MaxConfirmAttempts, cfg.PasswordReset.AttemptWindow),
		resetRequests:  newAttemptLimiter(b.redis, ns+"prl:r:", cfg.PasswordReset.MaxRequestsPerHour, resetRequestWindow),
		verifyAttempts: newAttemptLimiter(b.redis, ns+"evl:", cfg.Verification.MaxConfirmAttempts, cfg.Verification.AttemptWindow),

		replay: newTOTPReplayGuard(b.redis, ns+"totpc:", totpReplayTTL(cfg.MFA.TOTP)),

		resetTokens:  newOneTimeTokenStore(b.redis, ns+"prt:", clock),
		verifyTokens: newOneTimeTokenStore(b.redis, ns+"evt:", clock),

		throttle: rate.New(b.redis, rate.Config{
			EnableIPThrottle:      cfg.Login.EnableIPThrottle,
			EnableRefreshThrottle: cfg.Refresh.EnableThrottle,
			MaxLoginPerIP:         cfg.Login.MaxPerIP,
			LoginWindow:           cfg.Login.IPWindow,
			MaxRefreshPerFamily:   cfg.Refresh.MaxPerFamily,
			RefreshWindow:         cfg.Refresh.ThrottleWindow,
		}),
	}

	return e, nil
}
