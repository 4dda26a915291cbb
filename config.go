package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/kadvik/identity/jwt"
	"github.com/kadvik/identity/password"
)

// Config is the complete engine configuration. Start from DefaultConfig
// and override what the deployment needs; Build validates the result.
type Config struct {
	// KeyNamespace prefixes every Redis key the engine writes. Lets several
	// deployments share one Redis.
	KeyNamespace string

	// ProductionMode tightens Validate: plaintext-unsafe defaults that are
	// convenient in development become hard errors.
	ProductionMode bool

	Login         LoginConfig
	JWT           JWTConfig
	Refresh       RefreshConfig
	MFA           MFAConfig
	TrustedDevice TrustedDeviceConfig
	Password      password.Config
	PasswordReset ResetConfig
	Verification  VerificationConfig
	Secrets       SecretsConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

// LoginConfig governs the primary credential check.
type LoginConfig struct {
	// MaxFailedAttempts failed passwords lock the account row for
	// LockoutDuration. This is the account lockout of the data model, not
	// the per-IP throttle below.
	MaxFailedAttempts int
	LockoutDuration   time.Duration

	// Coarse per-IP throttle in front of the credential check.
	EnableIPThrottle bool
	MaxPerIP         int
	IPWindow         time.Duration
}

// JWTConfig configures access-token minting. Mirrors jwt.Config minus the
// time source, which the engine supplies from its Clock.
type JWTConfig struct {
	SigningMethod jwt.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
}

// RefreshConfig governs refresh-token issuance and rotation.
type RefreshConfig struct {
	// TTL applies to ordinary logins, RememberMeTTL to remember-me logins.
	// Both are clamped to MaxTTL.
	TTL           time.Duration
	RememberMeTTL time.Duration
	MaxTTL        time.Duration

	// MaxActiveSessions caps concurrent families per account; a fresh
	// login beyond the cap evicts the oldest active token. Zero disables
	// the cap.
	MaxActiveSessions int

	// Per-family rotation throttle.
	EnableThrottle bool
	MaxPerFamily   int
	ThrottleWindow time.Duration
}

// TOTPConfig parameterizes code generation and verification.
type TOTPConfig struct {
	Issuer string
	Digits int
	Period time.Duration
	// Skew is the number of adjacent periods tolerated for clock drift.
	Skew int
}

// MFAConfig governs the second-factor challenge flow.
type MFAConfig struct {
	// ChallengeTTL bounds the gap between password check and second
	// factor; ChallengeMaxAttempts bounds code submissions per challenge.
	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int

	// Per-type failure lockouts, independent of the account lockout and of
	// each other.
	TOTPMaxFailures   int
	TOTPLockout       time.Duration
	BackupMaxFailures int
	BackupLockout     time.Duration

	BackupCodeCount  int
	BackupCodeLength int

	TOTP TOTPConfig
}

// TrustedDeviceConfig governs MFA bypass for remembered devices.
type TrustedDeviceConfig struct {
	Enabled bool
	TTL     time.Duration
}

// ResetConfig governs password-reset tokens.
type ResetConfig struct {
	TokenTTL           time.Duration
	MaxConfirmAttempts int
	AttemptWindow      time.Duration
	MaxRequestsPerHour int
}

// VerificationConfig governs email-verification tokens.
type VerificationConfig struct {
	TokenTTL           time.Duration
	MaxConfirmAttempts int
	AttemptWindow      time.Duration
}

// SecretsConfig holds key material for at-rest protection.
type SecretsConfig struct {
	// TOTPKey is the 32-byte key for the default secret protector. Unused
	// when a custom SecretProtector is injected.
	TOTPKey []byte
}

// AuditConfig tunes the async audit dispatcher.
type AuditConfig struct {
	Enabled   bool
	QueueSize int
	// DropIfFull drops events when the queue is saturated instead of
	// blocking the request path. The dropped count is observable.
	DropIfFull bool
}

// MetricsConfig tunes in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a development-friendly baseline. Production
// deployments must at least set JWT key material, Secrets.TOTPKey, and
// ProductionMode.
func DefaultConfig() Config {
	return Config{
		Login: LoginConfig{
			MaxFailedAttempts: 5,
			LockoutDuration:   15 * time.Minute,
			EnableIPThrottle:  true,
			MaxPerIP:          30,
			IPWindow:          5 * time.Minute,
		},
		JWT: JWTConfig{
			SigningMethod: jwt.MethodHS256,
			AccessTTL:     10 * time.Minute,
			Leeway:        30 * time.Second,
		},
		Refresh: RefreshConfig{
			TTL:               24 * time.Hour,
			RememberMeTTL:     30 * 24 * time.Hour,
			MaxTTL:            90 * 24 * time.Hour,
			MaxActiveSessions: 10,
			EnableThrottle:    true,
			MaxPerFamily:      30,
			ThrottleWindow:    time.Minute,
		},
		MFA: MFAConfig{
			ChallengeTTL:         3 * time.Minute,
			ChallengeMaxAttempts: 5,
			TOTPMaxFailures:      5,
			TOTPLockout:          time.Minute,
			BackupMaxFailures:    5,
			BackupLockout:        5 * time.Minute,
			BackupCodeCount:      10,
			BackupCodeLength:     8,
			TOTP: TOTPConfig{
				Issuer: "identity",
				Digits: 6,
				Period: 30 * time.Second,
				Skew:   1,
			},
		},
		TrustedDevice: TrustedDeviceConfig{
			Enabled: true,
			TTL:     30 * 24 * time.Hour,
		},
		Password: password.DefaultConfig(),
		PasswordReset: ResetConfig{
			TokenTTL:           30 * time.Minute,
			MaxConfirmAttempts: 5,
			AttemptWindow:      time.Hour,
			MaxRequestsPerHour: 3,
		},
		Verification: VerificationConfig{
			TokenTTL:           24 * time.Hour,
			MaxConfirmAttempts: 10,
			AttemptWindow:      time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			QueueSize:  1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks internal consistency. Build calls it; exported so
// deployments can fail fast on bad config before wiring anything.
func (c Config) Validate() error {
	if c.Login.MaxFailedAttempts < 1 {
		return errors.New("config: Login.MaxFailedAttempts must be >= 1")
	}
	if c.Login.LockoutDuration <= 0 {
		return errors.New("config: Login.LockoutDuration must be positive")
	}
	if c.Login.EnableIPThrottle {
		if c.Login.MaxPerIP < 1 {
			return errors.New("config: Login.MaxPerIP must be >= 1")
		}
		if c.Login.IPWindow <= 0 {
			return errors.New("config: Login.IPWindow must be positive")
		}
	}

	if c.JWT.AccessTTL <= 0 {
		return errors.New("config: JWT.AccessTTL must be positive")
	}
	if c.JWT.AccessTTL > time.Hour {
		return errors.New("config: JWT.AccessTTL above one hour defeats refresh rotation")
	}

	if c.Refresh.TTL <= 0 || c.Refresh.RememberMeTTL <= 0 || c.Refresh.MaxTTL <= 0 {
		return errors.New("config: refresh TTLs must be positive")
	}
	if c.Refresh.TTL > c.Refresh.MaxTTL || c.Refresh.RememberMeTTL > c.Refresh.MaxTTL {
		return errors.New("config: refresh TTLs must not exceed Refresh.MaxTTL")
	}
	if c.Refresh.MaxActiveSessions < 0 {
		return errors.New("config: Refresh.MaxActiveSessions must be >= 0")
	}
	if c.Refresh.EnableThrottle {
		if c.Refresh.MaxPerFamily < 1 {
			return errors.New("config: Refresh.MaxPerFamily must be >= 1")
		}
		if c.Refresh.ThrottleWindow <= 0 {
			return errors.New("config: Refresh.ThrottleWindow must be positive")
		}
	}

	if c.MFA.ChallengeTTL < 30*time.Second || c.MFA.ChallengeTTL > 15*time.Minute {
		return errors.New("config: MFA.ChallengeTTL must be between 30s and 15m")
	}
	if c.MFA.ChallengeMaxAttempts < 1 {
		return errors.New("config: MFA.ChallengeMaxAttempts must be >= 1")
	}
	if c.MFA.TOTPMaxFailures < 1 || c.MFA.BackupMaxFailures < 1 {
		return errors.New("config: MFA failure thresholds must be >= 1")
	}
	if c.MFA.TOTPLockout <= 0 || c.MFA.BackupLockout <= 0 {
		return errors.New("config: MFA lockout windows must be positive")
	}
	if c.MFA.TOTP.Digits != 6 && c.MFA.TOTP.Digits != 8 {
		return errors.New("config: MFA.TOTP.Digits must be 6 or 8")
	}
	if c.MFA.TOTP.Period < 15*time.Second || c.MFA.TOTP.Period > 2*time.Minute {
		return errors.New("config: MFA.TOTP.Period out of range")
	}
	if c.MFA.TOTP.Period%time.Second != 0 {
		return errors.New("config: MFA.TOTP.Period must be whole seconds")
	}
	if c.MFA.TOTP.Skew < 0 || c.MFA.TOTP.Skew > 2 {
		return errors.New("config: MFA.TOTP.Skew must be between 0 and 2")
	}
	if c.MFA.TOTP.Issuer == "" {
		return errors.New("config: MFA.TOTP.Issuer must be set")
	}
	if c.MFA.BackupCodeCount < 5 || c.MFA.BackupCodeCount > 20 {
		return errors.New("config: MFA.BackupCodeCount must be between 5 and 20")
	}
	if c.MFA.BackupCodeLength < 8 || c.MFA.BackupCodeLength%2 != 0 {
		return errors.New("config: MFA.BackupCodeLength must be even and >= 8")
	}

	if c.TrustedDevice.Enabled && c.TrustedDevice.TTL <= 0 {
		return errors.New("config: TrustedDevice.TTL must be positive when enabled")
	}

	if c.PasswordReset.TokenTTL <= 0 || c.Verification.TokenTTL <= 0 {
		return errors.New("config: reset and verification token TTLs must be positive")
	}
	if c.PasswordReset.MaxConfirmAttempts < 1 || c.Verification.MaxConfirmAttempts < 1 {
		return errors.New("config: reset and verification attempt caps must be >= 1")
	}
	if c.PasswordReset.AttemptWindow <= 0 || c.Verification.AttemptWindow <= 0 {
		return errors.New("config: reset and verification attempt windows must be positive")
	}
	if c.PasswordReset.MaxRequestsPerHour < 1 {
		return errors.New("config: PasswordReset.MaxRequestsPerHour must be >= 1")
	}

	if c.Audit.Enabled && c.Audit.QueueSize < 1 {
		return errors.New("config: Audit.QueueSize must be >= 1 when audit is enabled")
	}

	if c.ProductionMode {
		if err := c.validateProduction(); err != nil {
			return err
		}
	}

	return nil
}

func (c Config) validateProduction() error {
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("config: production mode requires JWT key material")
	}
	if c.JWT.SigningMethod == jwt.MethodHS256 && len(c.JWT.PrivateKey) < 32 {
		return errors.New("config: production mode requires a >= 32 byte hs256 secret")
	}
	if len(c.Secrets.TOTPKey) != 32 {
		return fmt.Errorf("config: production mode requires a 32-byte TOTP protection key, got %d bytes", len(c.Secrets.TOTPKey))
	}
	if !c.Login.EnableIPThrottle {
		return errors.New("config: production mode requires the login IP throttle")
	}
	if !c.Audit.Enabled {
		return errors.New("config: production mode requires audit")
	}
	if c.JWT.Issuer == "" {
		return errors.New("config: production mode requires JWT.Issuer")
	}
	return nil
}
