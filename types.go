package identity

import (
	"context"
	"time"
)

// AccountStatus is the lifecycle state of an account row.
type AccountStatus uint8

const (
	// AccountPending marks a registered account awaiting email confirmation.
	AccountPending AccountStatus = iota
	// AccountActive marks a normal, usable account.
	AccountActive
	// AccountDisabled marks an administratively suspended account.
	AccountDisabled
	// AccountDeleted marks a soft-deleted account. The row survives for
	// audit and restore; the core never hard-deletes.
	AccountDeleted
)

// Account is the credential-store row consumed by the engine.
//
// Version is the optimistic-concurrency token: AccountStore.Update must
// compare it against the stored row and fail with an error matching
// txn.ErrConflict when they diverge. Every successful update advances it.
//
// Invariant: MFAEnabled implies TOTPSecret is non-nil and TOTPConfirmedAt
// is set. A non-nil TOTPSecret with a zero TOTPConfirmedAt is a pending,
// replaceable enrollment.
type Account struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Status       AccountStatus
	Roles        []string

	// Failed-login bookkeeping, independent of per-type MFA lockouts.
	FailedLogins int
	LockedUntil  time.Time

	MFAEnabled      bool
	TOTPSecret      []byte // protected blob, nil when not enrolled
	TOTPConfirmedAt time.Time

	RequirePasswordChange bool

	LastLoginAt time.Time
	LastLoginIP string

	CreatedAt time.Time
	DeletedAt time.Time
	DeletedBy string

	Version uint64
}

// HasRole reports whether the account holds the given role.
func (a *Account) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AccountStore is the credential-management collaborator. Implementations
// own durable persistence (the engine never prescribes a schema) and must
// provide optimistic concurrency on Update as documented on Account.
//
// FindByIdentifier matches username or email case-insensitively. Lookup
// misses return ErrAccountNotFound; Create returns ErrDuplicateIdentifier
// when the username or email is taken.
type AccountStore interface {
	FindByID(ctx context.Context, id string) (Account, error)
	FindByIdentifier(ctx context.Context, usernameOrEmail string) (Account, error)
	Create(ctx context.Context, account Account) (Account, error)
	Update(ctx context.Context, account Account) (Account, error)
	ListInRole(ctx context.Context, role string) ([]Account, error)

	// Backup codes are stored as SHA-256 digests only. ConsumeBackupCode
	// must remove the matching digest atomically and report whether it was
	// present, so a code can never be spent twice.
	ReplaceBackupCodes(ctx context.Context, accountID string, digests [][32]byte) error
	ConsumeBackupCode(ctx context.Context, accountID string, digest [32]byte) (bool, error)
}

// SecretProtector encrypts TOTP secrets at rest. Protect and Unprotect
// must round-trip; Unprotect must fail on tampered input.
type SecretProtector interface {
	Protect(plaintext []byte) ([]byte, error)
	Unprotect(ciphertext []byte) ([]byte, error)
}

// Mail is an outbound message handed to the Mailer collaborator.
type Mail struct {
	To       string
	Template string
	Data     map[string]string
}

// Mailer enqueues outbound mail. Delivery is out of scope: a failed
// enqueue is logged as a warning and never fails the calling operation.
type Mailer interface {
	Enqueue(ctx context.Context, mail Mail) error
}

// Mail template names passed to the Mailer.
const (
	MailTemplateWelcome           = "welcome"
	MailTemplateEmailVerification = "email_verification"
	MailTemplatePasswordReset     = "password_reset"
	MailTemplateAccountExists     = "account_exists_notice"
)

// MFAMethod selects the second factor presented during ConfirmMFA.
type MFAMethod string

const (
	MFAMethodTOTP   MFAMethod = "totp"
	MFAMethodBackup MFAMethod = "backup_code"
)

// LoginResult is the outcome of Login, ConfirmMFA, and Refresh.
//
// When MFARequired is set, no tokens were issued: the caller must complete
// ConfirmMFA with ChallengeToken before the configured challenge TTL runs
// out. MethodHint is a masked delivery hint safe to show to the caller.
type LoginResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time

	MFARequired    bool
	ChallengeToken string
	MethodHint     string

	// TrustedDeviceToken is set when ConfirmMFA was asked to trust the
	// device; presenting it on later logins skips the MFA branch while the
	// fingerprint still matches.
	TrustedDeviceToken string
}

// AuthResult is the outcome of validating an access token.
type AuthResult struct {
	AccountID              string
	Roles                  []string
	RequiresPasswordChange bool
	ExpiresAt              time.Time
}

// TOTPSetup is returned by InitiateTOTPEnrollment for provisioning an
// authenticator app. Secret and URI are shown exactly once and never
// persisted in plaintext.
type TOTPSetup struct {
	Secret string
	URI    string
}

// LoginOptions carries the optional knobs of a Login call.
type LoginOptions struct {
	RememberMe         bool
	TrustedDeviceToken string
}

// ConfirmMFAOptions carries the optional knobs of a ConfirmMFA call.
type ConfirmMFAOptions struct {
	TrustDevice bool
}

// RegisterInput is the payload of Register.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}
