package identity

import "errors"

// Sentinel errors returned by the engine. Match with errors.Is; wrapped
// variants carry additional detail. The taxonomy deliberately keeps
// enumeration-sensitive failures behind ErrInvalidCredentials.
var (
	// ErrInvalidCredentials unifies unknown account, wrong password, and
	// inactive or deleted account, so callers cannot probe for existence.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLockedOut is returned once the failed-login threshold is
	// exceeded, regardless of whether the submitted password is correct.
	ErrAccountLockedOut = errors.New("account locked out")

	ErrLoginThrottled   = errors.New("login throttled")
	ErrRefreshThrottled = errors.New("refresh throttled")

	// MFA challenge flow.
	ErrMFARequired          = errors.New("mfa required")
	ErrMFAChallengeInvalid  = errors.New("mfa challenge invalid")
	ErrMFAChallengeConsumed = errors.New("mfa challenge already consumed")
	ErrMFACodeInvalid       = errors.New("mfa code invalid")
	ErrMFAAttemptsExceeded  = errors.New("mfa attempts exceeded")
	ErrMFACodeReplayed      = errors.New("mfa code replayed")

	// TOTP enrollment.
	ErrTOTPAlreadyEnrolled = errors.New("totp already enrolled")
	ErrTOTPNotEnrolled     = errors.New("totp not enrolled")
	ErrTOTPSetupFailed     = errors.New("totp setup failed")

	// Backup codes.
	ErrBackupCodesUnavailable = errors.New("backup codes unavailable")

	// Refresh-token lifecycle.
	ErrRefreshInvalid = errors.New("refresh token invalid")
	ErrRefreshExpired = errors.New("refresh token expired")
	ErrRefreshReuse   = errors.New("refresh token reuse detected")

	// Access tokens.
	ErrTokenInvalid = errors.New("access token invalid")

	// Account lifecycle.
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountNotDeleted   = errors.New("account not deleted")
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
	ErrRoleAlreadyAssigned = errors.New("role already assigned")
	ErrRoleNotAssigned     = errors.New("role not assigned")

	// Password change / reset and email verification.
	ErrPasswordPolicy               = errors.New("password policy violation")
	ErrPasswordReuse                = errors.New("password reuse rejected")
	ErrResetTokenInvalid            = errors.New("password reset token invalid")
	ErrResetAttemptsExceeded        = errors.New("password reset attempts exceeded")
	ErrResetThrottled               = errors.New("password reset throttled")
	ErrVerificationTokenInvalid     = errors.New("email verification token invalid")
	ErrVerificationNotPending       = errors.New("email verification not pending")
	ErrVerificationAttemptsExceeded = errors.New("email verification attempts exceeded")

	// Infrastructure.
	ErrStoreUnavailable = errors.New("state store unavailable")
)
