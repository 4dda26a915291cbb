package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/kadvik/identity/internal/rate"
	"github.com/kadvik/identity/txn"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginLocked          = "login_locked_out"
	auditEventLoginThrottled       = "login_throttled"
	auditEventMFARequired          = "mfa_required"
	auditEventMFASuccess           = "mfa_success"
	auditEventMFAFailure           = "mfa_failure"
	auditEventMFAAttemptsExceeded  = "mfa_attempts_exceeded"
	auditEventMFAChallengeReplay   = "mfa_challenge_replay"
	auditEventMFABypassTrusted     = "mfa_bypass_trusted_device"
	auditEventDeviceTrusted        = "device_trusted"
	auditEventDeviceRejected       = "device_rejected"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuse         = "refresh_reuse_detected"
	auditEventRefreshThrottled     = "refresh_throttled"
	auditEventSessionEvicted       = "session_evicted"
	auditEventLogout               = "logout"
	auditEventLogoutAll            = "logout_all"
	auditEventTOTPSetupInitiated   = "totp_setup_initiated"
	auditEventTOTPEnabled          = "totp_enabled"
	auditEventTOTPDisabled         = "totp_disabled"
	auditEventTOTPSetupFailed      = "totp_setup_failed"
	auditEventBackupCodesIssued    = "backup_codes_issued"
	auditEventBackupCodeUsed       = "backup_code_used"
	auditEventRoleAdded            = "role_added"
	auditEventRoleRemoved          = "role_removed"
	auditEventRegistration         = "registration"
	auditEventEmailVerified        = "email_verified"
	auditEventAccountDeleted       = "account_deleted"
	auditEventAccountRestored      = "account_restored"
	auditEventPasswordChanged      = "password_changed"
	auditEventPasswordResetRequest = "password_reset_request"
	auditEventPasswordResetConfirm = "password_reset_confirm"
	auditEventMailEnqueueFailed    = "mail_enqueue_failed"
)

// auditErrorCode maps engine errors to the stable codes recorded on audit
// events. Unknown errors collapse to internal_error so storage failures
// never leak detail into the event stream.
func auditErrorCode(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountLockedOut):
		return "account_locked"
	case errors.Is(err, ErrLoginThrottled),
		errors.Is(err, ErrRefreshThrottled),
		errors.Is(err, ErrResetThrottled),
		errors.Is(err, rate.ErrThrottled):
		return "throttled"
	case errors.Is(err, ErrMFAAttemptsExceeded):
		return "mfa_attempts_exceeded"
	case errors.Is(err, ErrMFAChallengeConsumed):
		return "mfa_challenge_replay"
	case errors.Is(err, ErrMFACodeReplayed):
		return "mfa_code_replay"
	case errors.Is(err, ErrMFAChallengeInvalid),
		errors.Is(err, ErrMFACodeInvalid),
		errors.Is(err, ErrMFARequired):
		return "mfa_invalid"
	case errors.Is(err, ErrRefreshReuse):
		return "refresh_reuse"
	case errors.Is(err, ErrRefreshExpired):
		return "refresh_expired"
	case errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrResetTokenInvalid),
		errors.Is(err, ErrVerificationTokenInvalid):
		return "invalid_token"
	case errors.Is(err, ErrResetAttemptsExceeded),
		errors.Is(err, ErrVerificationAttemptsExceeded):
		return "attempts_exceeded"
	case errors.Is(err, ErrTOTPAlreadyEnrolled),
		errors.Is(err, ErrTOTPNotEnrolled),
		errors.Is(err, ErrTOTPSetupFailed):
		return "totp_state"
	case errors.Is(err, ErrBackupCodesUnavailable):
		return "backup_codes_unavailable"
	case errors.Is(err, ErrPasswordPolicy):
		return "password_policy"
	case errors.Is(err, ErrPasswordReuse):
		return "password_reuse"
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrAccountNotDeleted),
		errors.Is(err, ErrVerificationNotPending):
		return "account_state"
	case errors.Is(err, ErrDuplicateIdentifier):
		return "duplicate"
	case errors.Is(err, ErrRoleAlreadyAssigned),
		errors.Is(err, ErrRoleNotAssigned):
		return "role_state"
	case errors.Is(err, txn.ErrConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, rate.ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "internal_error"
	}
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		RequestID: requestIDFromContext(ctx),
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = code
	}

	e.audit.Emit(ctx, event)
}

// maskIdentifier truncates usernames and emails before they reach audit
// metadata: "alice@example.com" becomes "al***@example.com", bare
// usernames keep their first two runes.
func maskIdentifier(identifier string) string {
	if identifier == "" {
		return ""
	}

	local, domain, isEmail := strings.Cut(identifier, "@")
	keep := 2
	if len(local) < keep {
		keep = len(local)
	}
	masked := local[:keep] + "***"
	if isEmail {
		return masked + "@" + domain
	}
	return masked
}
