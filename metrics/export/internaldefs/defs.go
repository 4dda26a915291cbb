package internaldefs

import (
	identity "github.com/kadvik/identity"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   identity.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   identity.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter with its exposition name.
var CounterDefs = []CounterDef{
	{ID: identity.MetricLoginSuccess, Name: "identity_login_success_total", Help: "Successful logins."},
	{ID: identity.MetricLoginFailure, Name: "identity_login_failure_total", Help: "Failed login attempts."},
	{ID: identity.MetricLoginLockedOut, Name: "identity_login_locked_out_total", Help: "Logins rejected by the account lockout."},
	{ID: identity.MetricLoginThrottled, Name: "identity_login_throttled_total", Help: "Logins rejected by the per-IP throttle."},
	{ID: identity.MetricMFARequired, Name: "identity_mfa_required_total", Help: "Logins parked behind an MFA challenge."},
	{ID: identity.MetricMFASuccess, Name: "identity_mfa_success_total", Help: "Successful MFA confirmations."},
	{ID: identity.MetricMFAFailure, Name: "identity_mfa_failure_total", Help: "Failed MFA confirmations."},
	{ID: identity.MetricMFALockedOut, Name: "identity_mfa_locked_out_total", Help: "MFA attempts rejected by the per-type lockout."},
	{ID: identity.MetricMFAChallengeReplay, Name: "identity_mfa_challenge_replay_total", Help: "Detected MFA challenge replays."},
	{ID: identity.MetricMFATrustedBypass, Name: "identity_mfa_trusted_bypass_total", Help: "MFA steps skipped via a trusted device."},
	{ID: identity.MetricRefreshSuccess, Name: "identity_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: identity.MetricRefreshFailure, Name: "identity_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: identity.MetricRefreshReuseDetected, Name: "identity_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: identity.MetricRefreshThrottled, Name: "identity_refresh_throttled_total", Help: "Refreshes rejected by the per-family throttle."},
	{ID: identity.MetricSessionEvicted, Name: "identity_session_evicted_total", Help: "Sessions evicted by the concurrent-session cap."},
	{ID: identity.MetricLogout, Name: "identity_logout_total", Help: "Single-session logouts."},
	{ID: identity.MetricLogoutAll, Name: "identity_logout_all_total", Help: "Logout-all operations."},
	{ID: identity.MetricTOTPEnrollInitiated, Name: "identity_totp_enroll_initiated_total", Help: "TOTP enrollments initiated."},
	{ID: identity.MetricTOTPEnrolled, Name: "identity_totp_enrolled_total", Help: "TOTP enrollments confirmed."},
	{ID: identity.MetricTOTPDisabled, Name: "identity_totp_disabled_total", Help: "TOTP disable operations."},
	{ID: identity.MetricBackupCodeUsed, Name: "identity_backup_code_used_total", Help: "Backup codes spent."},
	{ID: identity.MetricBackupCodesIssued, Name: "identity_backup_codes_issued_total", Help: "Backup-code set regenerations."},
	{ID: identity.MetricRoleMutation, Name: "identity_role_mutation_total", Help: "Role grants and revocations."},
	{ID: identity.MetricTxnConflictRetry, Name: "identity_txn_conflict_retry_total", Help: "Optimistic-concurrency conflicts retried."},
	{ID: identity.MetricRegistration, Name: "identity_registration_total", Help: "Accounts registered."},
	{ID: identity.MetricPasswordChanged, Name: "identity_password_changed_total", Help: "Password changes."},
	{ID: identity.MetricPasswordResetRequest, Name: "identity_password_reset_request_total", Help: "Password reset requests."},
	{ID: identity.MetricPasswordResetConfirm, Name: "identity_password_reset_confirm_total", Help: "Password reset confirmations."},
}

// HistogramDefs lists every engine histogram with its exposition name.
var HistogramDefs = []HistogramDef{
	{ID: identity.MetricValidateLatency, Name: "identity_validate_latency_seconds", Help: "Access-token validation latency."},
}

// HistogramBounds are the bucket upper bounds in seconds, matching the
// engine's fixed millisecond buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix names each bucket for backends that cannot carry
// an le label.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form
// Prometheus-style expositions expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
