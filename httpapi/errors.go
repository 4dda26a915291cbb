package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	identity "github.com/kadvik/identity"
)

// errorEnvelope is the wire shape of every non-2xx response.
type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorMapping struct {
	sentinel error
	status   int
	code     string
	message  string
}

// Ordered mapping from engine sentinels to stable wire codes. Unified
// sentinels stay unified here: refresh reuse is indistinguishable from a
// plain invalid token, and invalid credentials never say why.
var errorMappings = []errorMapping{
	{identity.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid credentials"},
	{identity.ErrAccountLockedOut, http.StatusTooManyRequests, "account_locked", "too many failed attempts, try again later"},
	{identity.ErrLoginThrottled, http.StatusTooManyRequests, "throttled", "too many requests"},
	{identity.ErrRefreshThrottled, http.StatusTooManyRequests, "throttled", "too many requests"},
	{identity.ErrResetThrottled, http.StatusTooManyRequests, "throttled", "too many requests"},

	{identity.ErrMFAChallengeInvalid, http.StatusUnauthorized, "mfa_challenge_invalid", "mfa challenge invalid or expired"},
	{identity.ErrMFAChallengeConsumed, http.StatusUnauthorized, "mfa_challenge_invalid", "mfa challenge invalid or expired"},
	{identity.ErrMFACodeInvalid, http.StatusUnauthorized, "mfa_code_invalid", "mfa code rejected"},
	{identity.ErrMFACodeReplayed, http.StatusUnauthorized, "mfa_code_invalid", "mfa code rejected"},
	{identity.ErrMFAAttemptsExceeded, http.StatusTooManyRequests, "mfa_attempts_exceeded", "too many failed codes, try again later"},

	{identity.ErrRefreshInvalid, http.StatusUnauthorized, "refresh_invalid", "refresh token rejected"},
	{identity.ErrRefreshExpired, http.StatusUnauthorized, "refresh_invalid", "refresh token rejected"},
	{identity.ErrRefreshReuse, http.StatusUnauthorized, "refresh_invalid", "refresh token rejected"},
	{identity.ErrTokenInvalid, http.StatusUnauthorized, "unauthorized", "authentication required"},

	{identity.ErrTOTPAlreadyEnrolled, http.StatusConflict, "totp_already_enrolled", "an authenticator is already configured"},
	{identity.ErrTOTPNotEnrolled, http.StatusConflict, "totp_not_enrolled", "no authenticator is configured"},
	{identity.ErrTOTPSetupFailed, http.StatusInternalServerError, "totp_setup_failed", "authenticator setup failed, try again"},

	{identity.ErrPasswordPolicy, http.StatusBadRequest, "password_policy", "password does not meet the policy"},
	{identity.ErrPasswordReuse, http.StatusBadRequest, "password_reuse", "new password must differ from the old one"},
	{identity.ErrResetTokenInvalid, http.StatusUnauthorized, "reset_token_invalid", "reset token invalid or expired"},
	{identity.ErrResetAttemptsExceeded, http.StatusTooManyRequests, "reset_attempts_exceeded", "too many attempts for this token"},
	{identity.ErrVerificationTokenInvalid, http.StatusUnauthorized, "verification_token_invalid", "verification token invalid or expired"},
	{identity.ErrVerificationNotPending, http.StatusConflict, "verification_not_pending", "email is not awaiting verification"},
	{identity.ErrVerificationAttemptsExceeded, http.StatusTooManyRequests, "verification_attempts_exceeded", "too many attempts for this token"},

	{identity.ErrAccountNotFound, http.StatusNotFound, "account_not_found", "account not found"},
	{identity.ErrStoreUnavailable, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable"},
}

// writeError translates an engine error into the envelope. Anything
// outside the taxonomy is an opaque internal failure.
func writeError(w http.ResponseWriter, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.sentinel) {
			writeEnvelope(w, m.status, m.code, m.message)
			return
		}
	}
	writeEnvelope(w, http.StatusInternalServerError, "internal", "internal error")
}

func writeEnvelope(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
