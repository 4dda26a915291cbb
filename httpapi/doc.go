// Package httpapi mounts the engine's operations on a stdlib
// [net/http.ServeMux] using method-qualified route patterns.
//
// Routes:
//
//	POST /auth/login
//	POST /auth/mfa/totp/verify
//	POST /auth/mfa/backup/verify
//	POST /auth/refresh
//	POST /auth/logout
//	POST /auth/register
//	POST /auth/verify-email
//	POST /auth/password-reset/request
//	POST /auth/password-reset/confirm
//	POST /auth/totp/enroll/initiate   (bearer token required)
//	POST /auth/totp/enroll/confirm    (bearer token required)
//	POST /auth/totp/enroll/disable    (bearer token required)
//
// Every failure is a JSON envelope {"code": ..., "message": ...} with a
// stable code per error kind. Responses never carry stack traces or
// store-level detail; reuse detection and other internal signals collapse
// into the same code as an ordinary rejection.
//
// The package owns request plumbing only. All decisions are delegated to
// [identity.Engine]; client IP and user agent are attached to the request
// context for audit events, throttles, and device fingerprints.
package httpapi
