// Package identity is an authentication and session-lifecycle engine:
// password login with account lockout, TOTP and backup-code MFA behind
// single-use challenges, rotating refresh tokens with family-based reuse
// detection, trusted devices, password reset, and email verification.
//
// The engine owns no durable account storage. Callers supply an
// [AccountStore] (any database) and a Redis client for the volatile
// state: refresh tokens, challenges, limiters, trusted devices, and
// one-time tokens.
//
// # Construction
//
//	engine, err := identity.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithAccountStore(store).
//		Build()
//
// # Error discipline
//
// Failures that could reveal whether an account exists collapse into
// ErrInvalidCredentials (login) or silent success (registration, reset
// requests). Compare errors with errors.Is; everything the engine
// returns matches one of the package sentinels.
//
// # Request context
//
// HTTP frontends attach the caller's network identity with
// [WithClientIP] and [WithUserAgent]; throttling, device fingerprints,
// and audit events read it back from the context.
package identity
