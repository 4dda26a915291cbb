// Package middleware exposes HTTP middleware adapters over
// identity.Engine validation.
//
// # Guards
//
//   - [Guard] validates the bearer access token and injects the result.
//   - [RequireRole] rejects principals missing a role.
//   - [RequirePasswordFresh] rejects principals flagged for a password change.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself; all decisions are delegated to
// Engine.ValidateAccess.
package middleware
