// Package jwt mints and validates the short-lived access tokens issued by
// the identity engine (HS256 or Ed25519, registered claims plus role and
// password-change markers).
package jwt
