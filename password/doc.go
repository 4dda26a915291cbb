// Package password wraps Argon2id hashing behind a small Hasher type that
// speaks the PHC string format, so stored hashes stay verifiable across
// cost-parameter upgrades.
package password
