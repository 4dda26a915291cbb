// Package memstore provides an in-memory AccountStore for tests,
// examples, and load tooling. It honors the full store contract,
// including version-based conflict detection and atomic backup-code
// consumption, but persists nothing.
package memstore
