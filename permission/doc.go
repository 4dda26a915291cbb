// Package permission provides a 64-bit permission bitmask, a name
// registry, and role composition for authorization checks over the role
// strings the engine stamps into access tokens.
//
// Register permissions and roles at startup, Freeze both, then answer
// per-request checks with [RoleManager.Allowed]; a check is two map reads
// and bit arithmetic.
package permission
