// Package txn provides a small optimistic-concurrency retry runner.
//
// Stores signal version conflicts with an explicit error kind (ErrConflict)
// instead of a dedicated exception path; Run re-executes the whole unit of
// work with fresh reads until it commits or attempts run out.
package txn
