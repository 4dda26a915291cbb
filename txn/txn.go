package txn

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrConflict marks an optimistic-concurrency conflict: the entity a unit of
// work read was modified by someone else before the write landed. Stores
// return it (directly or wrapped via Conflict) from their versioned update
// paths; Run retries operations that fail with it.
var ErrConflict = errors.New("txn: concurrency conflict")

// Conflict wraps err so that it matches ErrConflict under errors.Is while
// preserving the underlying cause. A nil err yields ErrConflict itself.
func Conflict(err error) error {
	if err == nil {
		return ErrConflict
	}
	return fmt.Errorf("%w: %v", ErrConflict, err)
}

// IsConflict reports whether err signals an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Options tunes the retry loop. The zero value is usable; Run applies the
// documented defaults for unset fields.
type Options struct {
	// MaxRetries is the total number of attempts, including the first.
	// Defaults to 3.
	MaxRetries int

	// Backoff returns the delay before the given retry attempt (1-based:
	// attempt 1 is the delay before the second invocation). Defaults to
	// DefaultBackoff.
	Backoff func(attempt int) time.Duration

	// Sleep waits for d or until ctx is done. Overridable in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) maxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return 3
}

func (o Options) backoff(attempt int) time.Duration {
	if o.Backoff != nil {
		return o.Backoff(attempt)
	}
	return DefaultBackoff(attempt)
}

func (o Options) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DefaultBackoff doubles from 10ms per attempt, capped at 160ms.
func DefaultBackoff(attempt int) time.Duration {
	d := 10 * time.Millisecond << (attempt - 1)
	if d > 160*time.Millisecond {
		d = 160 * time.Millisecond
	}
	return d
}

// Run executes op, retrying on conflict up to Options.MaxRetries attempts.
//
// Each retry re-invokes op from scratch: op must perform its own fresh reads
// and must not carry mutable state across invocations (any "what changed"
// bookkeeping belongs inside op, reset at its top). Errors that do not match
// ErrConflict propagate immediately without retry. When every attempt
// conflicts, the last conflict is returned wrapped with attempt context and
// still matches ErrConflict, so callers can distinguish "try again later"
// from hard failures.
//
// Side effects that must survive only a committed write (audit records,
// cache invalidation, mail enqueue) belong after Run returns, driven by the
// value op produced, never inside op.
func Run[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	max := opts.maxRetries()

	var err error
	for attempt := 1; attempt <= max; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return zero, cerr
		}

		var out T
		out, err = op(ctx)
		if err == nil {
			return out, nil
		}
		if !IsConflict(err) {
			return zero, err
		}
		if attempt == max {
			break
		}
		if serr := opts.sleep(ctx, opts.backoff(attempt)); serr != nil {
			return zero, serr
		}
	}

	return zero, fmt.Errorf("txn: %d attempts exhausted: %w", max, err)
}
