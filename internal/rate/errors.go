package rate

import "errors"

var (
	// ErrThrottled reports an exhausted fixed-window budget.
	ErrThrottled = errors.New("rate: throttled")
	// ErrBackendUnavailable wraps Redis transport failures.
	ErrBackendUnavailable = errors.New("rate: backend unavailable")
)
