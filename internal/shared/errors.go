package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrContention indicates the persistence layer could not serialize the
	// mutation against concurrent writers; safe to retry.
	ErrContention = errors.New("contention timeout")
	// ErrStoreUnavailable indicates the persistence layer is unreachable.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Retryable reports whether the façade may retry the mutation.
func Retryable(err error) bool {
	return errors.Is(err, ErrContention) || errors.Is(err, ErrStoreUnavailable)
}
