package model

import "errors"

var (
	// ErrExhaustedPool is returned by a claim when the pool has no unused code left.
	// It is an expected business outcome, not a fault.
	ErrExhaustedPool = errors.New("no codes available")

	// ErrDuplicateCode marks a code that already exists in its pool.
	ErrDuplicateCode = errors.New("duplicate code")

	// ErrInvalidInput is returned before any storage access for malformed requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageUnavailable wraps transport and connection failures of the store.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned when a referenced code or association does not exist.
	ErrNotFound = errors.New("not found")
)

// ErrAlreadyAssociated is reported by the store when the identity already holds
// a code in the pool, typically because a concurrent claim by the same identity won.
var ErrAlreadyAssociated = errors.New("identity already holds a code")
