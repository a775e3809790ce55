package idempotency

import (
	"context"
	"errors"
)

// Guard provides mutual exclusion scoped to a single key.
// Implementations must be safe for concurrent use.
type Guard interface {
	// Acquire blocks until key is free or ctx is done. The returned release
	// function frees the key; calling it more than once is a no-op.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// ErrGuardTimeout is returned when a guard cannot be acquired before the
// configured wait limit.
var ErrGuardTimeout = errors.New("timed out waiting for order guard")

// KeyGenerator maps an order key to the key stored in the guard backend.
type KeyGenerator func(orderKey string) string

// DefaultKeyGenerator namespaces order keys under "evmpay:order:".
func DefaultKeyGenerator(orderKey string) string {
	return "evmpay:order:" + orderKey + ":settle"
}
