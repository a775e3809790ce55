package evmpay

import (
	"context"
)

// OrderStore is the gateway's view of the host order store. Implementations
// must be safe for concurrent use.
type OrderStore interface {
	// Find returns the order, or an error wrapping ErrOrderNotFound.
	Find(ctx context.Context, id uint64) (*Order, error)

	// NeedsPayment reports whether the order still requires payment.
	NeedsPayment(order *Order) bool

	// MarkPaid transitions the order to paid and attaches the audit note.
	// It returns an error wrapping ErrAlreadySettled when the stored order
	// is already paid, and one wrapping ErrOrderChanged when it is unpaid
	// but was modified since it was read.
	MarkPaid(ctx context.Context, order *Order, txHash string, note string) (*Order, error)
}

// PendingMarker is implemented by stores that support the checkout step
// (process payment), which moves an unpaid order to pending.
type PendingMarker interface {
	MarkPending(ctx context.Context, id uint64, note string) (*Order, error)
}

// OrderGuard provides mutual exclusion scoped to a single key (an order id).
// Acquire blocks until the key is free or ctx is done. The returned release
// function must be called exactly once.
type OrderGuard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// NonceVerifier validates the anti-forgery token bound to a session.
type NonceVerifier interface {
	Verify(token string, sessionID string) error
}

// RedirectBuilder computes the post-payment redirect target for an order.
type RedirectBuilder func(order *Order) string
