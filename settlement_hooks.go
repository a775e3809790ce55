package evmpay

import (
	"context"
	"time"
)

// ============================================================================
// Settlement Hook Context Types
// ============================================================================

// SettleContext contains information passed to settlement hooks.
// Order is nil when the failure happened before the order was loaded.
type SettleContext struct {
	Ctx       context.Context
	Request   SettleRequest
	OrderID   uint64
	Tx        TxReference
	Order     *Order
	Timestamp time.Time
}

// SettleResultContext contains a successful settlement and its context
type SettleResultContext struct {
	SettleContext
	Result   *SettleResponse
	Duration time.Duration
}

// SettleFailureContext contains a settlement failure and its context
type SettleFailureContext struct {
	SettleContext
	Error    *PaymentError
	Duration time.Duration
}

// ============================================================================
// Settlement Hook Result Types
// ============================================================================

// BeforeSettleHookResult represents the result of a "before" hook.
// If Abort is true, settlement is aborted with the given Reason. Code selects
// the failure kind and defaults to ErrCodeInvalidReference.
type BeforeSettleHookResult struct {
	Abort  bool
	Code   string
	Reason string
}

// SettleFailureHookResult represents the result of a failure hook
// If Recovered is true, the provided Result replaces the failure.
type SettleFailureHookResult struct {
	Recovered bool
	Result    *SettleResponse
}

// ============================================================================
// Settlement Hook Function Types
// ============================================================================

// BeforeSettleHook runs under the per-order guard after the order has been
// found to need payment and before it is marked paid. Returning an error
// fails settlement with a server error.
type BeforeSettleHook func(SettleContext) (*BeforeSettleHookResult, error)

// AfterSettleHook is called after the order has been marked paid.
// Any error returned will be logged but will not affect the result
type AfterSettleHook func(SettleResultContext) error

// OnSettleFailureHook is called for every failed settlement, including gate
// rejections.
type OnSettleFailureHook func(SettleFailureContext) (*SettleFailureHookResult, error)
