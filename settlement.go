package evmpay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Settlement messages returned in the response envelope.
const (
	MessageSettled              = "Payment verified successfully"
	MessageSecurityTokenMissing = "Security token missing"
	MessageSecurityCheckFailed  = "Security check failed"
	MessageMissingData          = "Missing required data"
	MessageInvalidReference     = "Invalid transaction hash"
	MessageOrderNotFound        = "Invalid order"
	MessageAlreadySettled       = "Order already paid"
	MessageServerErrorPrefix    = "Server error: "
)

// SettlementNoteFormat is the audit note attached to a settled order.
const SettlementNoteFormat = "Payment completed - Transaction Hash: %s"

// SettleAction is the action name the browser posts with the settlement call.
const SettleAction = "verify_evm_payment"

// Settler marks orders paid from client-reported transaction references.
//
// Gates run in a fixed order and stop at the first failure; nothing is
// written until every gate has passed. The needs-payment check and the
// paid write happen under a guard scoped to the order id, so concurrent
// calls for one order settle it at most once while other orders proceed.
//
// The transaction reference is not confirmed on-chain unless a BeforeSettle
// hook (such as evm.ReceiptVerifier) is registered.
type Settler struct {
	store    OrderStore
	guard    OrderGuard
	nonces   NonceVerifier
	redirect RedirectBuilder
	logger   *zap.Logger
	now      func() time.Time

	mu                   sync.RWMutex
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
}

// SettlerOption configures a Settler.
type SettlerOption func(*Settler)

// WithLogger sets the audit logger. Default: zap.NewNop().
func WithLogger(logger *zap.Logger) SettlerOption {
	return func(s *Settler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRedirect overrides how the post-payment redirect is computed.
func WithRedirect(builder RedirectBuilder) SettlerOption {
	return func(s *Settler) {
		if builder != nil {
			s.redirect = builder
		}
	}
}

// WithReturnBaseURL sets the storefront base URL used by the default
// redirect: <base>/checkout/order-received/<id>/?key=<order key>.
func WithReturnBaseURL(base string) SettlerOption {
	return func(s *Settler) {
		s.redirect = OrderReceivedURL(base)
	}
}

// WithClock overrides time.Now for hook timestamps and durations.
func WithClock(now func() time.Time) SettlerOption {
	return func(s *Settler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSettler creates a settler. store, guard and nonces must be non-nil.
func NewSettler(store OrderStore, guard OrderGuard, nonces NonceVerifier, opts ...SettlerOption) *Settler {
	s := &Settler{
		store:    store,
		guard:    guard,
		nonces:   nonces,
		redirect: OrderReceivedURL(""),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OrderReceivedURL returns the storefront's order-received page builder.
func OrderReceivedURL(base string) RedirectBuilder {
	base = strings.TrimRight(base, "/")
	return func(order *Order) string {
		return fmt.Sprintf("%s/checkout/order-received/%d/?key=%s", base, order.ID, url.QueryEscape(order.OrderKey))
	}
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (s *Settler) OnBeforeSettle(hook BeforeSettleHook) *Settler {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	return s
}

func (s *Settler) OnAfterSettle(hook AfterSettleHook) *Settler {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterSettleHooks = append(s.afterSettleHooks, hook)
	return s
}

func (s *Settler) OnSettleFailure(hook OnSettleFailureHook) *Settler {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	return s
}

// ============================================================================
// Settlement
// ============================================================================

// Settle runs one settlement call. The returned response is never nil; on
// failure err is the *PaymentError the response was built from.
func (s *Settler) Settle(ctx context.Context, req SettleRequest) (resp *SettleResponse, err error) {
	hookCtx := SettleContext{
		Ctx:       ctx,
		Request:   req,
		Timestamp: s.now(),
	}

	defer func() {
		if r := recover(); r != nil {
			perr := NewPaymentError(ErrCodeSettlementStorageError, fmt.Sprintf("%s%v", MessageServerErrorPrefix, r), nil)
			resp, err = s.fail(hookCtx, perr)
		}
	}()

	// Anti-forgery token
	if req.Nonce == "" {
		return s.fail(hookCtx, NewPaymentError(ErrCodeSecurityCheckFailed, MessageSecurityTokenMissing, nil))
	}
	if verr := s.nonces.Verify(req.Nonce, req.SessionID); verr != nil {
		return s.fail(hookCtx, WrapPaymentError(ErrCodeSecurityCheckFailed, MessageSecurityCheckFailed, verr))
	}

	// Required data
	tx := TxReference(strings.TrimSpace(req.Tx))
	orderID, perr := ParseOrderID(req.OrderID)
	if perr != nil || tx == "" {
		return s.fail(hookCtx, WrapPaymentError(ErrCodeMissingData, MessageMissingData, perr))
	}
	hookCtx.OrderID = orderID
	hookCtx.Tx = tx

	// Reference shape
	if !tx.Valid() {
		return s.fail(hookCtx, NewPaymentError(ErrCodeInvalidReference, MessageInvalidReference, map[string]interface{}{
			"length": len(tx),
		}))
	}

	release, gerr := s.guard.Acquire(ctx, strconv.FormatUint(orderID, 10))
	if gerr != nil {
		return s.fail(hookCtx, serverError(gerr))
	}
	defer release()

	// Order lookup
	order, ferr := s.store.Find(ctx, orderID)
	if ferr != nil {
		if errors.Is(ferr, ErrOrderNotFound) {
			return s.fail(hookCtx, WrapPaymentError(ErrCodeOrderNotFound, MessageOrderNotFound, ferr))
		}
		return s.fail(hookCtx, serverError(ferr))
	}
	hookCtx.Order = order

	// Needs payment
	if !s.store.NeedsPayment(order) {
		return s.fail(hookCtx, WrapPaymentError(ErrCodeAlreadySettled, MessageAlreadySettled, ErrAlreadySettled))
	}

	s.mu.RLock()
	beforeHooks := s.beforeSettleHooks
	afterHooks := s.afterSettleHooks
	s.mu.RUnlock()

	for _, hook := range beforeHooks {
		result, herr := hook(hookCtx)
		if herr != nil {
			return s.fail(hookCtx, serverError(herr))
		}
		if result != nil && result.Abort {
			code := result.Code
			if code == "" {
				code = ErrCodeInvalidReference
			}
			return s.fail(hookCtx, NewPaymentError(code, result.Reason, nil))
		}
	}

	note := fmt.Sprintf(SettlementNoteFormat, tx)
	paid, merr := s.store.MarkPaid(ctx, order, tx.String(), note)
	if errors.Is(merr, ErrOrderChanged) {
		// Modified outside the guard (checkout). Reload once and retry.
		s.logger.Info("order changed during settlement, retrying",
			zap.Uint64("order_id", orderID), zap.Error(merr))
		order, ferr = s.store.Find(ctx, orderID)
		if ferr != nil {
			return s.fail(hookCtx, serverError(ferr))
		}
		if !s.store.NeedsPayment(order) {
			return s.fail(hookCtx, WrapPaymentError(ErrCodeAlreadySettled, MessageAlreadySettled, ErrAlreadySettled))
		}
		hookCtx.Order = order
		paid, merr = s.store.MarkPaid(ctx, order, tx.String(), note)
	}
	if merr != nil {
		if errors.Is(merr, ErrAlreadySettled) {
			return s.fail(hookCtx, WrapPaymentError(ErrCodeAlreadySettled, MessageAlreadySettled, merr))
		}
		return s.fail(hookCtx, serverError(merr))
	}
	if paid == nil {
		paid = order
	}
	hookCtx.Order = paid

	resp = NewSettleSuccess(MessageSettled, s.redirect(paid))
	duration := s.now().Sub(hookCtx.Timestamp)

	s.logger.Info("payment settled",
		zap.Uint64("order_id", orderID),
		zap.String("tx", tx.String()),
		zap.String("redirect", resp.Data.Redirect),
		zap.Duration("duration", duration),
	)

	resultCtx := SettleResultContext{SettleContext: hookCtx, Result: resp, Duration: duration}
	for _, hook := range afterHooks {
		if herr := hook(resultCtx); herr != nil {
			s.logger.Warn("after settle hook failed", zap.Uint64("order_id", orderID), zap.Error(herr))
		}
	}

	return resp, nil
}

// fail logs the failure, runs failure hooks and builds the failure envelope.
func (s *Settler) fail(hookCtx SettleContext, perr *PaymentError) (*SettleResponse, error) {
	duration := s.now().Sub(hookCtx.Timestamp)

	fields := []zap.Field{
		zap.String("code", perr.Code),
		zap.String("message", perr.Message),
		zap.Uint64("order_id", hookCtx.OrderID),
		zap.String("tx", string(hookCtx.Tx)),
	}
	if perr.Err != nil {
		fields = append(fields, zap.Error(perr.Err))
	}
	if perr.Code == ErrCodeSettlementStorageError {
		s.logger.Error("settlement failed", fields...)
	} else {
		s.logger.Warn("settlement rejected", fields...)
	}

	s.mu.RLock()
	hooks := s.onSettleFailureHooks
	s.mu.RUnlock()

	failureCtx := SettleFailureContext{SettleContext: hookCtx, Error: perr, Duration: duration}
	for _, hook := range hooks {
		result, _ := hook(failureCtx)
		if result != nil && result.Recovered && result.Result != nil {
			return result.Result, nil
		}
	}

	return NewSettleFailure(perr), perr
}

func serverError(err error) *PaymentError {
	return WrapPaymentError(ErrCodeSettlementStorageError, MessageServerErrorPrefix+err.Error(), err)
}
