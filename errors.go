package evmpay

import (
	"errors"
	"fmt"
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a PaymentError with the same code, so
// callers can match on the kind alone: errors.Is(err, ErrUserRejected).
func (e *PaymentError) Is(target error) bool {
	t, ok := target.(*PaymentError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Client-side error codes
const (
	ErrCodeWalletUnavailable = "wallet_unavailable"
	ErrCodeUserRejected      = "user_rejected"
	ErrCodeWrongNetwork      = "wrong_network"
	ErrCodeTransferFailed    = "transfer_failed"
	ErrCodeInvalidAmount     = "invalid_amount"
)

// Server-side error codes
const (
	ErrCodeSecurityCheckFailed    = "security_check_failed"
	ErrCodeMissingData            = "missing_data"
	ErrCodeInvalidReference       = "invalid_reference"
	ErrCodeOrderNotFound          = "order_not_found"
	ErrCodeAlreadySettled         = "already_settled"
	ErrCodeSettlementStorageError = "settlement_storage_error"
)

// Kind sentinels for errors.Is matching. Only the code is compared.
var (
	ErrWalletUnavailable      = &PaymentError{Code: ErrCodeWalletUnavailable}
	ErrUserRejected           = &PaymentError{Code: ErrCodeUserRejected}
	ErrWrongNetwork           = &PaymentError{Code: ErrCodeWrongNetwork}
	ErrTransferFailed         = &PaymentError{Code: ErrCodeTransferFailed}
	ErrInvalidAmount          = &PaymentError{Code: ErrCodeInvalidAmount}
	ErrSecurityCheckFailed    = &PaymentError{Code: ErrCodeSecurityCheckFailed}
	ErrMissingData            = &PaymentError{Code: ErrCodeMissingData}
	ErrInvalidReference       = &PaymentError{Code: ErrCodeInvalidReference}
	ErrSettlementStorageError = &PaymentError{Code: ErrCodeSettlementStorageError}
)

// Store sentinels. Order stores return these (optionally wrapped) and the
// settler maps them onto the failure taxonomy.
var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrAlreadySettled = errors.New("order already settled")
	// ErrOrderChanged means an unpaid order was modified after it was read.
	// The caller may reload and retry.
	ErrOrderChanged = errors.New("order changed since read")
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WrapPaymentError creates a payment error carrying an underlying cause
func WrapPaymentError(code, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ErrorCode extracts the payment error code from err, or "" when err is not
// (and does not wrap) a PaymentError.
func ErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
