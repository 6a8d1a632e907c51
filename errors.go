package basepay

import (
	"errors"
	"fmt"
)

// PaymentError carries a machine-readable code alongside a human message.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeConfig               = "config_error"
	ErrCodeReservationExhausted = "reservation_exhausted"
	ErrCodeSessionExpired       = "session_expired"
	ErrCodeExternalAPI          = "external_api_error"
	ErrCodeDuplicateSettlement  = "duplicate_settlement"
	ErrCodeOrderNotFound        = "order_not_found"
	ErrCodeAlreadySettled       = "already_settled"
	ErrCodeUnknownContent       = "unknown_content"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewConfigError reports a missing or invalid configuration value. It is
// fatal to the flow and surfaced to the caller immediately.
func NewConfigError(message string) *PaymentError {
	return NewPaymentError(ErrCodeConfig, message, nil)
}

var (
	// ErrAmountHeld is returned by Ledger.Create when another pending
	// order already holds the candidate reserved amount.
	ErrAmountHeld = errors.New("reserved amount held by another pending order")

	// ErrReservationExhausted means the allocator ran out of retry
	// attempts without finding a free amount. Callers should retry later.
	ErrReservationExhausted = errors.New("reservation space exhausted")

	// ErrSessionExpired means the session token is unknown or past its TTL.
	ErrSessionExpired = errors.New("session expired")

	// ErrDuplicateSettlement means the settlement reference already
	// belongs to a successful order.
	ErrDuplicateSettlement = errors.New("settlement reference already claimed")

	// ErrOrderNotFound means no order exists for the given id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrAlreadySettled means the order is no longer pending. Success is
	// terminal; the settlement mutation happens at most once.
	ErrAlreadySettled = errors.New("order already settled")

	// ErrUnknownContent means the catalog has no entry for the reference.
	ErrUnknownContent = errors.New("unknown content reference")
)
