package service

import "fmt"

// ServiceError represents a business logic error with a code
type ServiceError struct {
	Err     error
	Message string
	Code    string
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrCodeCardNotFound       = "card_not_found"
	ErrCodeCardInactive       = "card_inactive"
	ErrCodeInvalidAccount     = "invalid_account"
	ErrCodeInvalidAmount      = "invalid_amount"
	ErrCodeProcessing         = "processing"
	ErrCodeSimulationError    = "simulation_error"
	ErrCodeBadCollection      = "bad_collection"
	ErrCodeRefundExceedsSpend = "refund_exceeds_spend"
	ErrCodeReversalNotFound   = "reversal_not_found"
	ErrCodeBroadcastFailed    = "broadcast_failed"
	ErrCodeInternalError      = "internal_error"
)
