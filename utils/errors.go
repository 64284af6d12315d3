package utils

import "errors"

// Engine errors. Services wrap these with context using fmt.Errorf("...: %w", err)
// so callers can match them with errors.Is.
var (
	ErrInvalidReading    = errors.New("invalid_reading")
	ErrUnknownPlan       = errors.New("unknown_plan")
	ErrTrialAlreadyUsed  = errors.New("trial_already_used")
	ErrStaleQuote        = errors.New("stale_quote")
	ErrAlreadySettled    = errors.New("already_settled")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrMissingReason     = errors.New("missing_reason")
	ErrGatewayTimeout    = errors.New("gateway_timeout")

	ErrNotFound         = errors.New("not_found")
	ErrRatesNotFound    = errors.New("rates_not_found")
	ErrInvoiceFinalized = errors.New("invoice_finalized")
	ErrInvalidEnum      = errors.New("invalid_enum")
	ErrInvalidInput     = errors.New("invalid_input")
	ErrGatewayFailure   = errors.New("gateway_failure")
)
