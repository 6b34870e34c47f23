package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure, with no infrastructure dependency.

var (
	// Account errors
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrInvalidCurrency = errors.New("invalid currency code")
	ErrInvalidMetadata = errors.New("metadata value is not a serializable kind")

	// Transfer errors are all pre-commit; a rejected transfer appends nothing
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrAmountTooLarge        = errors.New("amount exceeds maximum transaction limit")
	ErrSameAccount           = errors.New("source and destination accounts must differ")
	ErrCurrencyMismatch      = errors.New("transfer currency does not match account currency")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrConcurrencyConflict   = errors.New("balance version conflict after retries")
	ErrUnbalancedTransaction = errors.New("transaction events do not form a balanced pair")

	// Reconciliation errors
	ErrJobAlreadyRunning = errors.New("reconciliation job already running for source and date")
	ErrJobNotFound       = errors.New("reconciliation job not found")
	ErrMalformedRecord   = errors.New("malformed external record")
	ErrSourceUnavailable = errors.New("external record source unavailable")
	ErrUnknownSource     = errors.New("unknown external record source")
	ErrJobTimeout        = errors.New("reconciliation job exceeded its timeout")
)
