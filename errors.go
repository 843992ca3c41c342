package remittance

import (
	"errors"
	"fmt"
)

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindResource      Kind = "resource"
	KindInternal      Kind = "internal"
)

// Error is a classified ledger error. The sentinels below are the only
// values; compare with errors.Is.
type Error struct {
	Code    string
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return "remittance: " + e.Message }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

// Sentinel errors for common failure scenarios.
var (
	// Validation errors
	ErrInvalidPaymentAmount = newError(KindValidation, "InvalidPaymentAmount", "invalid payment amount")
	ErrInvalidFeePercentage = newError(KindValidation, "InvalidFeePercentage", "invalid fee percentage")
	ErrDuplicatePaymentID   = newError(KindValidation, "DuplicatePaymentId", "duplicate payment id")
	ErrInvalidInput         = newError(KindValidation, "InvalidInput", "invalid input")

	// Authorization errors
	ErrUnauthorized = newError(KindAuthorization, "Unauthorized", "unauthorized")

	// State errors
	ErrAlreadyClaimed = newError(KindState, "AlreadyClaimed", "payment already claimed")
	ErrExpired        = newError(KindState, "Expired", "payment expired")
	ErrUnknownPayment = newError(KindState, "UnknownPayment", "unknown payment")
	ErrSystemPaused   = newError(KindState, "SystemPaused", "system is paused")
	ErrAlreadyPaused  = newError(KindState, "AlreadyPaused", "system already paused")
	ErrNotPaused      = newError(KindState, "NotPaused", "system is not paused")
	ErrLastOwner      = newError(KindState, "LastOwner", "cannot remove the last owner")
	ErrNotInitialized = newError(KindState, "NotInitialized", "ledger not initialized")
	ErrAlreadyStarted = newError(KindState, "AlreadyStarted", "ledger already started")
	ErrStateConflict  = newError(KindState, "StateConflict", "ledger state already exists")

	// Resource errors
	ErrInsufficientTreasuryBalance = newError(KindResource, "InsufficientTreasuryBalance", "insufficient treasury balance")
	ErrTransferFailed              = newError(KindResource, "TransferFailed", "transfer failed")

	// Store errors
	ErrStoreClosed       = newError(KindInternal, "StoreClosed", "store is closed")
	ErrTransactionFailed = newError(KindInternal, "TransactionFailed", "transaction failed")
	ErrMigrationFailed   = newError(KindInternal, "MigrationFailed", "migration failed")
)

// ValidationError carries the field that failed an input check. It matches
// ErrInvalidInput under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("remittance: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, msg string) error {
	return ValidationError{Field: field, Message: msg}
}

// transferError wraps a substrate failure so it matches both
// ErrTransferFailed and the cause.
type transferError struct {
	reference string
	cause     error
}

func (e *transferError) Error() string {
	return fmt.Sprintf("remittance: transfer %s failed: %v", e.reference, e.cause)
}

func (e *transferError) Unwrap() []error { return []error{ErrTransferFailed, e.cause} }

// KindOf classifies err. Unclassified errors are KindInternal; nil has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of a classified error, or "Internal".
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "Internal"
}

// IsValidation returns true if the error rejects the caller's input.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsAuthorization returns true if the caller lacks a required role.
func IsAuthorization(err error) bool { return KindOf(err) == KindAuthorization }

// IsNotFound returns true if the error reports a missing payment.
func IsNotFound(err error) bool { return errors.Is(err, ErrUnknownPayment) }

// IsRetryable returns true if the error is temporary and the operation can be
// retried unchanged. The ledger itself never retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransferFailed) ||
		errors.Is(err, ErrTransactionFailed)
}
