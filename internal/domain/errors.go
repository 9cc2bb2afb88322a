package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every error the ledger can surface to callers.
type ErrorKind string

const (
	KindInvalidInput          ErrorKind = "invalid_input"
	KindNotFound              ErrorKind = "not_found"
	KindInsufficientInventory ErrorKind = "insufficient_inventory"
	KindInsufficientFunds     ErrorKind = "insufficient_funds"
	KindInsufficientShares    ErrorKind = "insufficient_shares"
	KindStorageUnavailable    ErrorKind = "storage_unavailable"
	KindUnknown               ErrorKind = "unknown"
)

// Sentinel errors. All but ErrStorageUnavailable are business refusals that the
// caller can fix and resubmit; storage errors are retryable as-is.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("not found")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientShares    = errors.New("insufficient shares")
	ErrStorageUnavailable    = errors.New("storage unavailable")
)

// Refinements of ErrInvalidInput.
var (
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	ErrInvalidPrice    = fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	ErrInvalidAmount   = fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	ErrMissingUser     = fmt.Errorf("%w: user id is required", ErrInvalidInput)
	ErrMissingID       = fmt.Errorf("%w: instrument id is required", ErrInvalidInput)
)

// KindOf maps err to its ErrorKind. nil maps to the empty kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientInventory):
		return KindInsufficientInventory
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrInsufficientShares):
		return KindInsufficientShares
	default:
		return KindUnknown
	}
}

// StatusCode maps err to the HTTP status the API reports for it.
func StatusCode(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientInventory, KindInsufficientFunds, KindInsufficientShares:
		return http.StatusConflict
	case KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether resubmitting the same request unchanged may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// StorageError wraps a driver or I/O failure from one of the stores.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err, returning nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage unavailable: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes every StorageError match ErrStorageUnavailable.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}

// IntegrityError reports that a compensating action failed and the stores may
// disagree. It is surfaced as StorageUnavailable and must never be swallowed.
type IntegrityError struct {
	UserID       string
	InstrumentID string
	Step         string // compensation step that failed
	Cause        error  // failure that triggered compensation
	Err          error  // failure of the compensation itself
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity alert: compensation %q failed for user %s instrument %s: %v (triggered by: %v)",
		e.Step, e.UserID, e.InstrumentID, e.Err, e.Cause)
}

func (e *IntegrityError) Unwrap() []error { return []error{e.Err, e.Cause} }

// Is makes every IntegrityError match ErrStorageUnavailable regardless of the
// wrapped causes.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrStorageUnavailable
}
