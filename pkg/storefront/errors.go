package storefront

import (
	"errors"
	"fmt"
)

// ErrValidation is the root of every input validation failure.
var ErrValidation = errors.New("validation failed")

// Validation error values; each one matches ErrValidation under errors.Is.
var (
	ErrInvalidRecordID        = fmt.Errorf("%w: invalid record id", ErrValidation)
	ErrInvalidTelegramID      = fmt.Errorf("%w: invalid telegram id", ErrValidation)
	ErrInvalidWalletAddress   = fmt.Errorf("%w: invalid wallet address", ErrValidation)
	ErrInvalidTransactionBlob = fmt.Errorf("%w: invalid transaction blob", ErrValidation)
	ErrInvalidAmount          = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidQuantity        = fmt.Errorf("%w: invalid quantity", ErrValidation)
	ErrInvalidPeriod          = fmt.Errorf("%w: invalid period", ErrValidation)
	ErrInvalidHandle          = fmt.Errorf("%w: invalid handle", ErrValidation)
	ErrInvalidCountry         = fmt.Errorf("%w: invalid country", ErrValidation)
	ErrInvalidStatus          = fmt.Errorf("%w: invalid status", ErrValidation)
	ErrInvalidJobKind         = fmt.Errorf("%w: invalid job kind", ErrValidation)
)

// Domain-level error values returned by the storefront service.
var (
	ErrItemUnavailable          = errors.New("item unavailable")
	ErrAlreadyOccupied          = errors.New("already occupied")
	ErrBroadcastFailed          = errors.New("broadcast failed")
	ErrDuplicateTransaction     = errors.New("duplicate transaction")
	ErrNotFound                 = errors.New("not found")
	ErrRecordSettled            = errors.New("record already settled")
	ErrLedgerTransactionClaimed = errors.New("ledger transaction already settled another record")
	ErrListingExists            = errors.New("listing already exists")
	ErrAdminExists              = errors.New("admin already exists")
	ErrRecordReferenced         = errors.New("record referenced")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
