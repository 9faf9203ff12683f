package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrWalletUnavailable    = errors.New("wallet unavailable")
	ErrDuplicateEntry       = errors.New("duplicate entry")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidCredits       = errors.New("invalid credits")
	ErrInvalidEntryType     = errors.New("invalid entry type")
	ErrInvalidReason        = errors.New("invalid reason")
	ErrInvalidMetadataJSON  = errors.New("invalid metadata json")
	ErrInvalidPosting       = errors.New("invalid posting")
	ErrInvalidListLimit     = errors.New("invalid list limit")
	ErrInvalidServiceConfig = errors.New("invalid service config")
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

// ErrorCode extracts the code segment of the outermost OperationError, if any.
func ErrorCode(err error) string {
	var operationError OperationError
	if errors.As(err, &operationError) {
		return operationError.Code()
	}
	return ""
}
