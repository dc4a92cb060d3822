package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/Azure/go-amqp"
)

// ErrorCode represents a typed error code.
type ErrorCode string

const (
	// ErrorCodeInternal represents an unexpected client-side failure.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrorCodeNotFound represents a missing entity, checkpoint or lock token.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeUnauthorized represents a rejected or malformed CBS negotiation.
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrorCodeValidation represents invalid caller input.
	ErrorCodeValidation ErrorCode = "VALIDATION_ERROR"
	// ErrorCodeInvalidOperation represents a call that is not valid in the current state.
	ErrorCodeInvalidOperation ErrorCode = "INVALID_OPERATION"
	// ErrorCodeClosed represents use of a closed factory, sender or receiver.
	ErrorCodeClosed ErrorCode = "CLOSED"
	// ErrorCodeTimeout represents a timeout error.
	ErrorCodeTimeout ErrorCode = "TIMEOUT"
	// ErrorCodeServiceUnavailable represents a transport-level failure.
	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

var (
	// ErrNilMessage is returned when a message wrapper is built from a nil wire message.
	ErrNilMessage = NewValidationError("wire message must not be nil")
	// ErrNoReceiver is returned when settling a message that is not held under a peek-lock.
	ErrNoReceiver = NewAppError(ErrorCodeInvalidOperation, "message is not associated with a peek-lock receiver")
	// ErrClosed is returned by operations on a closed client entity.
	ErrClosed = NewAppError(ErrorCodeClosed, "client entity is closed")
)

// AppError represents a client error with code, message, and AMQP condition.
type AppError struct {
	Code      ErrorCode
	Message   string
	Condition amqp.ErrCond
	Err       error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError by code so sentinels work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// NewAppError creates a new client error.
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Condition: ToCondition(code),
	}
}

// NewAppErrorWithErr creates a new client error with an underlying error.
func NewAppErrorWithErr(code ErrorCode, message string, err error) *AppError {
	appErr := NewAppError(code, message)
	appErr.Err = err
	return appErr
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// ToCondition maps an error code to the closest AMQP error condition.
func ToCondition(code ErrorCode) amqp.ErrCond {
	switch code {
	case ErrorCodeUnauthorized:
		return amqp.ErrCondUnauthorizedAccess
	case ErrorCodeNotFound:
		return amqp.ErrCondNotFound
	case ErrorCodeValidation:
		return amqp.ErrCondInvalidField
	case ErrorCodeInvalidOperation, ErrorCodeClosed:
		return amqp.ErrCondIllegalState
	case ErrorCodeTimeout, ErrorCodeServiceUnavailable:
		return amqp.ErrCondResourceLimitExceeded
	default:
		return amqp.ErrCondInternalError
	}
}

// FromError converts a standard error to an AppError.
// AppErrors are returned as-is. Transport errors keep their AMQP condition
// and remain reachable through errors.As.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return NewAppErrorWithErr(ErrorCodeTimeout, "operation timed out or was cancelled", err)
	}

	var amqpErr *amqp.Error
	if stderrors.As(err, &amqpErr) {
		code := ErrorCodeServiceUnavailable
		switch amqpErr.Condition {
		case amqp.ErrCondUnauthorizedAccess:
			code = ErrorCodeUnauthorized
		case amqp.ErrCondNotFound:
			code = ErrorCodeNotFound
		}
		return &AppError{Code: code, Message: amqpErr.Description, Condition: amqpErr.Condition, Err: err}
	}

	var connErr *amqp.ConnError
	var sessionErr *amqp.SessionError
	var linkErr *amqp.LinkError
	if stderrors.As(err, &connErr) || stderrors.As(err, &sessionErr) || stderrors.As(err, &linkErr) {
		return NewAppErrorWithErr(ErrorCodeServiceUnavailable, "transport failure", err)
	}

	return NewAppErrorWithErr(ErrorCodeInternal, "an internal error occurred", err)
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Common error constructors

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrorCodeUnauthorized, message)
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *AppError {
	return NewAppError(ErrorCodeNotFound, message)
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorCodeValidation, message)
}

// NewInternalError creates an internal error.
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternal, message)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string) *AppError {
	return NewAppError(ErrorCodeTimeout, message)
}
