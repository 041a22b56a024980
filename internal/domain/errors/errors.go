package errors

import (
	"errors"
	"net/http"
)

// Domain errors
var (
	ErrNotFound           = errors.New("resource not found")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrConflict           = errors.New("conflict")
	ErrLockNotAvailable   = errors.New("row lock not available")
	ErrDuplicateRequestID = errors.New("request id already used")
	ErrPendingSession     = errors.New("pending session already exists")
	ErrPaymentRejected    = errors.New("payment rejected")
	ErrUpstream           = errors.New("upstream failure")
)

// AppError represents application error with HTTP status
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new app error
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func NotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, message, ErrNotFound)
}

func BadRequest(message string) *AppError {
	return NewAppError(http.StatusBadRequest, message, ErrInvalidInput)
}

func Unauthorized(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, message, ErrUnauthorized)
}

func TooManyRequests(message string) *AppError {
	return NewAppError(http.StatusTooManyRequests, message, ErrRateLimited)
}

func Conflict(message string) *AppError {
	return NewAppError(http.StatusConflict, message, ErrConflict)
}

// PaymentRequired marks an explicit payment failure: wrong coin type,
// amount mismatch, or token verification failure.
func PaymentRequired(message string) *AppError {
	return NewAppError(http.StatusPaymentRequired, message, ErrPaymentRejected)
}

func BadGateway(message string) *AppError {
	return NewAppError(http.StatusBadGateway, message, ErrUpstream)
}

func InternalError(err error) *AppError {
	return NewAppError(http.StatusInternalServerError, "internal server error", err)
}
