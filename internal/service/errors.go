package service

import (
	"errors"
	"net/http"
)

var (
	ErrMalformedEvent     = errors.New("malformed event")
	ErrEventInFlight      = errors.New("event is already being processed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrClientNotFound     = errors.New("client not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrNoContract         = errors.New("no contract required for this order")
	ErrAlreadySigned      = errors.New("contract already signed")
	ErrAlreadyProvisioned = errors.New("order already provisioned")
	ErrOrderNotPayable    = errors.New("order is not awaiting payment")
	ErrInvalidInput       = errors.New("invalid input")

	errOrderAdvanced = errors.New("order already left PROCESSING")
)

// AppError carries the HTTP status a caller-facing failure maps to.
type AppError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given parameters
func NewAppError(err error, message string, statusCode int) *AppError {
	return &AppError{Err: err, Message: message, StatusCode: statusCode}
}

func unauthorized() error {
	return NewAppError(ErrUnauthorized, "authentication required", http.StatusUnauthorized)
}

func notFound(err error) error {
	return NewAppError(err, err.Error(), http.StatusNotFound)
}

func badRequest(err error, message string) error {
	if message == "" {
		message = err.Error()
	}
	return NewAppError(err, message, http.StatusBadRequest)
}

func conflict(err error) error {
	return NewAppError(err, err.Error(), http.StatusConflict)
}

// StatusCode maps an error to an HTTP status, defaulting to 500.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
