package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal error")
	ErrValidation   = errors.New("validation error")

	// Prescription workflow errors
	ErrEligibility = errors.New("protocol not eligible for patient")
	ErrUnavailable = errors.New("collaborator unavailable")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
	// Reasons carries ordered human-readable explanations, e.g. the
	// rejection reasons from an eligibility check.
	Reasons []string `json:"reasons,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a forbidden error
func Forbidden(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Message:    message,
		Code:       "FORBIDDEN",
		HTTPStatus: http.StatusForbidden,
	}
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		Code:       "BAD_REQUEST",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    message,
		Code:       "CONFLICT",
		HTTPStatus: http.StatusConflict,
	}
}

// Validation creates a validation error with field details
func Validation(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// EligibilityRejected marks a protocol as unusable for this patient.
// Recoverable by selecting another protocol; the current selection stays.
func EligibilityRejected(protocolID string, reasons []string) *AppError {
	return &AppError{
		Err:        ErrEligibility,
		Message:    "protocol is not eligible for this patient",
		Code:       "ELIGIBILITY_REJECTED",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]string{"protocol_id": protocolID},
		Reasons:    reasons,
	}
}

// CreationFailed wraps a failed treatment submission. The workflow state is
// untouched so the clinician may retry without re-entering data.
func CreationFailed(serverMessage string) *AppError {
	msg := serverMessage
	if msg == "" {
		msg = "treatment could not be created, please try again"
	}
	return &AppError{
		Err:        ErrUnavailable,
		Message:    msg,
		Code:       "CREATION_FAILED",
		HTTPStatus: http.StatusBadGateway,
	}
}

// ReferenceUnavailable marks a reference-data fetch failure (medicines,
// protocols). The workflow stays usable with stale or empty lists.
func ReferenceUnavailable(source string, err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    fmt.Sprintf("%s reference data is temporarily unavailable", source),
		Code:       "REFERENCE_UNAVAILABLE",
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]string{"source": source},
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) *AppError {
	if appErr, ok := err.(*AppError); ok {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}
