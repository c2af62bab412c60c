package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidStatus ErrorCode = "validation_invalid_status"
	ErrCodeValidationInvalidType   ErrorCode = "validation_invalid_type"
	ErrCodeValidationInvalidLimit  ErrorCode = "validation_invalid_limit"
	ErrCodeValidationInvalidEmail  ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidAction ErrorCode = "validation_invalid_action"
	ErrCodeValidationBadPayload    ErrorCode = "validation_malformed_payload"

	// Not Found (404)
	ErrCodeNotFoundRecipient    ErrorCode = "not_found_recipient"
	ErrCodeNotFoundLead         ErrorCode = "not_found_lead"
	ErrCodeNotFoundFollowUp     ErrorCode = "not_found_follow_up"
	ErrCodeNotFoundNotification ErrorCode = "not_found_notification"
	ErrCodeNotFoundBatch        ErrorCode = "not_found_batch"
	ErrCodeNotFoundBulkUpload   ErrorCode = "not_found_bulk_upload"
	ErrCodeNotFoundEmployee     ErrorCode = "not_found_employee"

	// Conflict (409)
	ErrCodeConflictStatusTransition ErrorCode = "conflict_invalid_status_transition"
	ErrCodeConflictDuplicateJob     ErrorCode = "conflict_duplicate_job"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalQueue      ErrorCode = "internal_queue_error"
	ErrCodeInternalCleanup    ErrorCode = "internal_cleanup_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamEmail       ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_service_unavailable"

	// Timeout (504). Timeout errors are logged and treated as non-retriable
	// by job handlers to avoid retry storms against a dead transport.
	ErrCodeTimeoutEmailSend     ErrorCode = "timeout_email_send"
	ErrCodeTimeoutEmailSchedule ErrorCode = "timeout_email_schedule"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "timeout_"):
		return http.StatusGatewayTimeout // 504
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from an error chain. Returns
// ErrCodeInternalUnexpected when the chain contains no AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// IsRetriable reports whether a job handler error should be handed back to
// the queue's retry policy. Validation and not-found errors are permanent:
// re-running the handler cannot fix a missing recipient or a malformed
// payload. Timeout errors are non-retriable (see ErrCode comments).
// Everything else, including plain non-AppError errors, is treated as a
// transient infrastructure failure.
func IsRetriable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	s := string(appErr.Code)
	switch {
	case strings.HasPrefix(s, "validation_"),
		strings.HasPrefix(s, "not_found_"),
		strings.HasPrefix(s, "conflict_"),
		strings.HasPrefix(s, "timeout_"):
		return false
	default:
		return true
	}
}
