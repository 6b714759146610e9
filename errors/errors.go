package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is the unified error type used across mmalkit.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the status reported by the status API for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an *AppError with the same code, so that
// errors.Is(err, errors.BufferProtocol("")) matches any protocol violation.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "" if
// there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err's chain contains an AppError with code.
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &AppError{Code: code})
}

// --- Pipeline error constructors ---

// ComponentState creates an error for a failed native enable/disable/configure.
// target names the component or port ("camera.out[2]"), op the operation.
func ComponentState(target, op string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeComponentState, Message: fmt.Sprintf("Unable to %s %s.", op, target),
		HTTPStatus: http.StatusInternalServerError, Retryable: false,
		Details: map[string]any{"target": target, "operation": op}, Cause: cause,
	}
}

// FormatCommit creates an error for a port format that could not be
// committed even after rolling back to the previous format.
func FormatCommit(port string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeFormatCommit, Message: fmt.Sprintf("Unable to commit format on %s.", port),
		HTTPStatus: http.StatusUnprocessableEntity, Retryable: false,
		Details: map[string]any{"port": port}, Cause: cause,
	}
}

// BufferProtocol creates an error for a broken buffer ownership invariant.
// These are programming errors, never recoverable conditions.
func BufferProtocol(reason string) *AppError {
	return &AppError{
		Code: ErrCodeBufferProtocol, Message: reason,
		HTTPStatus: http.StatusInternalServerError, Retryable: false,
	}
}

// Starvation creates the non-fatal warning raised when a port's pool has no
// free buffer to resend.
func Starvation(port string) *AppError {
	return &AppError{
		Code: ErrCodeStarvation, Message: fmt.Sprintf("Buffer pool exhausted on %s.", port),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"port": port},
	}
}

// PipelineFailed aggregates the errors observed during a capture into one.
func PipelineFailed(errs ...error) *AppError {
	var nonNil []error
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err == nil {
			continue
		}
		nonNil = append(nonNil, err)
		msgs = append(msgs, err.Error())
	}
	return &AppError{
		Code: ErrCodePipelineFailed, Message: "Pipeline failed: " + strings.Join(msgs, "; "),
		HTTPStatus: http.StatusInternalServerError, Retryable: false,
		Details: map[string]any{"errors": len(nonNil)}, Cause: stderrors.Join(nonNil...),
	}
}

// --- Common error constructors ---

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		HTTPStatus: http.StatusNotFound, Retryable: false, Details: details,
	}
}

// Conflict creates a new AppError for an operation invalid in the current state.
func Conflict(reason string) *AppError {
	return &AppError{
		Code: ErrCodeConflict, Message: reason,
		HTTPStatus: http.StatusConflict, Retryable: false,
	}
}

// Timeout creates a new AppError for an operation that did not finish in time.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("%s did not complete in time.", operation),
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// Unavailable creates a retryable error for work refused by a guard such
// as a circuit breaker or a full bulkhead.
func Unavailable(reason string) *AppError {
	return &AppError{
		Code: ErrCodeUnavailable, Message: reason,
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
	}
}

// RateLimited creates the error returned when a rate limit is exceeded.
func RateLimited() *AppError {
	return &AppError{
		Code: ErrCodeRateLimited, Message: "Rate limit exceeded.",
		HTTPStatus: http.StatusTooManyRequests, Retryable: true,
	}
}

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false, Details: details,
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: message,
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// Internal creates a new AppError for an unexpected internal error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}

// ErrorResponse is the JSON body the status API sends for an AppError.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the public fields of an AppError.
type ErrorBody struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToResponse converts e to its API representation.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: ErrorBody{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		Details:   e.Details,
	}}
}

// IsRetryable reports whether err's chain holds a retryable AppError.
func IsRetryable(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Retryable
}
