package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Pipeline errors
const (
	// ErrCodeComponentState indicates an enable/disable/configure call failed
	// at the native boundary. Fatal to the operation.
	ErrCodeComponentState ErrorCode = "COMPONENT_STATE"
	// ErrCodeFormatCommit indicates a port format was rejected even after the
	// rollback commit.
	ErrCodeFormatCommit ErrorCode = "FORMAT_COMMIT"
	// ErrCodeBufferProtocol indicates a broken buffer ownership invariant
	// (double release, send of a free buffer, resend after retirement).
	ErrCodeBufferProtocol ErrorCode = "BUFFER_PROTOCOL"
	// ErrCodeStarvation indicates a buffer pool was temporarily exhausted.
	// Never returned to callers, only reported through events.
	ErrCodeStarvation ErrorCode = "STARVATION"
	// ErrCodePipelineFailed aggregates failures observed while a capture was
	// running.
	ErrCodePipelineFailed ErrorCode = "PIPELINE_FAILED"
)

// Resource errors
const (
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeConflict indicates a conflict with the current state of the resource.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeUnavailable indicates the camera refuses work for now, for
	// example while its circuit breaker is open.
	ErrCodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeRateLimited indicates too many requests.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
)

// Validation errors
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Internal errors
const (
	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTimeout:     true,
	ErrCodeStarvation:  true,
	ErrCodeUnavailable: true,
	ErrCodeRateLimited: true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
