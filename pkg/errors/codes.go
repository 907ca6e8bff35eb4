package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes shared by all modules.
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_003"
	ErrCodeConflict           ErrorCode = "COMMON_004"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_005"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_006"
	ErrCodeTimeout            ErrorCode = "COMMON_007"
	ErrCodeValidation         ErrorCode = "COMMON_008"
	ErrCodeSerialization      ErrorCode = "COMMON_009"
	ErrCodeDatabaseError      ErrorCode = "COMMON_010"
	ErrCodeCacheError         ErrorCode = "COMMON_011"
	ErrCodeMessagingError     ErrorCode = "COMMON_012"
	ErrCodeUnknown            ErrorCode = "COMMON_099"

	// CodeOK is the sentinel returned by GetCode for a nil error.
	CodeOK ErrorCode = "OK"
)

// Experiment module error codes (tests, variants, assignment).
const (
	ErrCodeTestNotFound       ErrorCode = "EXP_001"
	ErrCodeTestNotActive      ErrorCode = "EXP_002"
	ErrCodeTestAlreadyExists  ErrorCode = "EXP_003"
	ErrCodeVariantNotFound    ErrorCode = "EXP_004"
	ErrCodeVariantImmutable   ErrorCode = "EXP_005"
	ErrCodeAssignmentNotFound ErrorCode = "EXP_006"
	// ErrCodeAssignmentConflict marks the first-assignment race.  It is
	// resolved internally by adopting the persisted winner of the race and
	// must never surface to callers of GetVariant.
	ErrCodeAssignmentConflict ErrorCode = "EXP_007"
	ErrCodeTestCompleted      ErrorCode = "EXP_008"
)

// Tracking module error codes (performance events, aggregates).
const (
	ErrCodeEventTypeInvalid     ErrorCode = "TRK_001"
	ErrCodeEventMetadataInvalid ErrorCode = "TRK_002"
	ErrCodeResultsUnavailable   ErrorCode = "TRK_003"
)

// Dispatch module error codes (queue, rate windows, delivery).
const (
	ErrCodeQueueItemNotFound   ErrorCode = "DSP_001"
	ErrCodeQueueItemInvalid    ErrorCode = "DSP_002"
	ErrCodeQueueNotInitialized ErrorCode = "DSP_003"
	ErrCodeQueueShuttingDown   ErrorCode = "DSP_004"
	// ErrCodeSendTransient classifies network/5xx-class delivery failures
	// that are retried with exponential backoff.
	ErrCodeSendTransient ErrorCode = "DSP_005"
	// ErrCodeSendPermanent classifies terminal delivery failures (invalid
	// recipient, blocked account, rejected content) that are never retried.
	ErrCodeSendPermanent   ErrorCode = "DSP_006"
	ErrCodeRateWindowError ErrorCode = "DSP_007"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes for the REST layer.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeMessagingError:     http.StatusInternalServerError,

	ErrCodeTestNotFound:        http.StatusNotFound,
	ErrCodeTestNotActive:       http.StatusConflict,
	ErrCodeTestAlreadyExists:   http.StatusConflict,
	ErrCodeVariantNotFound:     http.StatusNotFound,
	ErrCodeVariantImmutable:    http.StatusConflict,
	ErrCodeAssignmentNotFound:  http.StatusNotFound,
	ErrCodeAssignmentConflict:  http.StatusConflict,
	ErrCodeTestCompleted:       http.StatusConflict,

	ErrCodeEventTypeInvalid:     http.StatusBadRequest,
	ErrCodeEventMetadataInvalid: http.StatusBadRequest,
	ErrCodeResultsUnavailable:   http.StatusServiceUnavailable,

	ErrCodeQueueItemNotFound:   http.StatusNotFound,
	ErrCodeQueueItemInvalid:    http.StatusUnprocessableEntity,
	ErrCodeQueueNotInitialized: http.StatusServiceUnavailable,
	ErrCodeQueueShuttingDown:   http.StatusServiceUnavailable,
	ErrCodeSendTransient:       http.StatusBadGateway,
	ErrCodeSendPermanent:       http.StatusBadGateway,
	ErrCodeRateWindowError:     http.StatusInternalServerError,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeMessagingError:     "message broker error",
	ErrCodeUnknown:            "unknown error",

	ErrCodeTestNotFound:       "test not found",
	ErrCodeTestNotActive:      "test is not active",
	ErrCodeTestAlreadyExists:  "test already exists",
	ErrCodeVariantNotFound:    "variant not found",
	ErrCodeVariantImmutable:   "variants of an active test cannot change",
	ErrCodeAssignmentNotFound: "assignment not found",
	ErrCodeAssignmentConflict: "assignment already exists for contact",
	ErrCodeTestCompleted:      "test already completed",

	ErrCodeEventTypeInvalid:     "invalid performance event type",
	ErrCodeEventMetadataInvalid: "invalid performance event metadata",
	ErrCodeResultsUnavailable:   "results temporarily unavailable",

	ErrCodeQueueItemNotFound:   "queue item not found",
	ErrCodeQueueItemInvalid:    "invalid queue item",
	ErrCodeQueueNotInitialized: "dispatch queue not initialized",
	ErrCodeQueueShuttingDown:   "dispatch queue shutting down",
	ErrCodeSendTransient:       "transient send failure",
	ErrCodeSendPermanent:       "permanent send failure",
	ErrCodeRateWindowError:     "rate window error",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode ("EXP", "TRK", "DSP",
// or "COMMON").
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
