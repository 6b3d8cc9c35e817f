package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// Codes read MDM-<AREA>-<NNNN>; the last four digits carry the HTTP status
// family (4040 -> 404, 5020 -> 502).
type DomainError struct {
	Code    string // Error code (e.g., "MDM-PART-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true // Only check if it's a DomainError
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Partition Errors (PART)
// ============================================================================

var (
	// ErrPartitionNotFound indicates no partition was ever built for the key.
	ErrPartitionNotFound = NewDomainError("MDM-PART-4040", "partition not found")

	// ErrBranchNotFound indicates the suffix does not name a known branch.
	ErrBranchNotFound = NewDomainError("MDM-PART-4041", "branch not found")

	// ErrRebuildThrottled indicates a rebuild of the same partition was
	// requested too often.
	ErrRebuildThrottled = NewDomainError("MDM-PART-4290", "rebuild throttled, please retry")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidPartitionKey indicates a malformed zone or suffix.
	ErrInvalidPartitionKey = NewDomainError("MDM-ARG-4001", "invalid partition key")

	// ErrUnknownClass indicates the class is not registered.
	ErrUnknownClass = NewDomainError("MDM-ARG-4002", "unknown data class")

	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("MDM-ARG-4003", "invalid argument")
)

// ============================================================================
// Record Errors (REC)
// ============================================================================

var (
	// ErrRecordRejected indicates a record could not be filtered or exported.
	// It aborts the affected class only.
	ErrRecordRejected = NewDomainError("MDM-REC-4220", "record rejected")

	// ErrRecordNotFound indicates no stored record has the reference.
	ErrRecordNotFound = NewDomainError("MDM-REC-4040", "record not found")
)

// ============================================================================
// Authentication Errors (AUTH)
// ============================================================================

var (
	// ErrAuthRequired indicates branch data was requested without credentials
	// while the access policy is enforced.
	ErrAuthRequired = NewDomainError("MDM-AUTH-4010", "authentication required")

	// ErrAdminRequired indicates the principal may not use admin routes.
	ErrAdminRequired = NewDomainError("MDM-AUTH-4030", "admin access required")

	// ErrNetworkDenied indicates the client address is not allowed.
	ErrNetworkDenied = NewDomainError("MDM-AUTH-4031", "client address not allowed")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("MDM-SYS-5000", "internal server error")

	// ErrIOFailure indicates a filesystem read or write failed.
	ErrIOFailure = NewDomainError("MDM-SYS-5001", "cache io failure")

	// ErrNotReady indicates the server cannot take traffic yet.
	ErrNotReady = NewDomainError("MDM-SYS-5030", "service not ready")

	// ErrUpstreamFailure indicates a record source or secondary collection failed.
	ErrUpstreamFailure = NewDomainError("MDM-UPS-5020", "upstream source failure")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("MDM-SYS-4000", "bad request")

	// ErrPayloadTooLarge indicates a request body over the configured limit.
	ErrPayloadTooLarge = NewDomainError("MDM-SYS-4130", "request body too large")

	// ErrTooManyRequests indicates the client exceeded the request rate.
	ErrTooManyRequests = NewDomainError("MDM-SYS-4290", "too many requests")
)
