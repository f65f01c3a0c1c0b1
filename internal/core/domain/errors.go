// Package domain defines the core domain models for ksefbridge.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DomainError represents a business domain error with a structured error code.
// Codes follow the KB-<AREA>-<NNNN> format; the numeric part mirrors the
// closest HTTP status so the inbound API can map it mechanically.
type DomainError struct {
	Code    string // Error code (e.g., "KB-SESS-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
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

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
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

// IsRetryable reports whether err belongs to a class the governor may retry:
// rate limiting and transport failures.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransport)
}

// ============================================================================
// Validation Errors (VAL)
// ============================================================================

var (
	// ErrValidationFailed indicates the document failed structural or business validation.
	ErrValidationFailed = NewDomainError("KB-VAL-4001", "document validation failed")

	// ErrPayloadEncoding indicates the payload is not BOM-less UTF-8.
	ErrPayloadEncoding = NewDomainError("KB-VAL-4002", "invalid payload encoding")

	// ErrPayloadTooLarge indicates the payload exceeds the Exchange size cap.
	ErrPayloadTooLarge = NewDomainError("KB-VAL-4130", "payload too large")
)

// ============================================================================
// Authentication Errors (AUTH)
// ============================================================================

var (
	// ErrAuthenticationFailed indicates the Exchange rejected the credential or challenge.
	ErrAuthenticationFailed = NewDomainError("KB-AUTH-4010", "authentication failed")

	// ErrUnauthenticated indicates no valid access token is available.
	ErrUnauthenticated = NewDomainError("KB-AUTH-4011", "not authenticated")

	// ErrAuthTimeout indicates the authentication status never became terminal.
	ErrAuthTimeout = NewDomainError("KB-AUTH-4080", "authentication status polling timed out")
)

// ============================================================================
// Duplicate Errors (DUP)
// ============================================================================

var (
	// ErrDuplicateSubmission indicates the document was already submitted.
	ErrDuplicateSubmission = NewDomainError("KB-DUP-4090", "duplicate submission")

	// ErrSubmissionConflict indicates the store rejected a record for an existing key.
	ErrSubmissionConflict = NewDomainError("KB-DUP-4091", "submission record conflict")
)

// ============================================================================
// Network Errors (NET)
// ============================================================================

var (
	// ErrRemoteRejected indicates a non-retryable 4xx response.
	ErrRemoteRejected = NewDomainError("KB-NET-4000", "request rejected by exchange")

	// ErrRateLimited indicates the Exchange answered 429.
	ErrRateLimited = NewDomainError("KB-NET-4290", "rate limited by exchange")

	// ErrTransport indicates a network failure, timeout or 5xx response.
	ErrTransport = NewDomainError("KB-NET-5030", "exchange transport failure")
)

// ============================================================================
// Protocol Errors (PROTO)
// ============================================================================

var (
	// ErrProtocol indicates an unexpected status code or response.
	ErrProtocol = NewDomainError("KB-PROTO-5020", "exchange protocol error")

	// ErrUnexpectedResponse indicates a response body shape that could not be decoded.
	ErrUnexpectedResponse = NewDomainError("KB-PROTO-5021", "unexpected exchange response")
)

// ============================================================================
// Session Errors (SESS)
// ============================================================================

var (
	// ErrNoActiveSession indicates an operation requiring an open session.
	ErrNoActiveSession = NewDomainError("KB-SESS-4040", "no active session")

	// ErrPollTimeout indicates session status polling exhausted its attempts.
	ErrPollTimeout = NewDomainError("KB-SESS-4080", "session status polling timed out")

	// ErrProcessingFailed indicates the Exchange finished the session with an error status.
	ErrProcessingFailed = NewDomainError("KB-SESS-4220", "session processing failed")
)

// ============================================================================
// Crypto Errors (CRYPT)
// ============================================================================

var (
	// ErrCertificateParse indicates a malformed Exchange certificate.
	ErrCertificateParse = NewDomainError("KB-CRYPT-4001", "certificate parse error")

	// ErrDecryption indicates ciphertext could not be decrypted.
	ErrDecryption = NewDomainError("KB-CRYPT-4002", "decryption failed")

	// ErrKeyWrap indicates the symmetric key could not be wrapped.
	ErrKeyWrap = NewDomainError("KB-CRYPT-5001", "key wrap failed")
)

// ============================================================================
// Tenant and Sync Errors (TEN, SYNC)
// ============================================================================

var (
	// ErrTenantNotFound indicates the tenant does not exist.
	ErrTenantNotFound = NewDomainError("KB-TEN-4040", "tenant not found")

	// ErrTenantConflict indicates the tenant ID already exists.
	ErrTenantConflict = NewDomainError("KB-TEN-4090", "tenant id conflict")

	// ErrSyncInProgress indicates another sync run is still active.
	ErrSyncInProgress = NewDomainError("KB-SYNC-4090", "sync run already in progress")
)

// ============================================================================
// System and Argument Errors (SYS, ARG)
// ============================================================================

var (
	// ErrInternal indicates an internal error.
	ErrInternal = NewDomainError("KB-SYS-5000", "internal error")

	// ErrStorageError indicates a storage layer error.
	ErrStorageError = NewDomainError("KB-SYS-5001", "storage error")

	// ErrNotFound indicates a missing stored record.
	ErrNotFound = NewDomainError("KB-SYS-4040", "record not found")

	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("KB-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("KB-ARG-1002", "missing required argument")
)

// Violation is a single field-level validation finding.
type Violation struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationFailure carries every violation found for a document.
type ValidationFailure struct {
	Errors   []Violation
	Warnings []Violation
}

// Error implements the error interface.
func (f *ValidationFailure) Error() string {
	codes := make([]string, 0, len(f.Errors))
	for _, v := range f.Errors {
		codes = append(codes, v.Code)
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed.Error(), strings.Join(codes, ", "))
}

// Unwrap lets errors.Is(err, ErrValidationFailed) match.
func (f *ValidationFailure) Unwrap() error {
	return ErrValidationFailed
}

// DuplicateFailure reports a document that was already accepted by the Exchange.
type DuplicateFailure struct {
	Key               SubmissionKey
	ExistingReference string
}

// Error implements the error interface.
func (f *DuplicateFailure) Error() string {
	if f.ExistingReference == "" {
		return fmt.Sprintf("%s: %s", ErrDuplicateSubmission.Error(), f.Key)
	}
	return fmt.Sprintf("%s: %s (reference %s)", ErrDuplicateSubmission.Error(), f.Key, f.ExistingReference)
}

// Unwrap lets errors.Is(err, ErrDuplicateSubmission) match.
func (f *DuplicateFailure) Unwrap() error {
	return ErrDuplicateSubmission
}
