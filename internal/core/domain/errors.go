// Package domain contains the core entities of the weather information
// protocol: forecast documents, sensor reports and the wire-level error
// taxonomy. It is independent of transport and storage concerns.
package domain

import "fmt"

// ErrorCode is a 3-digit status string. Codes travel inside type-7
// packets, so they are strings end to end and survive wire transport.
type ErrorCode string

const (
	// CodeBadRequest marks a malformed packet or validation failure
	CodeBadRequest ErrorCode = "400"

	// CodeAuthFailed marks a missing or mismatched auth hash
	CodeAuthFailed ErrorCode = "401"

	// CodeAreaUnresolved marks a missing or invalid area code / coordinates
	CodeAreaUnresolved ErrorCode = "402"

	// CodeVersionMismatch marks a protocol version disagreement
	CodeVersionMismatch ErrorCode = "403"

	// CodeUnsupportedType marks a packet type this endpoint does not serve
	CodeUnsupportedType ErrorCode = "405"

	// CodeVersionRejected is the version-mismatch code used on rejects
	CodeVersionRejected ErrorCode = "406"

	// CodeReportTooLarge marks a report datagram above the size cap
	CodeReportTooLarge ErrorCode = "413"

	// CodeServerUnreachable is raised client-side when a send fails
	CodeServerUnreachable ErrorCode = "420"

	// CodeServerTimeout is raised client-side when no response arrives
	CodeServerTimeout ErrorCode = "421"

	// CodeSensorOutOfRange marks sensor readings outside physical bounds
	CodeSensorOutOfRange ErrorCode = "422"

	// CodeInternal marks a server-local failure the client may retry
	CodeInternal ErrorCode = "520"
)

// ProtocolError is the structured failure surfaced to callers and
// converted to type-7 packets by servers. Timeout distinguishes a
// deadline expiry from other failures without string matching.
type ProtocolError struct {
	// Code identifies the failure class for wire transport
	Code ErrorCode

	// Message is a human-readable description
	Message string

	// Cause wraps an underlying error if applicable
	Cause error

	// Timeout is set when the failure was a deadline expiry
	Timeout bool
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// NewProtocolError builds a ProtocolError with a formatted message.
func NewProtocolError(code ErrorCode, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapProtocolError builds a ProtocolError around an underlying cause.
func WrapProtocolError(code ErrorCode, cause error, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}
