// Package packet implements the WIP binary wire format: the 128-bit
// common header, the fixed forecast block carried by response and report
// packets, the TLV variable extension area, the 12-bit one's-complement
// checksum and the per-packet MD5 authentication hash.
package packet

import "fmt"

// BitFieldError is the single error kind surfaced by the codec.
// Every construction, serialization and parse failure is reported as one,
// with a human-readable message; codec failures are never swallowed.
type BitFieldError struct {
	// Msg describes what went wrong
	Msg string

	// Err wraps an underlying error if applicable
	Err error
}

// Error implements the error interface.
func (e *BitFieldError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("packet: %s: %v", e.Msg, e.Err)
	}

	return fmt.Sprintf("packet: %s", e.Msg)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *BitFieldError) Unwrap() error {
	return e.Err
}

// errorf builds a BitFieldError with a formatted message.
func errorf(format string, args ...any) *BitFieldError {
	return &BitFieldError{Msg: fmt.Sprintf(format, args...)}
}

// wrapf builds a BitFieldError around an underlying error.
func wrapf(err error, format string, args ...any) *BitFieldError {
	return &BitFieldError{Msg: fmt.Sprintf(format, args...), Err: err}
}
