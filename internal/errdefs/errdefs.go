// Package errdefs defines the error taxonomy shared by every layer of the
// encryption engine.
//
// InvalidArgument means the caller handed us something malformed (wrong
// length, unknown version tag, bad base64). DecryptionFailed means a
// well-formed ciphertext could not be authenticated or decoded: MAC
// failure, truncation, padding violation, header mismatch. Decryption
// fails closed: any ambiguity is a DecryptionFailed, never a partial
// plaintext.
package errdefs

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// InvalidArgumentError reports malformed caller input.
type InvalidArgumentError struct {
	Msg string
	Err error
}

// Error implements the error interface.
func (e *InvalidArgumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid argument: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("invalid argument: %s", e.Msg)
}

// Unwrap returns the wrapped cause, if any.
func (e *InvalidArgumentError) Unwrap() error { return e.Err }

// DecryptionFailedError reports an integrity or authenticity failure for a
// specific ciphertext. It carries the resource id, when known, so callers
// can log which resource could not be decrypted.
type DecryptionFailedError struct {
	Msg        string
	ResourceID []byte
	Err        error
}

// Error implements the error interface.
func (e *DecryptionFailedError) Error() string {
	msg := fmt.Sprintf("decryption failed: %s", e.Msg)
	if len(e.ResourceID) > 0 {
		msg += fmt.Sprintf(" (resource %s)", base64.StdEncoding.EncodeToString(e.ResourceID))
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the wrapped cause, if any.
func (e *DecryptionFailedError) Unwrap() error { return e.Err }

// InternalError signals a defect in the engine itself (an unreachable
// state was reached).
type InternalError struct {
	Msg string
}

// Error implements the error interface.
func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Msg)
}

// InvalidArgument builds an InvalidArgumentError with a formatted message.
func InvalidArgument(format string, args ...interface{}) error {
	return &InvalidArgumentError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidArgumentWrap wraps err as an InvalidArgumentError unless it is
// already a domain error, in which case it is returned unchanged.
func InvalidArgumentWrap(err error, msg string) error {
	if IsDomain(err) {
		return err
	}
	return &InvalidArgumentError{Msg: msg, Err: err}
}

// DecryptionFailed builds a DecryptionFailedError without a resource id.
func DecryptionFailed(format string, args ...interface{}) error {
	return &DecryptionFailedError{Msg: fmt.Sprintf(format, args...)}
}

// DecryptionFailedFor builds a DecryptionFailedError bound to a resource id.
func DecryptionFailedFor(resourceID []byte, msg string) error {
	return &DecryptionFailedError{Msg: msg, ResourceID: resourceID}
}

// DecryptionFailedWrap wraps a low-level error (typically an AEAD open
// failure) as a DecryptionFailedError with resource context. Domain errors
// pass through unchanged so they are never double-wrapped.
func DecryptionFailedWrap(err error, resourceID []byte, msg string) error {
	if IsDomain(err) {
		return err
	}
	return &DecryptionFailedError{Msg: msg, ResourceID: resourceID, Err: err}
}

// Internal builds an InternalError with a formatted message.
func Internal(format string, args ...interface{}) error {
	return &InternalError{Msg: fmt.Sprintf(format, args...)}
}

// IsInvalidArgument reports whether err is (or wraps) an InvalidArgumentError.
func IsInvalidArgument(err error) bool {
	var target *InvalidArgumentError
	return errors.As(err, &target)
}

// IsDecryptionFailed reports whether err is (or wraps) a DecryptionFailedError.
func IsDecryptionFailed(err error) bool {
	var target *DecryptionFailedError
	return errors.As(err, &target)
}

// IsDomain reports whether err already belongs to the engine's error
// taxonomy.
func IsDomain(err error) bool {
	if err == nil {
		return false
	}
	var internal *InternalError
	return IsInvalidArgument(err) || IsDecryptionFailed(err) || errors.As(err, &internal)
}
