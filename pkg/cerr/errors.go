// Package cerr defines the domain error taxonomy shared by the conversation
// core. Transport layers map these to protocol responses; the core itself
// only wraps and returns them.
package cerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an unresolved chat, message or user id.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized marks a caller lacking the required role.
	ErrUnauthorized = errors.New("not authorized")
	// ErrConflict marks a duplicate participant add or a structural
	// invariant violation such as removing the last admin.
	ErrConflict = errors.New("conflict")
	// ErrValidation marks a missing or malformed required field.
	ErrValidation = errors.New("validation failed")
)

// NotFound wraps ErrNotFound with a formatted detail message.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Unauthorized wraps ErrUnauthorized with a formatted detail message.
func Unauthorized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

// Conflict wraps ErrConflict with a formatted detail message.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Validation wraps ErrValidation with a formatted detail message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
