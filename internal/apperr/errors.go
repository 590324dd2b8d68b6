// Package apperr holds the error kinds shared by the ledger core.
//
// Concrete errors wrap one of the kinds with %w so callers classify them with
// errors.Is, e.g.
//
//	fmt.Errorf("%w: update balance: %w", apperr.ErrStorage, err)
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation rejects bad input before any side effect.
	ErrValidation = errors.New("validation error")
	// ErrNotFound reports an operation on a record that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStorage reports an I/O failure of the store. Never swallowed.
	ErrStorage = errors.New("storage error")
	// ErrConflict reports a uniqueness collision the caller has to resolve.
	ErrConflict = errors.New("conflict")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Storage wraps a store failure. A nil err returns nil. Errors that are
// already classified pass through unchanged.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Classified reports whether err already carries one of the kinds.
func Classified(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrConflict)
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsStorage(err error) bool    { return errors.Is(err, ErrStorage) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
