package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks operations that target an absent record.
	ErrNotFound = errors.New("record not found")
	// ErrValidation marks input that violates record constraints.
	ErrValidation = errors.New("validation failed")
	// ErrInternal marks failures of the storage mechanism itself.
	ErrInternal = errors.New("internal storage failure")
	// ErrSerialization marks records that could not be encoded or decoded.
	ErrSerialization = errors.New("serialization failure")
	// ErrConflict marks a create whose identifier is already in use.
	ErrConflict = errors.New("record already exists")
)

// NotFoundError reports the identifier that could not be resolved.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record %q not found", e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError describes a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InternalError wraps a storage failure with the operation that hit it.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("internal storage failure: %v", e.Err)
	}
	return fmt.Sprintf("internal storage failure: %s: %v", e.Op, e.Err)
}

// Is matches ErrInternal.
func (e *InternalError) Is(target error) bool { return target == ErrInternal }

// Unwrap exposes the underlying cause.
func (e *InternalError) Unwrap() error { return e.Err }

// SerializationError wraps an encode or decode failure for one record.
type SerializationError struct {
	ID  string
	Err error
}

func (e *SerializationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("serialization failure: %v", e.Err)
	}
	return fmt.Sprintf("serialization failure for record %q: %v", e.ID, e.Err)
}

// Is matches ErrSerialization.
func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// Unwrap exposes the underlying cause.
func (e *SerializationError) Unwrap() error { return e.Err }

// ConflictError reports an identifier that is already taken.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record %q already exists", e.ID)
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IsNotFound reports whether err is a NotFound failure.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is a Validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsInternal reports whether err is an Internal failure.
func IsInternal(err error) bool { return errors.Is(err, ErrInternal) }

// IsSerialization reports whether err is a Serialization failure.
func IsSerialization(err error) bool { return errors.Is(err, ErrSerialization) }

// IsConflict reports whether err is a Conflict failure.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// Internal wraps err as an *InternalError unless it already carries a
// taxonomy kind, in which case it is returned unchanged.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsValidation(err) || IsInternal(err) || IsSerialization(err) || IsConflict(err) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}
