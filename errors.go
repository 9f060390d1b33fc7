package reflux

import "errors"

var (
	// ErrPropertyConflict is returned when a key is already bound to a
	// different property instance.
	ErrPropertyConflict = errors.New("reflux: property key already registered")

	// ErrPropertyNotFound is returned when no property exists for a key.
	ErrPropertyNotFound = errors.New("reflux: property not found")

	// ErrTypeMismatch is returned when a value or handler does not match a
	// property's value type.
	ErrTypeMismatch = errors.New("reflux: value type mismatch")

	// ErrInvalidHandler is returned when a handler has an unsupported signature.
	ErrInvalidHandler = errors.New("reflux: invalid handler signature")

	// ErrInvalidBinding is returned when a binding spec cannot be satisfied.
	ErrInvalidBinding = errors.New("reflux: invalid binding")

	// ErrNotConvertible is returned when a converter cannot map a value.
	ErrNotConvertible = errors.New("reflux: value not convertible")

	// ErrUnsupportedField is returned when a tagged field cannot hold a property.
	ErrUnsupportedField = errors.New("reflux: unsupported field")

	// ErrNotPointer is returned when an owner is not a non-nil pointer to a struct.
	ErrNotPointer = errors.New("reflux: owner must be a non-nil pointer to struct")

	// ErrEmptyKey is returned when a property key is empty.
	ErrEmptyKey = errors.New("reflux: empty property key")

	// ErrClosed is returned when operating on a shut down component.
	ErrClosed = errors.New("reflux: closed")
)
