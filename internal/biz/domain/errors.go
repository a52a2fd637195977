package domain

import "errors"

var (
	// ErrNotFound means the requested record does not exist, or belongs to
	// another user and is deliberately indistinguishable from absent.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate means a record with the same natural key already exists.
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidState means the record is in a state the operation does not
	// apply to, e.g. resolving an already-resolved review item.
	ErrInvalidState = errors.New("invalid state for operation")
)
