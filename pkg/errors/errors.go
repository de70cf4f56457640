package errors

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrEmptyID     = errors.New("empty node id")
	ErrInvalidData = errors.New("invalid data type")
	ErrNodeExists  = errors.New("node already registered")
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("conflicting state")
)
