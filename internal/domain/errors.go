package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	// ErrInvalidTransition is returned when an operator action is not allowed
	// from the current lifecycle state, e.g. resuming a canceled blast.
	ErrInvalidTransition = errors.New("invalid state transition")
)
