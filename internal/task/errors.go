package task

import "errors"

var (
	// ErrNotFound is returned when no task exists for the requested id.
	ErrNotFound = errors.New("task not found")

	// ErrInvalid is returned when client input fails validation.
	ErrInvalid = errors.New("invalid task")
)
