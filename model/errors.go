package model

import "errors"

// Common model errors.
var (
	// ErrOperationNotFound is returned when a requested interface or
	// operation is absent on an actor.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrPluginNotFound is returned when an operation declares a plugin
	// that is not installed.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrInvalidTransition is returned for a status change the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)
