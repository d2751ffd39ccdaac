package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when Put would overwrite an entity.
	ErrAlreadyExists = errors.New("entity already exists")
)
