package store

import "errors"

// Sentinel errors for repository lookups, adapted from pkg/database/errors.go.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")
)
