package repository

import "errors"

var (
	// ErrNotFound indicates a lookup for a handle the store never saw.
	ErrNotFound = errors.New("entity not found")
	// ErrDuplicateHandle indicates a second write for an already-stored handle.
	ErrDuplicateHandle = errors.New("duplicate entity handle")
)
