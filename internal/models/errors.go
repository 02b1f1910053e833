package models

import "errors"

// Domain errors that can be returned by repositories
var (
	// ErrNotFound indicates the requested entity was not found
	ErrNotFound = errors.New("not found")

	// ErrDuplicateOperation indicates an operation with the same
	// (card id, operation id) pair already exists
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrStaleOperation indicates a versioned append lost a concurrent
	// write race; the caller should re-read and retry once
	ErrStaleOperation = errors.New("stale operation version")
)
