package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Actions and events are append-only.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientFunds is returned when a transfer would overdraw a balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConflict is returned when a record changed since it was read.
	// Update retries the transition internally before surfacing it.
	ErrConflict = errors.New("concurrent modification")
)
