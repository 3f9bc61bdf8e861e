package models

import "errors"

// Error kinds shared by the ledger, the catalog and the persistence layer.
// Components wrap them with context; callers match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrForbidden         = errors.New("forbidden")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidOperation  = errors.New("invalid operation")
	// ErrBusy is returned when a lock could not be acquired in time.
	ErrBusy      = errors.New("busy")
	ErrIOFailure = errors.New("io failure")
	ErrIOCorrupt = errors.New("io corrupt")
)
