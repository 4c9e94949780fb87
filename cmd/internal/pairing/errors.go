package pairing

import "errors"

var (
	// ErrNotFound is returned when no ticket matches the given id or code.
	ErrNotFound = errors.New("ticket not found")

	// ErrExpired is returned when the ticket's TTL has elapsed.
	ErrExpired = errors.New("ticket expired")

	// ErrAlreadyConfirmed is returned when the ticket has already been
	// confirmed; codes are single-use.
	ErrAlreadyConfirmed = errors.New("ticket already confirmed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
