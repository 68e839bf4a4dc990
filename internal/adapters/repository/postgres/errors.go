package postgres

import "errors"

var (
	// ErrNoDatabaseURL is returned by Open when no connection string is set.
	ErrNoDatabaseURL = errors.New("database url is empty")

	errPending = errors.New("action token in flight")
)
