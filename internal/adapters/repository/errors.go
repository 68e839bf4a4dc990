package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound     = errors.New("user not found")
	ErrInvalidEvent = errors.New("invalid score event")
)
