package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest      = errors.New("bad request")
	ErrMissingIdentity = errors.New("missing caller identity")
	ErrMissingProof    = errors.New("missing proof of action")
	ErrLimitExceeded   = errors.New("limit exceeds maximum")
)
