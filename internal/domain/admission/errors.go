package admission

import (
	"errors"
)

// Rejection causes. Each is wrapped with a model taxonomy kind before it
// leaves the guard.
var (
	ErrMissingProof     = errors.New("proof of action missing")
	ErrUnknownKey       = errors.New("unknown proof key version")
	ErrProofTooLong     = errors.New("proof validity window too long")
	ErrSubjectMismatch  = errors.New("proof subject does not match caller")
	ErrProofMismatch    = errors.New("proof does not cover this action")
	ErrDeltaExceedsCap  = errors.New("delta exceeds proof cap")
	ErrUserRateLimited  = errors.New("user rate limit exceeded")
	ErrSourceRateLimit  = errors.New("source rate limit exceeded")
	ErrNoSigningKeys    = errors.New("no proof signing keys configured")
	ErrInvalidSignature = errors.New("invalid signing key")
)
