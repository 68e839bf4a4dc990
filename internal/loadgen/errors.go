package loadgen

import "errors"

var (
	// ErrUnhealthy is returned when the service health check fails.
	ErrUnhealthy = errors.New("service unhealthy")
	// ErrNoKey is returned when no signing key is configured.
	ErrNoKey = errors.New("signing key is required")
	// ErrVerification is returned when the leaderboard disagrees with the
	// submitted events.
	ErrVerification = errors.New("leaderboard verification failed")
	// ErrUnexpectedStatus is returned for a response the run cannot use.
	ErrUnexpectedStatus = errors.New("unexpected status")
)
