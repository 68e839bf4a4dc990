package model

import (
	"errors"
	"fmt"
)

// Error taxonomy for the score pipeline. Only validation, auth and rate
// limiting failures are reported to callers as request failures; store
// unavailability asks the caller to retry. Cache and publish failures happen
// after the authoritative write and never fail a request.
var (
	ErrValidation         = errors.New("validation error")
	ErrAuth               = errors.New("auth error")
	ErrRateLimited        = errors.New("rate limited")
	ErrDuplicate          = errors.New("duplicate event")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrCacheUnavailable   = errors.New("cache unavailable")
	ErrPublishUnavailable = errors.New("publish unavailable")
)

var kinds = []error{ //nolint:gochecknoglobals // fixed lookup table
	ErrValidation,
	ErrAuth,
	ErrRateLimited,
	ErrDuplicate,
	ErrStoreUnavailable,
	ErrCacheUnavailable,
	ErrPublishUnavailable,
}

// Wrap returns an error matching both kind and cause with errors.Is.
func Wrap(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// Errorf formats a message and tags it with kind.
func Errorf(kind error, format string, args ...any) error {
	return Wrap(kind, fmt.Errorf(format, args...))
}

// KindOf returns the taxonomy sentinel err belongs to, or nil.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Reason returns a short label for err suitable for metrics.
func Reason(err error) string {
	switch KindOf(err) {
	case ErrValidation:
		return "validation"
	case ErrAuth:
		return "auth"
	case ErrRateLimited:
		return "rate_limited"
	case ErrDuplicate:
		return "duplicate"
	case ErrStoreUnavailable:
		return "store_unavailable"
	case ErrCacheUnavailable:
		return "cache_unavailable"
	case ErrPublishUnavailable:
		return "publish_unavailable"
	default:
		return "internal"
	}
}
