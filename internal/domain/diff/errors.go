package diff

import "errors"

var (
	// ErrVersionMismatch is returned when a diff does not start at the given snapshot.
	ErrVersionMismatch = errors.New("diff does not apply to this snapshot version")
	// ErrInconsistentDiff is returned when applying a diff leaves gaps or duplicates.
	ErrInconsistentDiff = errors.New("diff produces an inconsistent snapshot")
)
