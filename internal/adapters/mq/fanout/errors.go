package fanout

import "errors"

var (
	ErrNilBus     = errors.New("bus is nil")
	ErrNotStarted = errors.New("publisher not started")
)
