package bus

import "errors"

var (
	ErrClosed       = errors.New("bus closed")
	ErrNoURL        = errors.New("nats url is empty")
	ErrNoStream     = errors.New("stream name is empty")
	ErrNilJetStream = errors.New("jetstream is nil")
)
