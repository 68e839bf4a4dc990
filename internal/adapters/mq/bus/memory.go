package bus

import (
	"context"
	"sync"
)

// Message is a published message as recorded by MemoryBus.
type Message struct {
	Subject string
	ID      string
	Data    []byte
}

// MemoryBus keeps published messages in process. It backs development runs
// and tests.
type MemoryBus struct {
	mu       sync.Mutex
	msgs     []Message
	seen     map[string]struct{}
	resync   []func()
	failWith error
	closed   bool
	notify   chan struct{}
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		seen:   make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Publish records the message. Messages with an id already seen are
// dropped silently, the way a deduplicating stream would.
func (b *MemoryBus) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.failWith != nil {
		return b.failWith
	}
	if msgID != "" {
		if _, dup := b.seen[msgID]; dup {
			return nil
		}
		b.seen[msgID] = struct{}{}
	}
	b.msgs = append(b.msgs, Message{Subject: subject, ID: msgID, Data: append([]byte(nil), data...)})

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// OnResync registers fn for resync requests.
func (b *MemoryBus) OnResync(fn func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.resync = append(b.resync, fn)
	return nil
}

// RequestResync invokes every registered resync handler.
func (b *MemoryBus) RequestResync() {
	b.mu.Lock()
	handlers := append([]func(){}, b.resync...)
	b.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// FailWith makes every following Publish return err. A nil err restores
// normal operation.
func (b *MemoryBus) FailWith(err error) {
	b.mu.Lock()
	b.failWith = err
	b.mu.Unlock()
}

// Messages returns the messages published on subject, oldest first. An
// empty subject returns all of them.
func (b *MemoryBus) Messages(subject string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, 0, len(b.msgs))
	for _, m := range b.msgs {
		if subject == "" || m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}

// Published is signalled after each stored message.
func (b *MemoryBus) Published() <-chan struct{} { return b.notify }

// Close stops the bus.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.resync = nil
	return nil
}
