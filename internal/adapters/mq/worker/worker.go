// Package worker runs handlers over items read from a queue.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/topkboard/pkg/logger"
	"github.com/okian/topkboard/pkg/metrics"
)

// Default worker configuration constants.
const (
	poolShutdownTimeout = 30 * time.Second
)

// Handler processes one item.
type Handler[T any] interface {
	Handle(ctx context.Context, item T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, item T) error

// Handle calls f.
func (f HandlerFunc[T]) Handle(ctx context.Context, item T) error { return f(ctx, item) }

// Queue defines how workers receive items.
type Queue[T any] interface {
	Dequeue(ctx context.Context) <-chan T
}

// Worker processes items until its queue closes or it is stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker by handling items one at a time, in the
// order the queue delivers them.
type InMemoryWorker[T any] struct {
	queue   Queue[T]
	handler Handler[T]
	name    string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker[T any](queue Queue[T], handler Handler[T], opts ...Option) *InMemoryWorker[T] {
	o := options{name: "worker"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Named(o.name)
	}

	return &InMemoryWorker[T]{
		queue:    queue,
		handler:  handler,
		name:     o.name,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   o.logger,
	}
}

// Run starts the worker loop.
func (w *InMemoryWorker[T]) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			w.process(ctx, item)
		}
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker[T]) Done() <-chan struct{} { return w.done }

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker[T]) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker[T]) process(ctx context.Context, item T) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := w.handler.Handle(ctx, item); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "handler_error")
		w.logger.Error(ctx, "error processing item", logger.Error(err))
	}
}

// Pool manages multiple workers sharing one queue. A pool of one worker
// preserves queue order end to end.
type Pool[T any] struct {
	workers []*InMemoryWorker[T]
	queue   Queue[T]

	logger logger.Logger
}

// NewPool creates a new worker pool.
func NewPool[T any](workerCount int, queue Queue[T], handler Handler[T], opts ...Option) *Pool[T] {
	if workerCount < 1 {
		workerCount = 1
	}
	o := options{name: "worker-pool"}
	for _, opt := range opts {
		opt(&o)
	}

	pool := &Pool[T]{
		workers: make([]*InMemoryWorker[T], workerCount),
		queue:   queue,
		logger:  logger.Named(o.name),
	}
	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(queue, handler, WithName(o.name+"-"+strconv.Itoa(i)))
	}

	metrics.UpdateWorkerActiveCount(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool[T]) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Drain closes the queue and waits for the workers to handle what is left.
func (p *Pool[T]) Drain(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	for _, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			return fmt.Errorf("drain: %w", ctx.Err())
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return nil
}

// Shutdown stops every worker without draining the queue.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return firstErr
}
