package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors returned by the AsyncDispatcher
var (
	ErrQueueClosed = errors.New("event queue is closed")
	ErrQueueFull   = errors.New("event queue is full")
)

// DispatcherConfig holds configuration options for the dispatcher.
type DispatcherConfig struct {
	// QueueSize bounds the number of undelivered events. Defaults to 256.
	QueueSize int

	// WorkerCount determines how many concurrent delivery goroutines to start.
	// If zero or negative, defaults to 1.
	WorkerCount int

	// HandlerTimeout bounds a single delivery. Defaults to 10s.
	HandlerTimeout time.Duration
}

// AsyncDispatcher queues events and delivers them to a downstream emitter
// from a pool of workers. When the queue is full, EmitEvent delivers the
// event on the caller's goroutine instead of dropping it.
type AsyncDispatcher struct {
	next   EventEmitter
	config DispatcherConfig
	queue  chan *CompletionEvent
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	inline  atomic.Int64

	// errorHandler is called when delivery fails. If nil, errors are only logged.
	errorHandler func(event *CompletionEvent, err error)
}

var _ EventEmitter = (*AsyncDispatcher)(nil)

// NewAsyncDispatcher creates a dispatcher delivering to next.
func NewAsyncDispatcher(next EventEmitter, config DispatcherConfig, logger *slog.Logger) *AsyncDispatcher {
	if next == nil {
		panic("next emitter cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			slog.Int("specified_count", config.WorkerCount),
			slog.Int("default_count", 1))
		config.WorkerCount = 1
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = 10 * time.Second
	}

	return &AsyncDispatcher{
		next:   next,
		config: config,
		queue:  make(chan *CompletionEvent, config.QueueSize),
		logger: logger.With(slog.String("component", "event_dispatcher")),
	}
}

// SetErrorHandler sets a callback for delivery failures. Call before Start.
func (d *AsyncDispatcher) SetErrorHandler(handler func(event *CompletionEvent, err error)) {
	d.errorHandler = handler
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
func (d *AsyncDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.config.WorkerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Info("event dispatcher started", slog.Int("worker_count", d.config.WorkerCount))
}

// EmitEvent enqueues the event for delivery. If the queue is full the event
// is delivered synchronously to the downstream emitter; a failure there is
// returned wrapped in ErrQueueFull. Returns ErrQueueClosed after Stop.
func (d *AsyncDispatcher) EmitEvent(ctx context.Context, event *CompletionEvent) error {
	queued, err := d.enqueue(event)
	if err != nil || queued {
		return err
	}

	d.inline.Add(1)
	d.logger.Warn("event queue full, delivering inline",
		slog.String("event_id", event.ID.String()),
		slog.Int("queue_cap", cap(d.queue)))

	deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.HandlerTimeout)
	defer cancel()
	if err := d.next.EmitEvent(deliverCtx, event); err != nil {
		return fmt.Errorf("%w: inline delivery: %w", ErrQueueFull, err)
	}
	return nil
}

// enqueue reports whether the event was queued. The read lock keeps Stop
// from closing the channel during the send.
func (d *AsyncDispatcher) enqueue(event *CompletionEvent) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false, ErrQueueClosed
	}

	select {
	case d.queue <- event:
		d.logger.Debug("event enqueued",
			slog.String("event_id", event.ID.String()),
			slog.Int("queue_len", len(d.queue)),
			slog.Int("queue_cap", cap(d.queue)))
		return true, nil
	default:
		return false, nil
	}
}

// Stop closes the queue, lets the workers drain what was already accepted
// and waits for them, or until ctx is done.
func (d *AsyncDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("event dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event dispatcher shutdown: %w", ctx.Err())
	}
}

// Pending reports the number of queued, undelivered events.
func (d *AsyncDispatcher) Pending() int {
	return len(d.queue)
}

// InlineDeliveries reports how many events bypassed the full queue.
func (d *AsyncDispatcher) InlineDeliveries() int64 {
	return d.inline.Load()
}

func (d *AsyncDispatcher) worker(id int) {
	defer d.wg.Done()

	for event := range d.queue {
		d.deliver(event, id)
	}
	d.logger.Debug("event queue closed, stopping worker", slog.Int("worker_id", id))
}

func (d *AsyncDispatcher) deliver(event *CompletionEvent, workerID int) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.HandlerTimeout)
	defer cancel()

	if err := d.next.EmitEvent(ctx, event); err != nil {
		d.logger.Error("event delivery failed",
			slog.String("error", err.Error()),
			slog.String("event_id", event.ID.String()),
			slog.String("assignment_id", event.Context.AssignmentID.String()),
			slog.Int("worker_id", workerID))
		if d.errorHandler != nil {
			d.errorHandler(event, err)
		}
	}
}
