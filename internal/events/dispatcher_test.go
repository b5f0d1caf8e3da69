package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewAsyncDispatcher(t *testing.T) {
	next := &MockEventHandler{}
	emitter := NewInMemoryEventEmitter(setupTestLogger())
	emitter.RegisterHandler(next)

	d := NewAsyncDispatcher(emitter, DispatcherConfig{}, setupTestLogger())
	assert.Equal(t, 256, cap(d.queue))
	assert.Equal(t, 1, d.config.WorkerCount)
	assert.Equal(t, 10*time.Second, d.config.HandlerTimeout)

	d = NewAsyncDispatcher(emitter, DispatcherConfig{QueueSize: 4, WorkerCount: -3}, nil)
	assert.Equal(t, 4, cap(d.queue))
	assert.Equal(t, 1, d.config.WorkerCount)

	assert.Panics(t, func() { NewAsyncDispatcher(nil, DispatcherConfig{}, nil) })
}

func TestAsyncDispatcher_Delivers(t *testing.T) {
	handler := &MockEventHandler{}
	emitter := NewInMemoryEventEmitter(setupTestLogger())
	emitter.RegisterHandler(handler)

	d := NewAsyncDispatcher(emitter, DispatcherConfig{QueueSize: 10, WorkerCount: 3}, setupTestLogger())
	d.Start()
	d.Start()

	for range 5 {
		require.NoError(t, d.EmitEvent(context.Background(), NewCompletionEvent(completedAssignment(t), time.Now())))
	}

	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, 5, handler.Count(), "stop drains accepted events")
	assert.Equal(t, 0, d.Pending())
}

func TestAsyncDispatcher_QueueFull(t *testing.T) {
	handler := &MockEventHandler{}
	emitter := NewInMemoryEventEmitter(setupTestLogger())
	emitter.RegisterHandler(handler)
	d := NewAsyncDispatcher(emitter, DispatcherConfig{QueueSize: 2}, setupTestLogger())

	// Not started, so nothing consumes the queue.
	event := NewCompletionEvent(completedAssignment(t), time.Now())
	require.NoError(t, d.EmitEvent(context.Background(), event))
	require.NoError(t, d.EmitEvent(context.Background(), event))
	assert.Zero(t, handler.Count())

	require.NoError(t, d.EmitEvent(context.Background(), event))
	assert.Equal(t, 1, handler.Count(), "overflow is delivered inline")
	assert.Same(t, event, handler.LastEvent)
	assert.Equal(t, 2, d.Pending())
	assert.Equal(t, int64(1), d.InlineDeliveries())
}

func TestAsyncDispatcher_QueueFullInlineFailure(t *testing.T) {
	d := NewAsyncDispatcher(&MockEventHandlerEmitter{err: errors.New("sink down")},
		DispatcherConfig{QueueSize: 1}, setupTestLogger())

	event := NewCompletionEvent(completedAssignment(t), time.Now())
	require.NoError(t, d.EmitEvent(context.Background(), event))

	err := d.EmitEvent(context.Background(), event)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.ErrorContains(t, err, "sink down")
}

func TestAsyncDispatcher_StalledSinkLosesNothing(t *testing.T) {
	release := make(chan struct{})
	var (
		mu        sync.Mutex
		delivered = map[string]int{}
	)
	stalled := EventHandlerFunc(func(ctx context.Context, event *CompletionEvent) error {
		<-release
		mu.Lock()
		delivered[event.ID.String()]++
		mu.Unlock()
		return nil
	})
	emitter := NewInMemoryEventEmitter(setupTestLogger())
	emitter.RegisterHandler(stalled)

	d := NewAsyncDispatcher(emitter, DispatcherConfig{QueueSize: 1, WorkerCount: 1}, setupTestLogger())
	d.Start()

	const total = 8
	sent := make([]*CompletionEvent, total)
	var wg sync.WaitGroup
	for i := range total {
		sent[i] = NewCompletionEvent(completedAssignment(t), time.Now())
		wg.Add(1)
		go func(event *CompletionEvent) {
			defer wg.Done()
			assert.NoError(t, d.EmitEvent(context.Background(), event))
		}(sent[i])
	}

	// Let the worker and the overflow callers pile up on the stalled sink.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	require.NoError(t, d.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, total)
	for _, event := range sent {
		assert.Equal(t, 1, delivered[event.ID.String()], "event %s", event.ID)
	}
	assert.Positive(t, d.InlineDeliveries())
}

func TestAsyncDispatcher_Closed(t *testing.T) {
	d := NewAsyncDispatcher(&MockEventHandlerEmitter{}, DispatcherConfig{}, setupTestLogger())
	d.Start()
	require.NoError(t, d.Stop(context.Background()))
	require.NoError(t, d.Stop(context.Background()), "second stop is a no-op")

	err := d.EmitEvent(context.Background(), NewCompletionEvent(completedAssignment(t), time.Now()))
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestAsyncDispatcher_ErrorHandler(t *testing.T) {
	failing := &MockEventHandlerEmitter{err: errors.New("sink down")}
	d := NewAsyncDispatcher(failing, DispatcherConfig{WorkerCount: 2}, setupTestLogger())

	var (
		mu     sync.Mutex
		failed []*CompletionEvent
	)
	d.SetErrorHandler(func(event *CompletionEvent, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.EqualError(t, err, "sink down")
		failed = append(failed, event)
	})
	d.Start()

	event := NewCompletionEvent(completedAssignment(t), time.Now())
	require.NoError(t, d.EmitEvent(context.Background(), event))
	require.NoError(t, d.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failed, 1)
	assert.Same(t, event, failed[0])
}

func TestAsyncDispatcher_HandlerTimeout(t *testing.T) {
	blocking := EventHandlerFunc(func(ctx context.Context, event *CompletionEvent) error {
		<-ctx.Done()
		return ctx.Err()
	})
	emitter := NewInMemoryEventEmitter(setupTestLogger())
	emitter.RegisterHandler(blocking)

	d := NewAsyncDispatcher(emitter, DispatcherConfig{HandlerTimeout: 20 * time.Millisecond}, setupTestLogger())
	errs := make(chan error, 1)
	d.SetErrorHandler(func(_ *CompletionEvent, err error) { errs <- err })
	d.Start()

	require.NoError(t, d.EmitEvent(context.Background(), NewCompletionEvent(completedAssignment(t), time.Now())))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not cancelled")
	}
	require.NoError(t, d.Stop(context.Background()))
}

func TestAsyncDispatcher_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	slow := EventHandlerFunc(func(ctx context.Context, event *CompletionEvent) error {
		<-release
		return nil
	})
	emitter := NewInMemoryEventEmitter(setupTestLogger())
	emitter.RegisterHandler(slow)

	d := NewAsyncDispatcher(emitter, DispatcherConfig{}, setupTestLogger())
	d.Start()
	require.NoError(t, d.EmitEvent(context.Background(), NewCompletionEvent(completedAssignment(t), time.Now())))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

// MockEventHandlerEmitter is an EventEmitter returning a fixed error.
type MockEventHandlerEmitter struct {
	err error
}

func (m *MockEventHandlerEmitter) EmitEvent(ctx context.Context, event *CompletionEvent) error {
	return m.err
}
