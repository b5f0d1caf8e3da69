package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// InMemoryEventEmitter delivers completion events synchronously to the
// handlers registered in this process.
type InMemoryEventEmitter struct {
	mu       sync.RWMutex
	handlers []EventHandler
	logger   *slog.Logger
}

var _ EventEmitter = (*InMemoryEventEmitter)(nil)

// NewInMemoryEventEmitter creates an emitter with no handlers. If logger is
// nil, a default logger will be used.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEventEmitter{
		logger: logger.With(slog.String("component", "in_memory_event_emitter")),
	}
}

// RegisterHandler subscribes handler to every later event.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	e.handlers = append(e.handlers, handler)
	n := len(e.handlers)
	e.mu.Unlock()

	e.logger.Debug("registered completion handler", slog.Int("handler_count", n))
}

// EmitEvent hands event to each handler in registration order. A failing
// handler does not stop delivery to the rest; all failures are joined into
// the returned error. Delivery stops early once ctx is done.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *CompletionEvent) error {
	e.mu.RLock()
	handlers := append([]EventHandler(nil), e.handlers...)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		e.logger.Warn("completion event dropped, no handlers registered",
			slog.String("event_id", event.ID.String()),
			slog.String("event_key", event.EventKey))
		return nil
	}

	var errs []error
	for i, handler := range handlers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("completion handler failed",
				slog.String("error", err.Error()),
				slog.Int("handler_index", i),
				slog.String("event_id", event.ID.String()),
				slog.String("assignment_id", event.Context.AssignmentID.String()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
