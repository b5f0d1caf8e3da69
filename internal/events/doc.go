// Package events carries completion notifications out of the progress engine.
//
// The engine emits a CompletionEvent after an assignment transition into
// completed has been committed. Emitters decouple the engine from the
// consumers that grant rewards:
//   - InMemoryEventEmitter fans an event out to registered EventHandlers
//   - AsyncDispatcher queues events and delivers them from a worker pool so
//     request latency does not depend on consumer latency
package events
