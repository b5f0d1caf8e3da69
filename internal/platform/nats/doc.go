// Package nats publishes completion events to a NATS JetStream stream.
//
// Events are published on "<prefix>.task.complete" with the assignment ID as
// the JetStream message ID, so the broker's duplicate window absorbs a
// redelivered completion for the same assignment.
package nats
