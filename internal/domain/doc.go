// Package domain holds tasks, assignments and progress logs together with
// the pure state transitions between assignment statuses.
package domain
