// Package redis provides a read-through cache for task definitions.
//
// Only lookups by ID are cached. Listings depend on the current time and are
// always served by the wrapped store. Cache failures never fail a read.
package redis
