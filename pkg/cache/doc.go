// Package cache provides build-cache backends for the engine: an in-memory
// map for hot entries and a persistent SQLite store for reuse across
// processes, plus a tiered facade that layers the two.
//
// Every entry carries an etag. A lookup whose etag differs from the stored
// one is a miss, so stale entries disappear as soon as their inputs change
// without an explicit invalidation protocol.
package cache
