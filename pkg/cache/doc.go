// Package cache stores built bundles keyed by request fingerprint and
// evicts them when any contributing file changes.
//
// # Levels
//
// The first level is an in-process expirable LRU. An optional second level
// shares entries between processes through Redis; it is best-effort and a
// Redis outage never fails a request.
//
// # Invalidation
//
// Every entry carries the frozen set of files consumed while building it.
// The cache maintains a reverse index from file path to entry keys;
// InvalidateByPath removes affected entries whole. Entries are never
// partially updated.
//
// # TTL policy
//
// A TTL of zero or below means "expire immediately": Get always reports a
// miss and Put stores nothing, forcing revalidation on every request. This
// is a documented policy, not never-expire.
//
// # Single flight
//
// Coordinator serializes builds per fingerprint so a thundering herd of
// identical requests performs the expensive build once.
package cache
