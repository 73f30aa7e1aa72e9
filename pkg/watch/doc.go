// Package watch connects the filesystem to cache invalidation: it watches
// the configured asset roots recursively and reports each changed file
// path once per debounced burst of events.
package watch
