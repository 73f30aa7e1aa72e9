// Package api exposes the HTTP surface: the asset bundle endpoints with
// ETag-based conditional GET, and the cache administration endpoints.
package api
