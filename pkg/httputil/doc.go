// Package httputil provides HTTP handler utilities for consistent error
// responses, query parsing, and the shared middleware chain.
package httputil
