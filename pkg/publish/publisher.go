// Package publish writes built bundles to a physical store (local
// filesystem or S3-compatible object storage) under a fingerprint-versioned
// name so a CDN or static file server can serve them directly.
//
// Publishing is best-effort: a failure is logged by the caller and never
// fails the originating request.
package publish

import "context"

// Publisher writes a finished bundle to a physical asset store.
type Publisher interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Publish stores content under objectName, overwriting any previous
	// object of the same name. Object names are fingerprint-derived, so an
	// overwrite always writes identical bytes.
	Publish(ctx context.Context, objectName string, content []byte, contentType string) error
}
