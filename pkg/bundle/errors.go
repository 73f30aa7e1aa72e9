package bundle

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies build failures so the HTTP layer can pick a status
// code without string matching.
type ErrorKind int

const (
	// KindUnknown is the zero value; callers should never construct it.
	KindUnknown ErrorKind = iota

	// KindNotFound means a top-level requested resource did not resolve to
	// an existing file. Missing imports inside a file are not errors; they
	// degrade to empty content.
	KindNotFound

	// KindAccessDenied means the resource's extension is not in the allowed
	// set or its resolved path escapes the configured roots.
	KindAccessDenied

	// KindRemoteFetchFailed is a network-level failure. Non-fatal: the
	// resource contributes empty content and the build continues.
	KindRemoteFetchFailed

	// KindRemoteFetchRejected means the remote resource was refused by
	// policy (too large, not allow-listed). Fatal for the whole build.
	KindRemoteFetchRejected

	// KindCircularImport means import resolution re-entered a file already
	// on the resolution stack.
	KindCircularImport

	// KindTransformFailed wraps a compiler error from an external
	// transformer. The original diagnostic text is preserved.
	KindTransformFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindRemoteFetchFailed:
		return "remote_fetch_failed"
	case KindRemoteFetchRejected:
		return "remote_fetch_rejected"
	case KindCircularImport:
		return "circular_import"
	case KindTransformFailed:
		return "transform_failed"
	default:
		return "unknown"
	}
}

// Error is the typed build error surfaced by GetOrBuildBundle.
type Error struct {
	Kind     ErrorKind
	Resource string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Resource, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Resource)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so errors.Is works against kind sentinels.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Resource == "" && other.Kind == e.Kind
	}
	return false
}

func newError(kind ErrorKind, resource string, err error) *Error {
	return &Error{Kind: kind, Resource: resource, Err: err}
}

// KindOf extracts the ErrorKind from err, or KindUnknown when err is not a
// bundle error.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// circularImportError formats the resolution stack so the cycle is visible
// in the diagnostic.
func circularImportError(path string, stack []string) *Error {
	return newError(KindCircularImport, path,
		fmt.Errorf("import cycle: %s -> %s", strings.Join(stack, " -> "), path))
}
