package bundle

// Kind identifies which asset pipeline a request belongs to. It selects the
// search roots, the import syntax, and the minifier media type.
type Kind string

const (
	KindCSS Kind = "css"
	KindJS  Kind = "js"
)

// ContentType returns the response media type for the bundle kind.
func (k Kind) ContentType() string {
	switch k {
	case KindJS:
		return "application/javascript"
	default:
		return "text/css"
	}
}

// Result is what GetOrBuildBundle hands back to the HTTP layer: enough to
// serve the body and compute validators without reaching into the cache.
type Result struct {
	// Content is the concatenated, optionally minified bundle text.
	Content string

	// ContentHash is the fingerprint of Content, used for ETags.
	ContentHash string

	// Dependencies is the frozen set of concrete files consumed while
	// building, directly or through imports.
	Dependencies []string

	// FromCache reports whether the result was served without rebuilding.
	FromCache bool
}
