// Package transform holds the pluggable source transformation layer: a
// registry mapping file extensions to preprocessor compilers (LESS, SCSS,
// CoffeeScript) and the minifier seam applied to finished bundles.
package transform
