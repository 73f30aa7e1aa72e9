// Package bundle implements the asset bundling core: resolving an ordered
// list of requested resources (local files, directories, remote URLs,
// allow-list tokens) into one concatenated, optionally minified output,
// while recording every file consumed along the way.
//
// # Building
//
// Builder.GetOrBuildBundle fingerprints the ordered request, consults the
// bundle cache, and on a miss builds under single-flight protection so
// concurrent identical requests share one build. Within a build, remote
// resources are prefetched in parallel but concatenation order is always
// the caller-supplied order.
//
// # Import inlining
//
// Resolver scans CSS-family and script sources for import statements and
// substitutes each with the referenced file's recursively processed
// content. Media-query-qualified CSS imports are wrapped in @media blocks.
// Missing import targets degrade to empty content; cycles fail fast.
//
// # Dependencies
//
// Tracker accumulates the concrete files a build touched, directly or
// through imports. The frozen set is stored with the cache entry and
// drives invalidation when any of those files changes.
package bundle
