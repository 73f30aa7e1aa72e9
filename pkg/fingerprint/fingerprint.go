// Package fingerprint provides deterministic cache key generation for
// ordered resource lists and content hashing for HTTP validators.
//
// CRITICAL INVARIANT: ORDER SENSITIVITY
// Identifiers are hashed in caller order, never sorted. Concatenation order
// is part of a bundle's identity: ["a.css", "b.css"] and ["b.css", "a.css"]
// are different bundles and must produce different keys.
//
// Key Format Version: v1
// Algorithm: MD5 over identifier + \0 for each identifier in order.
//
// CHANGING THIS ALGORITHM INVALIDATES ALL CACHED BUNDLES
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
)

// EmptyKey is the fingerprint of an empty identifier list. An empty request
// is not an error at this layer; callers reject it with their own policy.
const EmptyKey = "d41d8cd98f00b204e9800998ecf8427e"

// Key computes the fingerprint of an ordered identifier list.
//
// The function is pure and stable across process restarts: no random seed,
// no map iteration, no sorting. Identifiers are separated by a NUL byte so
// ["ab", "c"] and ["a", "bc"] hash differently.
func Key(identifiers []string) string {
	hasher := md5.New()
	for _, id := range identifiers {
		hasher.Write([]byte(id))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// Content computes the hash of final bundle bytes. It backs the HTTP ETag
// and is deliberately distinct from Key: Key identifies the request, Content
// identifies the produced output.
func Content(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
