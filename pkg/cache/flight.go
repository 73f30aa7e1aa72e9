package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Coordinator ensures at most one build runs per fingerprint at a time.
// Concurrent callers for the same key block on the in-flight build and all
// receive its result, success or failure. Distinct keys run fully in
// parallel.
type Coordinator struct {
	group singleflight.Group
}

// NewCoordinator creates a Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// flightKeysKey marks, in the context handed to buildFn, which keys the
// current call chain is already building. Re-entry on one of those keys
// would deadlock inside singleflight, so it fails fast instead.
type flightKeysKey struct{}

func inFlightKeys(ctx context.Context) map[string]bool {
	keys, _ := ctx.Value(flightKeysKey{}).(map[string]bool)
	return keys
}

// Execute runs buildFn under the single-flight lock for key. The bool
// result reports whether the value was shared with other concurrent
// callers. buildFn receives a derived context; if it (transitively) calls
// Execute again with the same key, ErrReentrantBuild is returned instead of
// deadlocking.
func (c *Coordinator) Execute(ctx context.Context, key string, buildFn func(context.Context) (*Entry, error)) (*Entry, bool, error) {
	if inFlightKeys(ctx)[key] {
		return nil, false, fmt.Errorf("%w: %s", ErrReentrantBuild, key)
	}

	value, err, shared := c.group.Do(key, func() (interface{}, error) {
		keys := make(map[string]bool, len(inFlightKeys(ctx))+1)
		for k := range inFlightKeys(ctx) {
			keys[k] = true
		}
		keys[key] = true
		return buildFn(context.WithValue(ctx, flightKeysKey{}, keys))
	})
	if err != nil {
		return nil, shared, err
	}
	return value.(*Entry), shared, nil
}

// Forget drops the in-flight record for key so the next caller starts a
// fresh build rather than waiting on a result that is already stale.
func (c *Coordinator) Forget(key string) {
	c.group.Forget(key)
}
