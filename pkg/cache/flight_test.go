package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_SingleBuildForConcurrentCallers(t *testing.T) {
	coord := NewCoordinator()
	ctx := context.Background()

	var builds atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*Entry, callers)
	errs := make([]error, callers)

	buildFn := func(context.Context) (*Entry, error) {
		if builds.Add(1) == 1 {
			close(started)
		}
		<-release
		return &Entry{Key: "same-key", Content: "built"}, nil
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, errs[0] = coord.Execute(ctx, "same-key", buildFn)
	}()
	<-started

	// The build is now in flight; every further caller must attach to it.
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = coord.Execute(ctx, "same-key", buildFn)
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load(), "build must run exactly once")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "built", results[i].Content)
	}
}

func TestCoordinator_FailurePropagatesToAllWaiters(t *testing.T) {
	coord := NewCoordinator()
	ctx := context.Background()

	buildErr := errors.New("compiler exploded")
	release := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, errs[0] = coord.Execute(ctx, "k", func(context.Context) (*Entry, error) {
			close(started)
			<-release
			return nil, buildErr
		})
	}()
	<-started

	for i := 1; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = coord.Execute(ctx, "k", func(context.Context) (*Entry, error) {
				t.Error("second build must not start while first is in flight")
				return nil, nil
			})
		}(i)
	}

	close(release)
	wg.Wait()

	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, errs[i], buildErr)
	}
}

func TestCoordinator_DistinctKeysRunInParallel(t *testing.T) {
	coord := NewCoordinator()
	ctx := context.Background()

	aStarted := make(chan struct{})
	bDone := make(chan struct{})

	go func() {
		_, _, _ = coord.Execute(ctx, "a", func(context.Context) (*Entry, error) {
			close(aStarted)
			// Block until b completes; only possible if b is not
			// serialized behind a.
			<-bDone
			return &Entry{Key: "a"}, nil
		})
	}()
	<-aStarted

	entry, _, err := coord.Execute(ctx, "b", func(context.Context) (*Entry, error) {
		return &Entry{Key: "b"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "b", entry.Key)
	close(bDone)
}

func TestCoordinator_ReentrantBuildFailsFast(t *testing.T) {
	coord := NewCoordinator()

	_, _, err := coord.Execute(context.Background(), "k", func(inner context.Context) (*Entry, error) {
		_, _, reentryErr := coord.Execute(inner, "k", func(context.Context) (*Entry, error) {
			t.Error("re-entrant build must not run")
			return nil, nil
		})
		return nil, reentryErr
	})

	assert.ErrorIs(t, err, ErrReentrantBuild)
}

func TestCoordinator_SequentialCallsBuildAgain(t *testing.T) {
	coord := NewCoordinator()
	ctx := context.Background()

	var builds atomic.Int32
	build := func(context.Context) (*Entry, error) {
		builds.Add(1)
		return &Entry{Key: "k"}, nil
	}

	_, _, err := coord.Execute(ctx, "k", build)
	require.NoError(t, err)
	_, _, err = coord.Execute(ctx, "k", build)
	require.NoError(t, err)

	// Single flight dedupes concurrent callers only; sequential misses
	// each build (the cache in front prevents this in practice).
	assert.Equal(t, int32(2), builds.Load())
}
