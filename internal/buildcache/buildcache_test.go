package buildcache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/javi11/mp4vfsd/internal/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_CoalescesConcurrentBuilds(t *testing.T) {
	c := New()
	key := Key{StreamID: "cam1", Start90k: 0, End90k: 90000}

	var calls int32
	var wg sync.WaitGroup
	results := make([]*mp4.File, 10)
	errs := make([]error, 10)

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			results[i], errs[i] = c.Get(key, func() (*mp4.File, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return &mp4.File{}, nil
			})
		}(i)
	}

	// Callers that join an in-flight build never run the build func, so
	// readiness is signalled before Get; the pause lets every goroutine
	// reach Get while the first build is still blocked on release.
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < 10; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestCache_DistinctKeysRunIndependently(t *testing.T) {
	c := New()
	a := Key{StreamID: "cam1", Start90k: 0, End90k: 90000}
	b := Key{StreamID: "cam2", Start90k: 0, End90k: 90000}

	var calls int32
	build := func() (*mp4.File, error) {
		atomic.AddInt32(&calls, 1)
		return &mp4.File{}, nil
	}

	_, err := c.Get(a, build)
	require.NoError(t, err)
	_, err = c.Get(b, build)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
