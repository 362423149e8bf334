// Package buildcache deduplicates concurrent builds of the same
// (stream, window) Mp4File so that two simultaneous HTTP range readers
// requesting the same bytes only pay for one sample-table scan.
package buildcache

import (
	"fmt"

	"github.com/javi11/mp4vfsd/internal/mp4"
	"golang.org/x/sync/singleflight"
)

// Cache coalesces concurrent BuildFunc calls sharing the same key.
type Cache struct {
	group singleflight.Group
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{}
}

// Key identifies one (stream, window) build request.
type Key struct {
	StreamID    string
	Start90k    int64
	End90k      int64
}

func (k Key) string() string {
	return fmt.Sprintf("%s:%d:%d", k.StreamID, k.Start90k, k.End90k)
}

// BuildFunc performs the actual Mp4FileBuilder.Build call.
type BuildFunc func() (*mp4.File, error)

// Get returns the cached in-flight (or freshly computed) File for key,
// running build at most once per set of concurrent callers sharing key.
func (c *Cache) Get(key Key, build BuildFunc) (*mp4.File, error) {
	v, err, _ := c.group.Do(key.string(), func() (any, error) {
		return build()
	})
	if err != nil {
		return nil, err
	}
	return v.(*mp4.File), nil
}
