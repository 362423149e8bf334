// Package service wires the recording catalog, sample-file directory,
// build cache and mp4 builder together into the FileResolver
// internal/httpserve needs.
package service

import (
	"context"
	"fmt"

	"github.com/javi11/mp4vfsd/internal/buildcache"
	"github.com/javi11/mp4vfsd/internal/mp4"
	"github.com/javi11/mp4vfsd/internal/recdb"
)

// Resolver implements internal/httpserve.FileResolver against a
// recording catalog and sample-file opener, coalescing concurrent
// identical builds through a buildcache.Cache.
type Resolver struct {
	store  *recdb.Store
	opener mp4.SampleFileOpener
	cache  *buildcache.Cache
}

// New returns a Resolver.
func New(store *recdb.Store, opener mp4.SampleFileOpener) *Resolver {
	return &Resolver{store: store, opener: opener, cache: buildcache.New()}
}

// Resolve loads every recording of streamID overlapping [start90k,
// end90k), builds the corresponding Mp4File, and returns it.
func (r *Resolver) Resolve(ctx context.Context, streamID string, start90k, end90k int64) (*mp4.File, error) {
	key := buildcache.Key{StreamID: streamID, Start90k: start90k, End90k: end90k}
	return r.cache.Get(key, func() (*mp4.File, error) {
		windows, err := r.store.ListForRange(ctx, streamID, start90k, end90k)
		if err != nil {
			return nil, fmt.Errorf("service: listing recordings: %w", err)
		}
		if len(windows) == 0 {
			return nil, mp4.ErrNoSegments
		}

		entry, err := r.store.VideoSampleEntry(ctx, windows[0].Recording.VideoSampleEntryID)
		if err != nil {
			return nil, fmt.Errorf("service: loading video sample entry: %w", err)
		}

		builder, err := mp4.NewBuilder(entry, r.opener)
		if err != nil {
			return nil, err
		}
		for _, w := range windows {
			builder.Append(w.Recording, w.RelStart90k, w.RelEnd90k)
		}
		return builder.Build()
	})
}
