// Package filestore is the sample-file directory: it opens byte ranges
// of <uuid> sample files backing recordings, implementing
// internal/mp4.SampleFileOpener.
package filestore

import (
	"fmt"
	"io"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/spf13/afero"
)

// Dir is a directory of sample files named by UUID, one per recording.
// A production Dir wraps afero.NewOsFs(); tests use afero.NewMemMapFs().
type Dir struct {
	fs   afero.Fs
	root string
}

// New returns a Dir rooted at root on fs.
func New(fs afero.Fs, root string) *Dir {
	return &Dir{fs: fs, root: root}
}

// OpenRange opens the sample file named uuid and returns a ReadCloser
// positioned at begin, bounded to end-begin bytes. Transient opens are
// retried a bounded number of times with exponential backoff: sample
// files live on the same storage the original recorder wrote to, which
// can hiccup under concurrent load the way the teacher's usenet reads
// do.
func (d *Dir) OpenRange(uuid string, begin, end int64) (io.ReadCloser, error) {
	path := d.root + "/" + uuid

	var f afero.File
	err := retry.Do(
		func() error {
			var openErr error
			f, openErr = d.fs.Open(path)
			return openErr
		},
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("filestore: opening sample file %s: %w", uuid, err)
	}

	if _, err := f.Seek(begin, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("filestore: seeking sample file %s to %d: %w", uuid, begin, err)
	}

	return &boundedFile{f: f, remaining: end - begin}, nil
}

// boundedFile limits reads from the underlying afero.File to exactly
// the declared remaining byte count, so a caller's io.CopyN can't read
// past the end of the requested range even if the sample file has
// since grown.
type boundedFile struct {
	f         afero.File
	remaining int64
}

func (b *boundedFile) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.f.Read(p)
	b.remaining -= int64(n)
	return n, err
}

func (b *boundedFile) Close() error { return b.f.Close() }
