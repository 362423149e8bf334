package mp4

import (
	"errors"
	"fmt"

	"github.com/jinzhu/copier"
	"github.com/javi11/mp4vfsd/internal/recording"
	"github.com/sourcegraph/conc/pool"
)

// ErrNoSegments is returned by Build when no segments were appended.
var ErrNoSegments = errors.New("mp4: can't construct empty .mp4")

// ErrSampleEntryMismatch is returned by Build when an appended
// recording's VideoSampleEntryID disagrees with the builder's entry.
var ErrSampleEntryMismatch = fmt.Errorf("mp4: sample entry mismatch")

// ErrKeyFrameRequired is the sentinel underlying a segment's projection
// failure when its window does not begin on a key frame; exported so
// callers can errors.Is against it regardless of which segment failed.
var ErrKeyFrameRequired = errFirstFrameNotKey

// maxConcurrentProjections caps how many segment scans run at once,
// bounding goroutine and open-file-descriptor fan-out for requests that
// span many recordings.
const maxConcurrentProjections = 8

func maxProjectionWorkers(segments int) int {
	if segments < maxConcurrentProjections {
		return segments
	}
	return maxConcurrentProjections
}

// segmentInput is one (recording, window) pair supplied to Append.
type segmentInput struct {
	rec      *recording.Recording
	relStart int64
	relEnd   int64
}

// Builder is the public facade collecting segments and one shared
// VideoSampleEntry, validating them, and emitting an immutable File. It
// is Mp4FileBuilder from spec.md §4.5.
type Builder struct {
	entry     *recording.VideoSampleEntry
	segments  []segmentInput
	opener    SampleFileOpener
	appendErr error
}

// NewBuilder returns a Builder that will open sample file bytes through
// opener. entry is deep-copied so the caller mutating their own buffer
// after NewBuilder returns cannot corrupt an in-flight build.
func NewBuilder(entry *recording.VideoSampleEntry, opener SampleFileOpener) (*Builder, error) {
	var cloned recording.VideoSampleEntry
	if err := copier.CopyWithOption(&cloned, entry, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("mp4: copying video sample entry: %w", err)
	}
	return &Builder{entry: &cloned, opener: opener}, nil
}

// Append adds one recording's [relStart90k, relEnd90k) window to the
// builder. Recordings are concatenated in the order appended. A copy
// failure is remembered and returned from Build rather than here, so
// callers that already chain several Append calls before checking Build's
// error don't need to check each one individually; the first failure wins.
func (b *Builder) Append(rec *recording.Recording, relStart90k, relEnd90k int64) {
	if b.appendErr != nil {
		return
	}
	var cloned recording.Recording
	if err := copier.CopyWithOption(&cloned, rec, copier.Option{DeepCopy: true}); err != nil {
		b.appendErr = fmt.Errorf("mp4: copying recording %s: %w", rec.SampleFileUUID, err)
		return
	}
	b.segments = append(b.segments, segmentInput{rec: &cloned, relStart: relStart90k, relEnd: relEnd90k})
}

// Build validates every appended segment and assembles the resulting
// File. Segment projections are computed concurrently (each recording's
// sample-index scan is independent of the others); only sample-offset
// accumulation and final table assembly are sequential.
func (b *Builder) Build() (*File, error) {
	if b.appendErr != nil {
		return nil, b.appendErr
	}
	if len(b.segments) == 0 {
		return nil, ErrNoSegments
	}

	for _, in := range b.segments {
		if in.rec.VideoSampleEntryID != b.entry.ID {
			return nil, fmt.Errorf("%w: expected entry id %d (sha1 %x), segment has entry id %d",
				ErrSampleEntryMismatch, b.entry.ID, b.entry.SHA1, in.rec.VideoSampleEntryID)
		}
	}

	projections := make([]*sampleTableProjection, len(b.segments))
	p := pool.New().WithErrors().WithFirstError().WithMaxGoroutines(maxProjectionWorkers(len(b.segments)))
	for i, in := range b.segments {
		i, in := i, in
		p.Go(func() error {
			proj, err := initProjection(in.rec, 1, 0, in.relStart, in.relEnd)
			if err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			projections[i] = proj
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	var sampleOffset int64
	segs := make([]*segment, len(b.segments))
	for i, in := range b.segments {
		proj := projections[i]
		proj.sampleOffset = sampleOffset
		sampleOffset += int64(proj.frames)
		segs[i] = &segment{rec: in.rec, relStart: in.relStart, relEnd: in.relEnd, projection: proj}
	}

	return buildFile(segs, b.entry, b.opener)
}
