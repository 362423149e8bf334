package mp4

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/javi11/mp4vfsd/internal/recording"
)

// sampleTableProjection translates a [start90k, end90k) window within one
// Recording into the four coupled sample tables (stts, stsc, stsz, stss)
// and the byte range of sample data those tables describe.
//
// sampleOffset is the number of samples emitted by every segment appended
// before this one (0 for the first segment). stssFiller adds it to this
// segment's own 1-based sample numbers so numbering continues across
// segments; the stsc first_chunk number does not use it (that is the
// 1-based segment index).
type sampleTableProjection struct {
	samplePos        byteRange // byte range within the sample file
	frames           int32
	keyFrames        int32
	actualEnd90k     int64
	sampleOffset     int64
	sampleEntryIndex uint32

	// fastPath records whether Init took the start=0/end>=duration
	// shortcut; fillers replay that same decision so they agree with
	// the counts Init computed without re-running key-frame selection.
	fastPath   bool
	begin90k   int64 // Start90k() of the frame chosen as the window's first sample
	desiredEnd int64
}

// errFirstFrameNotKey is returned by Init when the recording's sample
// index does not begin (at or before the requested window) on a key
// frame.
var errFirstFrameNotKey = fmt.Errorf("mp4: first frame must be a key frame")

// newSampleIndexIterator is overridable in tests.
var newSampleIndexIterator = recording.NewSampleIndexIterator

// initProjection runs SampleTableProjection.Init (spec.md §4.2) against
// rec for the window [start90k, end90k).
func initProjection(rec *recording.Recording, sampleEntryIndex uint32, sampleOffset int64, start90k, end90k int64) (*sampleTableProjection, error) {
	p := &sampleTableProjection{
		sampleOffset:     sampleOffset,
		sampleEntryIndex: sampleEntryIndex,
		desiredEnd:       end90k,
	}

	if start90k == 0 && end90k >= rec.Duration90k() {
		p.fastPath = true
		p.begin90k = 0
		p.samplePos = byteRange{0, rec.SampleFileBytes}
		p.frames = rec.VideoSamples
		p.keyFrames = rec.VideoSyncSamples
		p.actualEnd90k = rec.Duration90k()
		return p, nil
	}

	it := newSampleIndexIterator(rec.VideoIndex)
	if it.Done() {
		if err := it.Err(); err != nil {
			return nil, fmt.Errorf("mp4: decoding sample index: %w", err)
		}
		return nil, errFirstFrameNotKey
	}
	if !it.IsKey() {
		return nil, errFirstFrameNotKey
	}

	haveBegin := false
	for !it.Done() {
		if it.Start90k() <= start90k && it.IsKey() {
			p.samplePos.begin = it.Pos()
			p.begin90k = it.Start90k()
			p.frames = 0
			p.keyFrames = 0
			haveBegin = true
		}
		if it.Start90k() >= end90k {
			break
		}
		p.frames++
		if it.IsKey() {
			p.keyFrames++
		}
		p.actualEnd90k = it.End90k()
		it.Next()
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("mp4: decoding sample index: %w", err)
	}
	if !haveBegin {
		return nil, errFirstFrameNotKey
	}
	p.samplePos.end = it.Pos()
	return p, nil
}

// sttsEntryCount is the number of (sample_count, sample_delta) rows this
// segment contributes to the shared stts box. This core never coalesces
// runs of equal duration across frame boundaries, so it is simply the
// frame count.
func (p *sampleTableProjection) sttsEntryCount() uint32 { return uint32(p.frames) }

// sttsEntriesSize is the declared size in bytes of this segment's stts
// filler: two u32 per frame (sample_count=1, sample_delta).
func (p *sampleTableProjection) sttsEntriesSize() int64 { return 8 * int64(p.frames) }

// stssEntriesSize is the declared size in bytes of this segment's stss
// filler: one u32 sample number per key frame.
func (p *sampleTableProjection) stssEntriesSize() int64 { return 4 * int64(p.keyFrames) }

// stszEntriesSize is the declared size in bytes of this segment's stsz
// filler: one u32 byte size per frame.
func (p *sampleTableProjection) stszEntriesSize() int64 { return 4 * int64(p.frames) }

// forEachFrame walks rec's sample index from its very start but only
// visits frames in [begin90k, desiredEnd), the same window Init already
// resolved. It intentionally does not re-run key-frame candidate
// selection: that decision was already made once, by Init, and is
// replayed here purely via the begin90k/desiredEnd bounds so every
// filler agrees with Init's frame/keyFrame counts.
func (p *sampleTableProjection) forEachFrame(rec *recording.Recording, visit func(f recording.Frame, sampleNum int32)) error {
	it := newSampleIndexIterator(rec.VideoIndex)
	var sampleNum int32
	for !it.Done() {
		start := it.Start90k()
		if !p.fastPath && start < p.begin90k {
			it.Next()
			continue
		}
		if start >= p.desiredEnd {
			break
		}
		sampleNum++
		visit(recording.Frame{
			Duration90k: it.Duration90k(),
			Bytes:       it.Bytes(),
			IsKey:       it.IsKey(),
			Start90k:    start,
		}, sampleNum)
		it.Next()
	}
	return it.Err()
}

// sttsFiller regenerates this segment's stts rows on demand, one
// (sample_count=1, sample_delta) pair per frame, matching spec.md §9's
// filler-with-known-size design (cheap enough to recompute per read
// rather than cache).
func sttsFiller(p *sampleTableProjection, rec *recording.Recording) fillerFunc {
	return func() ([]byte, error) {
		buf := make([]byte, 0, p.sttsEntriesSize())
		err := p.forEachFrame(rec, func(f recording.Frame, _ int32) {
			buf = binary.BigEndian.AppendUint32(buf, 1)
			buf = binary.BigEndian.AppendUint32(buf, uint32(f.Duration90k))
		})
		return buf, err
	}
}

// stszFiller emits one u32 byte size per frame in the window.
func stszFiller(p *sampleTableProjection, rec *recording.Recording) fillerFunc {
	return func() ([]byte, error) {
		buf := make([]byte, 0, p.stszEntriesSize())
		err := p.forEachFrame(rec, func(f recording.Frame, _ int32) {
			buf = binary.BigEndian.AppendUint32(buf, uint32(f.Bytes))
		})
		return buf, err
	}
}

// stssFiller emits the 1-based sample number of every key frame in the
// window, offset by sampleOffset (the cumulative sample count across every
// segment appended before this one) so sample numbers are dense and
// monotonically increasing across the whole file, not restarting at 1 per
// segment.
func stssFiller(p *sampleTableProjection, rec *recording.Recording) fillerFunc {
	return func() ([]byte, error) {
		buf := make([]byte, 0, p.stssEntriesSize())
		err := p.forEachFrame(rec, func(f recording.Frame, sampleNum int32) {
			if f.IsKey {
				buf = binary.BigEndian.AppendUint32(buf, uint32(p.sampleOffset)+uint32(sampleNum))
			}
		})
		return buf, err
	}
}

// stscEntry appends one (first_chunk, samples_per_chunk,
// sample_description_index) row, big-endian, to sink. Every segment in
// this core is exactly one chunk, so first_chunk is the 1-based segment
// index and samples_per_chunk is that segment's frame count.
func stscEntry(sink io.Writer, firstChunk uint32, samplesPerChunk uint32, sampleDescriptionIndex uint32) error {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], firstChunk)
	binary.BigEndian.PutUint32(b[4:8], samplesPerChunk)
	binary.BigEndian.PutUint32(b[8:12], sampleDescriptionIndex)
	_, err := sink.Write(b[:])
	return err
}
