package mp4

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/javi11/mp4vfsd/internal/recording"
)

// iso14496EpochOffsetSeconds is the number of seconds between the
// ISO/IEC 14496-12 epoch (1904-01-01 UTC) and the Unix epoch
// (1970-01-01 UTC): 24107 days * 86400 s/day.
const iso14496EpochOffsetSeconds = 24107 * 86400

// segment is one appended (recording, window) pair together with its
// resolved projection; buildFile derives the file-backed slice for its
// sample bytes from projection.samplePos. It is Mp4FileSegment from
// spec.md §3.
type segment struct {
	rec        *recording.Recording
	relStart   int64
	relEnd     int64
	projection *sampleTableProjection
}

// windowStart90k is the Start90k of the first sample this segment
// emits: 0 on the fast path, the resolved key frame's timestamp
// otherwise.
func (s *segment) windowStart90k() int64 {
	if s.projection.fastPath {
		return 0
	}
	return s.projection.begin90k
}

// duration90k is the 90kHz duration of the samples this segment emits.
func (s *segment) duration90k() int64 {
	return s.projection.actualEnd90k - s.windowStart90k()
}

// File is one immutable, virtual MP4 container assembled from N
// segments sharing a VideoSampleEntry. Once built it never mutates:
// concurrent AddRange calls are safe without locking.
type File struct {
	list         sliceList
	lastModified int64 // Unix seconds
	etag         string
}

// Size returns the total virtual byte length of the file — the value
// this package's caller should report as Content-Length.
func (f *File) Size() int64 { return f.list.size() }

// LastModified is Unix seconds derived from the maximum real-time end
// across segments.
func (f *File) LastModified() int64 { return f.lastModified }

// ETag uniquely identifies this exact byte stream; see spec.md §6.
func (f *File) ETag() string { return f.etag }

// MimeType is always "video/mp4": this package never remuxes into
// another container format.
func (f *File) MimeType() string { return "video/mp4" }

// RangeReadError wraps a failure that happened while streaming bytes
// already promised by a successfully built File — a filler regenerating
// wrong-sized content or a SampleFileOpener I/O failure. Callers can
// distinguish this from the out-of-bounds argument error AddRange returns
// directly: a bad range is the caller's mistake, a RangeReadError is this
// file's own data unexpectedly failing to produce.
type RangeReadError struct {
	Begin, End int64
	Err        error
}

func (e *RangeReadError) Error() string {
	return fmt.Sprintf("mp4: reading range [%d, %d): %v", e.Begin, e.End, e.Err)
}

func (e *RangeReadError) Unwrap() error { return e.Err }

// AddRange writes the bytes of [begin, end) to sink, returning the
// number of bytes written. 0 <= begin <= end <= Size() is required.
func (f *File) AddRange(begin, end int64, sink io.Writer) (int64, error) {
	if begin < 0 || end < begin || end > f.Size() {
		return 0, fmt.Errorf("mp4: range [%d, %d) out of bounds for size %d", begin, end, f.Size())
	}
	n, err := f.list.addRange(byteRange{begin, end}, sink)
	if err != nil {
		return n, &RangeReadError{Begin: begin, End: end, Err: err}
	}
	return n, nil
}

// buildFile assembles an Mp4File from validated segments and a shared
// VideoSampleEntry, per spec.md §4.4. segs must be non-empty and every
// segment's projection already initialized.
func buildFile(segs []*segment, entry *recording.VideoSampleEntry, opener SampleFileOpener) (*File, error) {
	f := &File{}

	var duration90k, maxEnd90k int64
	for _, s := range segs {
		duration90k += s.duration90k()
		if end := s.rec.StartTime90k + s.projection.actualEnd90k; end > maxEnd90k {
			maxEnd90k = end
		}
	}
	f.lastModified = maxEnd90k / timeUnitsPerSecond
	creationTS := uint32(maxEnd90k/timeUnitsPerSecond + iso14496EpochOffsetSeconds)
	durationTS := uint32(duration90k)

	f.list.appendOwned(append([]byte(nil), ftypBox...))

	moovHeader := openContainerBox(&f.list, "moov")
	moovStart := f.list.size() - int64(len(moovHeader))

	f.list.appendOwned(mvhdBox(creationTS, durationTS))

	trakHeader := openContainerBox(&f.list, "trak")
	trakStart := f.list.size() - int64(len(trakHeader))

	f.list.appendOwned(tkhdBox(creationTS, durationTS, entry.Width, entry.Height))

	mdiaHeader := openContainerBox(&f.list, "mdia")
	mdiaStart := f.list.size() - int64(len(mdiaHeader))

	f.list.appendOwned(mdhdBox(creationTS, durationTS))
	f.list.appendOwned(append([]byte(nil), hdlrBox...))

	minfHeader := openContainerBox(&f.list, "minf")
	minfStart := f.list.size() - int64(len(minfHeader))

	f.list.appendOwned(append([]byte(nil), vmhdAndDinfBoxes...))

	stblHeader := openContainerBox(&f.list, "stbl")
	stblStart := f.list.size() - int64(len(stblHeader))

	f.list.appendOwned(stsdHeaderBox())
	f.list.appendOwned(append([]byte(nil), entry.Data...))

	var sttsCount, stszCount, stssCount uint32
	for _, s := range segs {
		sttsCount += s.projection.sttsEntryCount()
		stszCount += uint32(s.projection.frames)
		stssCount += uint32(s.projection.keyFrames)
	}

	f.list.appendOwned(sttsHeaderBox(sttsCount))
	for _, s := range segs {
		f.list.append(newLazyFiller(s.projection.sttsEntriesSize(), sttsFiller(s.projection, s.rec)), Lazy)
	}

	f.list.appendOwned(stscHeaderBox(uint32(len(segs))))
	f.list.append(newLazyFiller(12*int64(len(segs)), stscFiller(segs)), Lazy)

	f.list.appendOwned(stszHeaderBox(stszCount))
	for _, s := range segs {
		f.list.append(newLazyFiller(s.projection.stszEntriesSize(), stszFiller(s.projection, s.rec)), Lazy)
	}

	// The co64 filler's content (absolute sample byte offsets) depends
	// on where mdat's payload starts, which is only known after moov's
	// total size is finalized below. Its declared *size* does not, so
	// the filler is wired now and reads initialSampleBytePos through a
	// pointer filled in once mdat has been appended.
	var initialSampleBytePos int64
	f.list.appendOwned(co64HeaderBox(uint32(len(segs))))
	f.list.append(newLazyFiller(8*int64(len(segs)), co64Filler(segs, &initialSampleBytePos)), Lazy)

	f.list.appendOwned(stssHeaderBox(stssCount))
	for _, s := range segs {
		f.list.append(newLazyFiller(s.projection.stssEntriesSize(), stssFiller(s.projection, s.rec)), Lazy)
	}

	patchSize(stblHeader, f.list.size()-stblStart)
	patchSize(minfHeader, f.list.size()-minfStart)
	patchSize(mdiaHeader, f.list.size()-mdiaStart)
	patchSize(trakHeader, f.list.size()-trakStart)
	patchSize(moovHeader, f.list.size()-moovStart)

	mdatHdr := mdatHeader()
	f.list.appendOwned(mdatHdr)
	mdatStart := f.list.size() - int64(len(mdatHdr))
	initialSampleBytePos = f.list.size()

	for _, s := range segs {
		f.list.append(newFileBackedSlice(opener, s.rec.SampleFileUUID, s.projection.samplePos.begin, s.projection.samplePos.end), Lazy)
	}

	patchMdatLargesize(mdatHdr, f.list.size()-mdatStart)

	f.etag = computeETag(segs)

	return f, nil
}

// stscFiller writes one (first_chunk, samples_per_chunk,
// sample_description_index=1) row per segment. Every segment in this
// core is exactly one chunk, so first_chunk is simply the 1-based
// segment index.
func stscFiller(segs []*segment) fillerFunc {
	return func() ([]byte, error) {
		var buf bytes.Buffer
		buf.Grow(12 * len(segs))
		for i, s := range segs {
			if err := stscEntry(&buf, uint32(i+1), uint32(s.projection.frames), s.projection.sampleEntryIndex); err != nil {
				return nil, err
			}
		}
		return buf.Bytes(), nil
	}
}

// co64Filler writes the running absolute byte offset of each segment's
// first sample, starting at *initialSampleBytePos (only valid once the
// caller has finished writing to it — i.e. after buildFile returns).
func co64Filler(segs []*segment, initialSampleBytePos *int64) fillerFunc {
	return func() ([]byte, error) {
		buf := make([]byte, 0, 8*len(segs))
		offset := *initialSampleBytePos
		for _, s := range segs {
			buf = binary.BigEndian.AppendUint64(buf, uint64(offset))
			offset += s.projection.samplePos.end - s.projection.samplePos.begin
		}
		return buf, nil
	}
}

// computeETag is SHA-1 over kFormatVersion followed by, per segment,
// sample_pos.begin, sample_pos.end (8-byte big-endian each) and the raw
// 20-byte sample_file_sha1. Bump kFormatVersion whenever any emitted
// byte layout changes.
const kFormatVersion = 0x00

func computeETag(segs []*segment) string {
	h := sha1.New()
	h.Write([]byte{kFormatVersion})
	for _, s := range segs {
		var b [16]byte
		binary.BigEndian.PutUint64(b[0:8], uint64(s.projection.samplePos.begin))
		binary.BigEndian.PutUint64(b[8:16], uint64(s.projection.samplePos.end))
		h.Write(b[:])
		h.Write(s.rec.SampleFileSHA1[:])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
