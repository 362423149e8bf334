package recording

import (
	"encoding/binary"
	"fmt"
)

// Frame is one decoded entry from a recording's compact sample index.
type Frame struct {
	Duration90k int32
	Bytes       int32
	IsKey       bool
	Start90k    int64 // the frame's start timestamp, relative to the recording
}

// End90k is the frame's end timestamp, relative to the recording.
func (f Frame) End90k() int64 { return f.Start90k + int64(f.Duration90k) }

// SampleIndexIterator yields successive frames from a recording's video
// index in order, tracking the cumulative byte position within the
// sample file. It is spec.md's "SampleIndex iterator" external
// collaborator: internal/mp4 consumes it only through this interface.
type SampleIndexIterator interface {
	// Done reports whether the iterator has been exhausted (or failed).
	Done() bool
	// Next advances to the next frame. Must not be called once Done.
	Next()
	Duration90k() int32
	Bytes() int32
	IsKey() bool
	Start90k() int64
	End90k() int64
	// Pos is the byte offset within the sample file where the current
	// frame begins; once Done, it is the total byte size of every frame
	// consumed (0 for an empty index).
	Pos() int64
	// Err returns any decode error encountered; valid once Done.
	Err() error
}

// wireFlagKey is the is_key bit of the flags byte in the on-disk encoding
// of one index entry:
//
//	flags       1 byte  (bit 0: is_key)
//	duration90k uvarint
//	bytes       uvarint
//
// This bespoke varint layout is deliberately smaller than a generic
// schema'd message format (see DESIGN.md): a typical recording has tens
// of thousands of frames, and every byte saved per frame is a byte saved
// per recording in the catalog.
const wireFlagKey = 1 << 0

// EncodeVideoIndex packs frames into the compact byte string stored as
// Recording.VideoIndex.
func EncodeVideoIndex(frames []Frame) []byte {
	buf := make([]byte, 0, len(frames)*4)
	var scratch [binary.MaxVarintLen32]byte
	for _, f := range frames {
		var flags byte
		if f.IsKey {
			flags |= wireFlagKey
		}
		buf = append(buf, flags)
		n := binary.PutUvarint(scratch[:], uint64(f.Duration90k))
		buf = append(buf, scratch[:n]...)
		n = binary.PutUvarint(scratch[:], uint64(f.Bytes))
		buf = append(buf, scratch[:n]...)
	}
	return buf
}

// videoIndexIterator decodes a Recording.VideoIndex byte string in order.
//
// bytePos is the byte offset, within the sample file, of the frame
// currently loaded into cur — i.e. what Pos() reports. It is advanced by
// the previous frame's size at the *start* of the next advance() call,
// not the current one, so that Pos() always answers "where does the
// frame I'm looking at right now begin" (needed so a key frame found
// mid-scan can be used as sample_pos.begin) while also correctly
// answering "where do all consumed frames end" once the iterator is
// exhausted (needed for sample_pos.end).
type videoIndexIterator struct {
	data         []byte
	off          int
	timePos      int64
	bytePos      int64
	pendingBytes int64
	cur          Frame
	done         bool
	err          error
}

// NewSampleIndexIterator returns a forward-only iterator over a
// recording's compact video index, already positioned at the first
// frame (or done, if the index is empty).
func NewSampleIndexIterator(videoIndex []byte) SampleIndexIterator {
	it := &videoIndexIterator{data: videoIndex}
	it.advance()
	return it
}

func (it *videoIndexIterator) advance() {
	it.bytePos += it.pendingBytes
	it.pendingBytes = 0

	if it.err != nil || it.off >= len(it.data) {
		it.done = true
		return
	}
	flags := it.data[it.off]
	it.off++
	dur, n := binary.Uvarint(it.data[it.off:])
	if n <= 0 {
		it.err = fmt.Errorf("recording: corrupt video index: bad duration varint at offset %d", it.off)
		it.done = true
		return
	}
	it.off += n
	sz, n := binary.Uvarint(it.data[it.off:])
	if n <= 0 {
		it.err = fmt.Errorf("recording: corrupt video index: bad size varint at offset %d", it.off)
		it.done = true
		return
	}
	it.off += n

	it.cur = Frame{
		Duration90k: int32(dur),
		Bytes:       int32(sz),
		IsKey:       flags&wireFlagKey != 0,
		Start90k:    it.timePos,
	}
	it.timePos += int64(dur)
	it.pendingBytes = int64(sz)
}

func (it *videoIndexIterator) Done() bool { return it.done }

func (it *videoIndexIterator) Next() { it.advance() }

func (it *videoIndexIterator) Duration90k() int32 { return it.cur.Duration90k }
func (it *videoIndexIterator) Bytes() int32       { return it.cur.Bytes }
func (it *videoIndexIterator) IsKey() bool        { return it.cur.IsKey }
func (it *videoIndexIterator) Start90k() int64    { return it.cur.Start90k }
func (it *videoIndexIterator) End90k() int64      { return it.cur.End90k() }
func (it *videoIndexIterator) Pos() int64         { return it.bytePos }
func (it *videoIndexIterator) Err() error         { return it.err }
