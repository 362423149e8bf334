package mp4

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"testing"

	"github.com/javi11/mp4vfsd/internal/recording"
	"github.com/stretchr/testify/require"
)

// testEntry is the VideoSampleEntry every test recording shares unless
// a test deliberately varies it (to exercise the mismatch error path).
func testEntry(id int64) *recording.VideoSampleEntry {
	return &recording.VideoSampleEntry{
		ID:     id,
		SHA1:   [20]byte{1, 2, 3},
		Width:  640,
		Height: 480,
		Data:   []byte("avc1-fake-sample-entry-data"),
	}
}

// testOpener is a SampleFileOpener backed by in-memory byte slices
// keyed by uuid.
type testOpener struct {
	data map[string][]byte
}

func newTestOpener() *testOpener { return &testOpener{data: map[string][]byte{}} }

func (o *testOpener) put(uuid string, data []byte) { o.data[uuid] = data }

func (o *testOpener) OpenRange(uuid string, begin, end int64) (io.ReadCloser, error) {
	d, ok := o.data[uuid]
	if !ok {
		return nil, fmt.Errorf("testOpener: no sample file %s", uuid)
	}
	if begin < 0 || end > int64(len(d)) || end < begin {
		return nil, fmt.Errorf("testOpener: range [%d,%d) out of bounds for %d bytes", begin, end, len(d))
	}
	return io.NopCloser(bytes.NewReader(d[begin:end])), nil
}

// recordingWithFrames builds a Recording whose sample file is
// sampleFileBytes of arbitrary content and whose video_index encodes
// frames, starting at startTime90k.
func recordingWithFrames(uuid string, entryID int64, startTime90k int64, frames []recording.Frame, sampleFileBytes int64) *recording.Recording {
	var samples, syncSamples int32
	var duration int64
	for _, f := range frames {
		samples++
		if f.IsKey {
			syncSamples++
		}
		duration += int64(f.Duration90k)
	}
	return &recording.Recording{
		SampleFileUUID:     uuid,
		SampleFileSHA1:     [20]byte{byte(len(uuid))},
		SampleFileBytes:    sampleFileBytes,
		VideoSamples:       samples,
		VideoSyncSamples:   syncSamples,
		StartTime90k:       startTime90k,
		EndTime90k:         startTime90k + duration,
		VideoSampleEntryID: entryID,
		VideoIndex:         recording.EncodeVideoIndex(frames),
	}
}

// readAll reads the whole file's bytes via AddRange.
func readAll(t *testing.T, f *File) []byte {
	t.Helper()
	var buf bytes.Buffer
	n, err := f.AddRange(0, f.Size(), &buf)
	require.NoError(t, err)
	require.Equal(t, f.Size(), n)
	require.Equal(t, int(f.Size()), buf.Len())
	return buf.Bytes()
}

// findBox returns the byte offset (of the size field) and declared
// size of the first top-level occurrence of boxType in data, searching
// only at positions where the 4 bytes after a plausible size field
// spell boxType.
func findBox(data []byte, boxType string) (offset int, size int64) {
	marker := []byte(boxType)
	idx := bytes.Index(data, marker)
	if idx < 4 {
		return -1, 0
	}
	start := idx - 4
	sz := binary.BigEndian.Uint32(data[start : start+4])
	return start, int64(sz)
}

// boxEntries reads a fixed-size sample-table box's entry_count and the
// raw bytes following its headerLen-byte header, up to the box's
// declared size.
func boxEntries(data []byte, boxType string, headerLen int) []byte {
	off, size := findBox(data, boxType)
	if off < 0 {
		return nil
	}
	return data[off+headerLen : off+int(size)]
}

func u32s(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(b[i*4 : i*4+4])
	}
	return out
}
