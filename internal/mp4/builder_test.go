package mp4

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/javi11/mp4vfsd/internal/recording"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_EmptyBuildFails(t *testing.T) {
	b, err := NewBuilder(testEntry(1), newTestOpener())
	require.NoError(t, err)

	_, err = b.Build()
	assert.ErrorIs(t, err, ErrNoSegments)
}

func TestBuilder_SingleSegmentFullRange(t *testing.T) {
	opener := newTestOpener()
	opener.put("seg0", make([]byte, 1000))

	rec := recordingWithFrames("seg0", 1, 0, []recording.Frame{
		{Duration90k: 9000, Bytes: 1000, IsKey: true, Start90k: 0},
	}, 1000)

	b, err := NewBuilder(testEntry(1), opener)
	require.NoError(t, err)
	b.Append(rec, 0, rec.Duration90k())

	f, err := b.Build()
	require.NoError(t, err)

	data := readAll(t, f)

	_, moovSize := findBox(data, "moov")
	wantTotal := 32 + moovSize + 16 + 1000
	assert.Equal(t, wantTotal, int64(len(data)))
	assert.Equal(t, wantTotal, f.Size())

	assert.Equal(t, []uint32{1}, u32s(boxEntries(data, "stss", 16)))
	assert.Equal(t, []uint32{1000}, u32s(boxEntries(data, "stsz", 20)))

	stsc := boxEntries(data, "stsc", 16)
	require.Len(t, stsc, 12)
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(stsc[0:4]))  // first_chunk
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(stsc[4:8]))  // samples_per_chunk
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(stsc[8:12])) // sample_description_index

	co64 := boxEntries(data, "co64", 16)
	require.Len(t, co64, 8)
	wantCo64 := uint64(32 + moovSize + 16)
	assert.Equal(t, wantCo64, binary.BigEndian.Uint64(co64))
}

func TestBuilder_TwoSegmentsConcatenated(t *testing.T) {
	opener := newTestOpener()
	opener.put("seg0", make([]byte, 100))
	opener.put("seg1", make([]byte, 200))

	rec0 := recordingWithFrames("seg0", 1, 0, []recording.Frame{
		{Duration90k: 9000, Bytes: 100, IsKey: true, Start90k: 0},
	}, 100)
	rec1 := recordingWithFrames("seg1", 1, 9000, []recording.Frame{
		{Duration90k: 9000, Bytes: 200, IsKey: true, Start90k: 0},
	}, 200)

	b, err := NewBuilder(testEntry(1), opener)
	require.NoError(t, err)
	b.Append(rec0, 0, rec0.Duration90k())
	b.Append(rec1, 0, rec1.Duration90k())

	f, err := b.Build()
	require.NoError(t, err)

	data := readAll(t, f)
	_, moovSize := findBox(data, "moov")
	off0 := uint64(32 + moovSize + 16)

	co64Bytes := boxEntries(data, "co64", 16)
	require.Len(t, co64Bytes, 16)
	assert.Equal(t, off0, binary.BigEndian.Uint64(co64Bytes[0:8]))
	assert.Equal(t, off0+100, binary.BigEndian.Uint64(co64Bytes[8:16]))

	stsc := boxEntries(data, "stsc", 16)
	require.Len(t, stsc, 24)
	assert.Equal(t, []uint32{1, 1, 1, 2, 1, 1}, u32s(stsc))

	stsz := boxEntries(data, "stsz", 20)
	assert.Equal(t, []uint32{100, 200}, u32s(stsz))

	stss := boxEntries(data, "stss", 16)
	assert.Equal(t, []uint32{1, 2}, u32s(stss))
}

func TestBuilder_NonKeyFirstFrameInSlowPath(t *testing.T) {
	opener := newTestOpener()
	opener.put("seg0", make([]byte, 1000))

	rec := recordingWithFrames("seg0", 1, 0, []recording.Frame{
		{Duration90k: 3000, Bytes: 500, IsKey: false, Start90k: 0},
		{Duration90k: 3000, Bytes: 500, IsKey: true, Start90k: 3000},
	}, 1000)

	b, err := NewBuilder(testEntry(1), opener)
	require.NoError(t, err)
	b.Append(rec, 1, rec.Duration90k())

	_, err = b.Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyFrameRequired)
}

func TestBuilder_SampleEntryMismatch(t *testing.T) {
	opener := newTestOpener()
	opener.put("seg0", make([]byte, 100))
	opener.put("seg1", make([]byte, 100))

	rec0 := recordingWithFrames("seg0", 1, 0, []recording.Frame{
		{Duration90k: 9000, Bytes: 100, IsKey: true, Start90k: 0},
	}, 100)
	rec1 := recordingWithFrames("seg1", 2, 9000, []recording.Frame{
		{Duration90k: 9000, Bytes: 100, IsKey: true, Start90k: 0},
	}, 100)

	b, err := NewBuilder(testEntry(1), opener)
	require.NoError(t, err)
	b.Append(rec0, 0, rec0.Duration90k())
	b.Append(rec1, 0, rec1.Duration90k())

	_, err = b.Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSampleEntryMismatch))
	assert.Contains(t, err.Error(), "1")
	assert.Contains(t, err.Error(), "2")
}

func TestBuilder_RangeStraddlingMdat(t *testing.T) {
	opener := newTestOpener()
	sampleBytes := make([]byte, 1000)
	for i := range sampleBytes {
		sampleBytes[i] = byte(i)
	}
	opener.put("seg0", sampleBytes)

	rec := recordingWithFrames("seg0", 1, 0, []recording.Frame{
		{Duration90k: 9000, Bytes: 1000, IsKey: true, Start90k: 0},
	}, 1000)

	b, err := NewBuilder(testEntry(1), opener)
	require.NoError(t, err)
	b.Append(rec, 0, rec.Duration90k())

	f, err := b.Build()
	require.NoError(t, err)

	full := readAll(t, f)
	_, moovSize := findBox(full, "moov")
	sampleStart := 32 + moovSize + 16

	var buf1 bytes.Buffer
	n, err := f.AddRange(sampleStart-8, sampleStart+8, &buf1)
	require.NoError(t, err)
	assert.Equal(t, int64(16), n)
	assert.Equal(t, full[sampleStart-8:sampleStart+8], buf1.Bytes())

	// Two sub-reads of the same straddling range must agree (P3).
	var bufA, bufB bytes.Buffer
	_, err = f.AddRange(sampleStart-8, sampleStart, &bufA)
	require.NoError(t, err)
	_, err = f.AddRange(sampleStart, sampleStart+8, &bufB)
	require.NoError(t, err)
	assert.Equal(t, buf1.Bytes(), append(bufA.Bytes(), bufB.Bytes()...))
}

func TestBuilder_ETagDependsOnlyOnSamplePosAndSHA1(t *testing.T) {
	opener := newTestOpener()
	opener.put("seg0", make([]byte, 500))

	newRec := func() *recording.Recording {
		return recordingWithFrames("seg0", 1, 0, []recording.Frame{
			{Duration90k: 9000, Bytes: 500, IsKey: true, Start90k: 0},
		}, 500)
	}

	b1, err := NewBuilder(testEntry(1), opener)
	require.NoError(t, err)
	rec1 := newRec()
	b1.Append(rec1, 0, rec1.Duration90k())
	f1, err := b1.Build()
	require.NoError(t, err)

	b2, err := NewBuilder(testEntry(1), opener)
	require.NoError(t, err)
	rec2 := newRec()
	b2.Append(rec2, 0, rec2.Duration90k())
	f2, err := b2.Build()
	require.NoError(t, err)

	assert.Equal(t, f1.ETag(), f2.ETag())

	// Changing sample_file_sha1 changes the ETag.
	b3, err := NewBuilder(testEntry(1), opener)
	require.NoError(t, err)
	rec3 := newRec()
	rec3.SampleFileSHA1[19] = 0xff
	b3.Append(rec3, 0, rec3.Duration90k())
	f3, err := b3.Build()
	require.NoError(t, err)

	assert.NotEqual(t, f1.ETag(), f3.ETag())
}
