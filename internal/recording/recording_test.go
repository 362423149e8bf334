package recording

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecording_Duration90k(t *testing.T) {
	r := &Recording{StartTime90k: 1000, EndTime90k: 4600}
	assert.Equal(t, int64(3600), r.Duration90k())
}

func TestFrame_End90k(t *testing.T) {
	f := Frame{Start90k: 100, Duration90k: 50}
	assert.Equal(t, int64(150), f.End90k())
}

func TestEncodeDecodeVideoIndex_RoundTrip(t *testing.T) {
	frames := []Frame{
		{Duration90k: 3000, Bytes: 1000, IsKey: true, Start90k: 0},
		{Duration90k: 3000, Bytes: 200, IsKey: false, Start90k: 3000},
		{Duration90k: 3000, Bytes: 150, IsKey: false, Start90k: 6000},
		{Duration90k: 3000, Bytes: 900, IsKey: true, Start90k: 9000},
	}
	encoded := EncodeVideoIndex(frames)

	it := NewSampleIndexIterator(encoded)
	var got []Frame
	var positions []int64
	for !it.Done() {
		got = append(got, Frame{
			Duration90k: it.Duration90k(),
			Bytes:       it.Bytes(),
			IsKey:       it.IsKey(),
			Start90k:    it.Start90k(),
		})
		positions = append(positions, it.Pos())
		it.Next()
	}
	require.NoError(t, it.Err())
	require.Equal(t, frames, got)

	// Pos() at each frame is the byte offset where that frame's sample
	// data begins, not where it ends.
	assert.Equal(t, []int64{0, 1000, 1200, 1350}, positions)

	// Once exhausted, Pos() reports the total bytes consumed.
	assert.Equal(t, int64(1000+200+150+900), it.Pos())
}

func TestSampleIndexIterator_EmptyIndex(t *testing.T) {
	it := NewSampleIndexIterator(nil)
	assert.True(t, it.Done())
	assert.NoError(t, it.Err())
	assert.Equal(t, int64(0), it.Pos())
}

func TestSampleIndexIterator_CorruptIndex(t *testing.T) {
	// A flags byte with no following varints at all.
	it := NewSampleIndexIterator([]byte{0x01})
	assert.True(t, it.Done())
	assert.Error(t, it.Err())
}

func TestSampleIndexIterator_SingleFrame(t *testing.T) {
	frames := []Frame{{Duration90k: 9000, Bytes: 500, IsKey: true, Start90k: 0}}
	it := NewSampleIndexIterator(EncodeVideoIndex(frames))

	require.False(t, it.Done())
	assert.Equal(t, int64(0), it.Pos())
	assert.True(t, it.IsKey())
	assert.Equal(t, int32(500), it.Bytes())
	assert.Equal(t, int64(9000), it.End90k())

	it.Next()
	assert.True(t, it.Done())
	assert.Equal(t, int64(500), it.Pos())
	assert.NoError(t, it.Err())
}
