// Package recording owns the Recording and VideoSampleEntry data types and
// the codec for a recording's compact per-frame sample index — the
// external collaborators spec.md describes as the recording database and
// the sample-index decoder.
package recording

// Recording is one immutable pre-recorded video segment's catalog entry,
// per spec.md §3.
type Recording struct {
	SampleFileUUID     string
	SampleFileSHA1     [20]byte
	SampleFileBytes    int64
	VideoSamples       int32
	VideoSyncSamples   int32
	StartTime90k       int64
	EndTime90k         int64
	VideoSampleEntryID int64
	VideoIndex         []byte
}

// Duration90k is the recording's total duration in 90kHz ticks.
func (r *Recording) Duration90k() int64 {
	return r.EndTime90k - r.StartTime90k
}

// VideoSampleEntry is the shared codec initialization record every
// segment appended to one Mp4File must agree on (spec.md invariant I1).
type VideoSampleEntry struct {
	ID     int64
	SHA1   [20]byte
	Width  uint16
	Height uint16
	// Data is the raw bytes of the stsd child entry (e.g. an avc1 box
	// with its avcC configuration), copied verbatim into the output.
	Data []byte
}
