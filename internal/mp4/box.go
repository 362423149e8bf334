// Package mp4 assembles virtual, never-materialized ISO/IEC 14496-12 files
// from pre-recorded video segments and serves them by byte range.
package mp4

import "encoding/binary"

// boxHeaderLen is the length in bytes of a plain 32-bit-size Box header
// (size uint32 + 4-byte type), present at the start of every box this
// package emits except mdat.
const boxHeaderLen = 8

// writeBoxHeader writes a zero-sized box header of the given 4-character
// type into buf, which must be at least boxHeaderLen bytes. The size field
// is back-patched later by patchSize once the box's children are known.
func writeBoxHeader(buf []byte, boxType string) {
	binary.BigEndian.PutUint32(buf[0:4], 0)
	copy(buf[4:8], boxType)
}

// patchSize overwrites the 32-bit size field at the start of buf with n.
func patchSize(buf []byte, n int64) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(n))
}

// ftypBox is ISO/IEC 14496-12 section 4.3. Static for every file this
// package produces: major brand isom, compatible with isom/iso2/avc1/mp41.
var ftypBox = []byte{
	0x00, 0x00, 0x00, 0x20, // size = 32
	'f', 't', 'y', 'p',
	'i', 's', 'o', 'm', // major_brand
	0x00, 0x00, 0x02, 0x00, // minor_version
	'i', 's', 'o', 'm',
	'i', 's', 'o', '2',
	'a', 'v', 'c', '1',
	'm', 'p', '4', '1',
}

// vmhdAndDinfBoxes is ISO/IEC 14496-12 sections 12.1.2 (vmhd) and 8.7.1/
// 8.7.2 (dinf/dref/url ), static and self-contained (no external data
// references).
var vmhdAndDinfBoxes = []byte{
	// vmhd
	0x00, 0x00, 0x00, 0x14, // size = 20
	'v', 'm', 'h', 'd',
	0x00, 0x00, 0x00, 0x01, // version=0, flags=1 (required)
	0x00, 0x00, 0x00, 0x00, // graphicsmode, opcolor[0]
	0x00, 0x00, 0x00, 0x00, // opcolor[1], opcolor[2]

	// dinf
	0x00, 0x00, 0x00, 0x24, // size = 36
	'd', 'i', 'n', 'f',
	0x00, 0x00, 0x00, 0x1c, // dref size = 28
	'd', 'r', 'e', 'f',
	0x00, 0x00, 0x00, 0x00, // version, flags
	0x00, 0x00, 0x00, 0x01, // entry_count
	0x00, 0x00, 0x00, 0x0c, // url  size = 12
	'u', 'r', 'l', ' ',
	0x00, 0x00, 0x00, 0x01, // version=0, flags=1 (self-contained)
}

// hdlrBox is ISO/IEC 14496-12 section 8.4.3, a video handler with an
// empty name.
var hdlrBox = []byte{
	0x00, 0x00, 0x00, 0x21, // size = 33
	'h', 'd', 'l', 'r',
	0x00, 0x00, 0x00, 0x00, // version+flags
	0x00, 0x00, 0x00, 0x00, // pre_defined
	'v', 'i', 'd', 'e',
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0x00, // name, NUL-terminated empty string
}

// mvhdBox returns a 108-byte ISO/IEC 14496-12 section 8.2.2 movie header
// (version 0). Its size field is set here, since mvhd has no children.
func mvhdBox(creationTS, durationTS uint32) []byte {
	b := make([]byte, 108)
	writeBoxHeader(b, "mvhd")
	be := binary.BigEndian
	be.PutUint32(b[8:12], 0) // version_and_flags
	be.PutUint32(b[12:16], creationTS)
	be.PutUint32(b[16:20], creationTS)
	be.PutUint32(b[20:24], timeUnitsPerSecond)
	be.PutUint32(b[24:28], durationTS)
	be.PutUint32(b[28:32], 0x00010000) // rate = 1.0
	be.PutUint16(b[32:34], 0x0100)     // volume = 1.0 (NET_INT16_C(0x0100) in the original, kept verbatim)
	// b[34:36] reserved; b[36:44] more_reserved; already zero.
	putIdentityMatrix(b[44:80])
	// b[80:104] pre_defined already zero.
	be.PutUint32(b[104:108], 2) // next_track_id
	patchSize(b, int64(len(b)))
	return b
}

// tkhdBox returns a 92-byte ISO/IEC 14496-12 section 8.3.2 track header
// (version 0). width/height are 16.16 fixed point pixel dimensions.
// Track volume is left at 0 even though mvhd's movie volume is 0x0100;
// this mismatch exists in the source this package is modeled on and is
// preserved rather than "fixed" (see DESIGN.md).
func tkhdBox(creationTS, durationTS uint32, width, height uint16) []byte {
	b := make([]byte, 92)
	writeBoxHeader(b, "tkhd")
	be := binary.BigEndian
	be.PutUint32(b[8:12], 7) // flags: enabled|in_movie|in_preview
	be.PutUint32(b[12:16], creationTS)
	be.PutUint32(b[16:20], creationTS)
	be.PutUint32(b[20:24], 1) // track_id
	// b[24:28] reserved1
	be.PutUint32(b[28:32], durationTS)
	// b[32:40] reserved2[2]
	// b[40:42] layer, b[42:44] alternate_group, b[44:46] volume, b[46:48] reserved3
	putIdentityMatrix(b[48:84])
	be.PutUint32(b[84:88], uint32(width)<<16)
	be.PutUint32(b[88:92], uint32(height)<<16)
	patchSize(b, int64(len(b)))
	return b
}

// putIdentityMatrix writes the nine 32-bit fixed-point identity matrix
// entries shared by mvhd and tkhd: [1,0,0, 0,1,0, 0,0,0x40000000].
func putIdentityMatrix(b []byte) {
	be := binary.BigEndian
	vals := [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	for i, v := range vals {
		be.PutUint32(b[i*4:i*4+4], v)
	}
}

// mdhdBox returns a 32-byte ISO/IEC 14496-12 section 8.4.2 media header
// (version 0), timescale fixed at 90000, language "und" (0x55c4).
func mdhdBox(creationTS, durationTS uint32) []byte {
	b := make([]byte, 32)
	writeBoxHeader(b, "mdhd")
	be := binary.BigEndian
	be.PutUint32(b[8:12], 0)
	be.PutUint32(b[12:16], creationTS)
	be.PutUint32(b[16:20], creationTS)
	be.PutUint32(b[20:24], timeUnitsPerSecond)
	be.PutUint32(b[24:28], durationTS)
	be.PutUint16(b[28:30], 0x55c4)
	be.PutUint16(b[30:32], 0)
	patchSize(b, int64(len(b)))
	return b
}

// stsdHeaderBox returns the 16-byte fixed header of a section 8.5.2
// SampleDescriptionBox (version 0, entry_count=1). The caller appends the
// codec-specific sample entry (e.g. avc1) as a separate slice.
func stsdHeaderBox() []byte {
	b := make([]byte, 16)
	writeBoxHeader(b, "stsd")
	binary.BigEndian.PutUint32(b[8:12], 0)
	binary.BigEndian.PutUint32(b[12:16], 1)
	patchSize(b, int64(len(b)))
	return b
}

// sttsHeaderBox returns the 16-byte fixed header of a stts box with the
// given entry_count; entries themselves are appended separately.
func sttsHeaderBox(entryCount uint32) []byte {
	b := make([]byte, 16)
	writeBoxHeader(b, "stts")
	binary.BigEndian.PutUint32(b[8:12], 0)
	binary.BigEndian.PutUint32(b[12:16], entryCount)
	patchSize(b, int64(len(b)))
	return b
}

// stscHeaderBox returns the 16-byte fixed header of an stsc box.
func stscHeaderBox(entryCount uint32) []byte {
	b := make([]byte, 16)
	writeBoxHeader(b, "stsc")
	binary.BigEndian.PutUint32(b[8:12], 0)
	binary.BigEndian.PutUint32(b[12:16], entryCount)
	patchSize(b, int64(len(b)))
	return b
}

// stszHeaderBox returns the 20-byte fixed header of an stsz box.
// sample_size is always 0 here: per-sample sizes always follow.
func stszHeaderBox(sampleCount uint32) []byte {
	b := make([]byte, 20)
	writeBoxHeader(b, "stsz")
	be := binary.BigEndian
	be.PutUint32(b[8:12], 0)
	be.PutUint32(b[12:16], 0) // sample_size
	be.PutUint32(b[16:20], sampleCount)
	patchSize(b, int64(len(b)))
	return b
}

// co64HeaderBox returns the 16-byte fixed header of a co64 box.
func co64HeaderBox(entryCount uint32) []byte {
	b := make([]byte, 16)
	writeBoxHeader(b, "co64")
	binary.BigEndian.PutUint32(b[8:12], 0)
	binary.BigEndian.PutUint32(b[12:16], entryCount)
	patchSize(b, int64(len(b)))
	return b
}

// stssHeaderBox returns the 16-byte fixed header of an stss box.
func stssHeaderBox(entryCount uint32) []byte {
	b := make([]byte, 16)
	writeBoxHeader(b, "stss")
	binary.BigEndian.PutUint32(b[8:12], 0)
	binary.BigEndian.PutUint32(b[12:16], entryCount)
	patchSize(b, int64(len(b)))
	return b
}

// mdatHeader is the 16-byte section 8.1.1 LargeMediaDataBox header:
// size=1 signals that largesize (the next 8 bytes) holds the real size.
func mdatHeader() []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint32(b[0:4], 1)
	copy(b[4:8], "mdat")
	binary.BigEndian.PutUint64(b[8:16], 0)
	return b
}

// patchMdatLargesize back-patches the largesize field written by
// mdatHeader once the total mdat payload length is known.
func patchMdatLargesize(header []byte, n int64) {
	binary.BigEndian.PutUint64(header[8:16], uint64(n))
}

// openContainerBox appends a zero-sized container box header (moov, trak,
// mdia, minf, stbl) to the slice list and returns the header bytes so the
// caller can patch its size once all children have been appended.
func openContainerBox(list *sliceList, boxType string) []byte {
	b := make([]byte, boxHeaderLen)
	writeBoxHeader(b, boxType)
	list.appendOwned(b)
	return b
}
