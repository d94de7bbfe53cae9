package swf

import (
	swftypes "github.com/ossyrian/evoswf/internal/types"
)

// Header is the fixed part at the start of every SWF file.
type Header struct {
	Signature  [3]byte // "FWS", "CWS" or "ZWS"
	Version    uint8
	FileLength uint32 // declared total length, trusted only for sanity checks

	// CompressedLength is only present in ZWS files.
	CompressedLength uint32
	// LZMAProps holds the 5-byte LZMA properties of a ZWS file.
	LZMAProps [5]byte
}

// Compression maps the signature to a compression method. ok is false for
// an unknown signature.
func (h *Header) Compression() (c swftypes.Compression, ok bool) {
	switch h.Signature {
	case SignatureUncompressed:
		return swftypes.CompressionNone, true
	case SignatureZlib:
		return swftypes.CompressionZlib, true
	case SignatureLZMA:
		return swftypes.CompressionLZMA, true
	}
	return 0, false
}

// Size is the number of bytes preceding the (possibly compressed) body.
func (h *Header) Size() int {
	if h.Signature == SignatureLZMA {
		return LZMAHeaderSize
	}
	return FileHeaderSize
}

// SignatureFor returns the signature written for c.
func SignatureFor(c swftypes.Compression) [3]byte {
	switch c {
	case swftypes.CompressionZlib:
		return SignatureZlib
	case swftypes.CompressionLZMA:
		return SignatureLZMA
	default:
		return SignatureUncompressed
	}
}

// Rect is a SWF RECT in twips.
type Rect struct {
	XMin, XMax, YMin, YMax int32
}

// MovieHeader precedes the tag stream inside the decompressed body.
type MovieHeader struct {
	FrameSize  Rect
	FrameRate  float64 // stored as 8.8 fixed point
	FrameCount uint16

	// Raw is the exact encoded form, kept so rebuilds are byte-identical.
	Raw []byte
}

// TagRecord is one (code, length, payload) record of the tag stream.
type TagRecord struct {
	Code uint16
	// Length is the true payload length regardless of header form.
	Length uint32
	// Offset of the record header within the decompressed body.
	Offset int
	// HeaderSize is 2 for the short form and 6 for the long form.
	HeaderSize int
	Payload    []byte
}

// IsEnd reports whether r terminates the stream.
func (r *TagRecord) IsEnd() bool {
	return r.Code == TagEnd
}

// End returns the offset just past the record.
func (r *TagRecord) End() int {
	return r.Offset + r.HeaderSize + int(r.Length)
}
