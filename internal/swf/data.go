package swf

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ReadTags walks a bare tag stream starting at offset 0.
// See ReadTagsAt for the stop conditions.
func ReadTags(stream []byte) ([]TagRecord, error) {
	records, _, err := ReadTagsAt(stream, 0)
	return records, err
}

// ReadTagsAt walks the tag records of body starting at start and returns
// them in stream order together with the offset where the walk stopped.
//
// Each record starts with a little-endian uint16: the top 10 bits are the
// tag code, the low 6 bits the length. A length of 0x3F means the true
// length follows as a little-endian uint32.
//
// The walk stops after the End tag (code 0), which is included, or when
// body is exhausted exactly at a record boundary. A record that would run
// past the end of body stops the walk with ErrTruncatedStream; the records
// collected so far are still returned.
func ReadTagsAt(body []byte, start int) (records []TagRecord, stop int, err error) {
	pos := start
	for pos < len(body) {
		remaining := len(body) - pos
		if remaining < ShortHeaderSize {
			return records, pos, fmt.Errorf("%w: %d stray byte(s) at offset %d", ErrTruncatedStream, remaining, pos)
		}

		codeAndLength := binary.LittleEndian.Uint16(body[pos:])
		r := TagRecord{
			Code:       codeAndLength >> 6,
			Length:     uint32(codeAndLength & LongLengthMarker),
			Offset:     pos,
			HeaderSize: ShortHeaderSize,
		}

		if r.Length == LongLengthMarker {
			if remaining < LongHeaderSize {
				return records, pos, fmt.Errorf("%w: long header of tag %d at offset %d cut short", ErrTruncatedStream, r.Code, pos)
			}
			r.Length = binary.LittleEndian.Uint32(body[pos+2:])
			r.HeaderSize = LongHeaderSize
		}

		if uint64(r.Length) > uint64(remaining-r.HeaderSize) {
			return records, pos, fmt.Errorf("%w: tag %d at offset %d declares %d bytes, %d left",
				ErrTruncatedStream, r.Code, pos, r.Length, remaining-r.HeaderSize)
		}

		payloadStart := pos + r.HeaderSize
		r.Payload = body[payloadStart : payloadStart+int(r.Length) : payloadStart+int(r.Length)]

		records = append(records, r)
		pos = r.End()

		if r.IsEnd() {
			break
		}
	}
	return records, pos, nil
}

// EncodeTagHeader returns the record header for a tag. The long form is
// used when length >= 63 or when long is set.
func EncodeTagHeader(code uint16, length uint32, long bool) ([]byte, error) {
	if code > MaxTagCode {
		return nil, fmt.Errorf("tag code %d does not fit in 10 bits", code)
	}

	if length < LongLengthMarker && !long {
		hdr := make([]byte, ShortHeaderSize)
		binary.LittleEndian.PutUint16(hdr, code<<6|uint16(length))
		return hdr, nil
	}

	hdr := make([]byte, LongHeaderSize)
	binary.LittleEndian.PutUint16(hdr, code<<6|LongLengthMarker)
	binary.LittleEndian.PutUint32(hdr[2:], length)
	return hdr, nil
}

// WriteTag appends the framed record to buf. The length is taken from the
// payload; a record that was read in long form keeps the long form.
func WriteTag(buf *bytes.Buffer, r TagRecord) error {
	hdr, err := EncodeTagHeader(r.Code, uint32(len(r.Payload)), r.HeaderSize == LongHeaderSize)
	if err != nil {
		return err
	}
	buf.Write(hdr)
	buf.Write(r.Payload)
	return nil
}

// WriteTags frames records back into a tag stream.
func WriteTags(records []TagRecord) ([]byte, error) {
	var buf bytes.Buffer
	for i, r := range records {
		if err := WriteTag(&buf, r); err != nil {
			return nil, fmt.Errorf("failed to write tag %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// ReadMovieHeader decodes the frame size, rate and count that precede the
// first tag of a decompressed body.
//
// The RECT is bit packed: 5 bits Nbits, then Xmin, Xmax, Ymin, Ymax as
// signed Nbits-wide fields, padded to a byte boundary.
func ReadMovieHeader(body []byte) (*MovieHeader, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrTruncatedStream)
	}

	nbits := int(body[0] >> 3)
	rectBytes := (5 + 4*nbits + 7) / 8
	size := rectBytes + 4
	if len(body) < size {
		return nil, fmt.Errorf("%w: movie header needs %d bytes, body has %d", ErrTruncatedStream, size, len(body))
	}

	br := bitReader{data: body[:rectBytes]}
	br.unsigned(5)

	h := &MovieHeader{
		FrameSize: Rect{
			XMin: br.signed(nbits),
			XMax: br.signed(nbits),
			YMin: br.signed(nbits),
			YMax: br.signed(nbits),
		},
		FrameRate:  float64(binary.LittleEndian.Uint16(body[rectBytes:])) / 256,
		FrameCount: binary.LittleEndian.Uint16(body[rectBytes+2:]),
		Raw:        bytes.Clone(body[:size]),
	}
	return h, nil
}

// bitReader reads MSB-first bit fields. Callers bound the reads by
// sizing data up front.
type bitReader struct {
	data []byte
	pos  int // in bits
}

func (b *bitReader) unsigned(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		bit := (b.data[b.pos/8] >> (7 - uint(b.pos%8))) & 1
		v = v<<1 | uint32(bit)
		b.pos++
	}
	return v
}

func (b *bitReader) signed(n int) int32 {
	v := b.unsigned(n)
	if n > 0 && v&(1<<(n-1)) != 0 {
		v |= ^uint32(0) << n
	}
	return int32(v)
}
