package parser

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ossyrian/evoswf/internal/swf"
	swftypes "github.com/ossyrian/evoswf/internal/types"
)

// SwfReader reads information from SWF files.
type SwfReader struct {
	file   io.ReadSeeker
	opts   Options
	logger *slog.Logger
	header *swf.Header // SWF file header
}

// NewReader returns a reader over file. A nil logger uses slog.Default.
func NewReader(file io.ReadSeeker, opts Options, logger *slog.Logger) *SwfReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SwfReader{file: file, opts: opts, logger: logger}
}

// Document is a decoded SWF file: header, decompressed body and the tag
// records found in it.
type Document struct {
	Header      swf.Header
	Compression swftypes.Compression
	Params      Params

	// Body is the whole decompressed body (movie header, tags, trailer).
	Body  []byte
	Movie *swf.MovieHeader
	Tags  []swf.TagRecord
	// Trailer holds any bytes after the End tag, or the unparsed tail of a
	// truncated stream.
	Trailer []byte

	// Warnings collects the non-fatal errors hit while parsing
	// (ErrSizeMismatch, ErrTruncatedStream).
	Warnings []error
}

// ReadHeader reads header information from a SWF file.
// This function will read at least 8 bytes of data (17 for ZWS),
// and will raise ErrInvalidFormat if the first 3 bytes read
// are not one of the known signatures.
func (r *SwfReader) ReadHeader() (*swf.Header, error) {
	h := &swf.Header{}

	if _, err := io.ReadFull(r.file, h.Signature[:]); err != nil {
		return nil, fmt.Errorf("%w: failed to read signature: %v", swf.ErrInvalidFormat, err)
	}
	if _, ok := h.Compression(); !ok {
		return nil, fmt.Errorf("%w: unknown signature %q", swf.ErrInvalidFormat, h.Signature[:])
	}

	if err := binary.Read(r.file, binary.LittleEndian, &h.Version); err != nil {
		return nil, fmt.Errorf("%w: failed to read version: %v", swf.ErrInvalidFormat, err)
	}

	if err := binary.Read(r.file, binary.LittleEndian, &h.FileLength); err != nil {
		return nil, fmt.Errorf("%w: failed to read file length: %v", swf.ErrInvalidFormat, err)
	}

	if h.Signature == swf.SignatureLZMA {
		if err := binary.Read(r.file, binary.LittleEndian, &h.CompressedLength); err != nil {
			return nil, fmt.Errorf("%w: failed to read compressed length: %v", swf.ErrInvalidFormat, err)
		}
		if _, err := io.ReadFull(r.file, h.LZMAProps[:]); err != nil {
			return nil, fmt.Errorf("%w: failed to read lzma properties: %v", swf.ErrInvalidFormat, err)
		}
	}

	r.logger.Info("header is valid",
		"signature", string(h.Signature[:]),
		"version", h.Version,
		"file_length", h.FileLength,
	)

	r.header = h
	return h, nil
}

// ReadBody reads and decompresses everything after the header. The body is
// returned together with ErrSizeMismatch when the declared length is
// outside the tolerance band; any other error leaves body nil.
func (r *SwfReader) ReadBody() (body []byte, params Params, err error) {
	if r.header == nil {
		if _, err := r.ReadHeader(); err != nil {
			return nil, Params{}, err
		}
	}
	h := r.header

	raw, err := io.ReadAll(r.file)
	if err != nil {
		return nil, Params{}, fmt.Errorf("failed to read body: %w", err)
	}

	compression, _ := h.Compression()
	switch compression {
	case swftypes.CompressionNone:
		body = raw
	case swftypes.CompressionZlib:
		body, params, err = inflateZlib(raw)
	case swftypes.CompressionLZMA:
		if int(h.CompressedLength) < len(raw) {
			r.logger.Debug("ignoring bytes after lzma stream",
				"compressed_length", h.CompressedLength,
				"available", len(raw),
			)
		}
		body, err = inflateLZMA(h, raw)
	}
	if err != nil {
		return nil, Params{}, err
	}

	r.logger.Debug("decompressed body",
		"compression", compression,
		"stored", len(raw),
		"body", len(body),
	)

	if sizeErr := checkSize(h, len(body), r.opts); sizeErr != nil {
		r.logger.Warn("declared length outside tolerance", "error", sizeErr)
		return body, params, sizeErr
	}
	return body, params, nil
}

// Parse decodes a complete SWF file: header, body, movie header and tags.
// Fatal errors (ErrInvalidFormat, ErrDecompression, I/O) return a nil
// Document. Non-fatal problems are collected in Document.Warnings.
func Parse(file io.ReadSeeker, opts Options, logger *slog.Logger) (*Document, error) {
	reader := NewReader(file, opts, logger)

	h, err := reader.ReadHeader()
	if err != nil {
		return nil, err
	}

	doc := &Document{Header: *h}
	doc.Compression, _ = h.Compression()

	doc.Body, doc.Params, err = reader.ReadBody()
	if err != nil {
		if swf.IsFatal(err) {
			return nil, err
		}
		doc.Warnings = append(doc.Warnings, err)
	}

	doc.Movie, err = swf.ReadMovieHeader(doc.Body)
	if err != nil {
		reader.logger.Warn("no movie header", "error", err)
		doc.Warnings = append(doc.Warnings, err)
		doc.Trailer = doc.Body
		return doc, nil
	}

	reader.logger.Debug("read movie header",
		"frame_rate", doc.Movie.FrameRate,
		"frame_count", doc.Movie.FrameCount,
		"width_twips", doc.Movie.FrameSize.XMax-doc.Movie.FrameSize.XMin,
		"height_twips", doc.Movie.FrameSize.YMax-doc.Movie.FrameSize.YMin,
	)

	var stop int
	doc.Tags, stop, err = swf.ReadTagsAt(doc.Body, len(doc.Movie.Raw))
	if err != nil {
		reader.logger.Warn("tag stream truncated",
			"records", len(doc.Tags),
			"error", err,
		)
		doc.Warnings = append(doc.Warnings, err)
	}
	doc.Trailer = doc.Body[stop:]

	if n := len(doc.Tags); n == 0 || !doc.Tags[n-1].IsEnd() {
		reader.logger.Debug("tag stream has no End tag", "records", n)
	}

	reader.logger.Info("read tags",
		"count", len(doc.Tags),
		"trailer", len(doc.Trailer),
	)

	return doc, nil
}

// Decompress decodes a whole SWF file held in memory and returns its
// body. err may be ErrSizeMismatch alongside a usable body.
func Decompress(data []byte, opts Options) (body []byte, h *swf.Header, params Params, err error) {
	reader := NewReader(bytes.NewReader(data), opts, slog.Default())
	if h, err = reader.ReadHeader(); err != nil {
		return nil, nil, Params{}, err
	}
	body, params, err = reader.ReadBody()
	if err != nil && !errors.Is(err, swf.ErrSizeMismatch) {
		return nil, h, Params{}, err
	}
	return body, h, params, err
}

// Encode reassembles a Document's body from its movie header, tags and
// trailer. Tags are framed with the long form whenever they were read in
// long form or their length is at least 63.
func (d *Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if d.Movie != nil {
		buf.Write(d.Movie.Raw)
	}
	for i, t := range d.Tags {
		if err := swf.WriteTag(&buf, t); err != nil {
			return nil, fmt.Errorf("failed to write tag %d: %w", i, err)
		}
	}
	buf.Write(d.Trailer)
	return buf.Bytes(), nil
}
