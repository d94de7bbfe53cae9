package parser

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz/lzma"

	"github.com/ossyrian/evoswf/internal/swf"
	swftypes "github.com/ossyrian/evoswf/internal/types"
)

// Known working zlib parameters for Evony SWF files.
const (
	DefaultWindowBits = 15
	DefaultMemLevel   = 8
)

// LengthField selects what the rebuilt header's length field declares.
type LengthField int

const (
	// LengthOnDisk declares the on-disk size of the rebuilt file.
	LengthOnDisk LengthField = iota
	// LengthUncompressed declares header + uncompressed body, as the Flash
	// player expects.
	LengthUncompressed
)

// ParseLengthField converts a config value ("disk" or "body").
func ParseLengthField(s string) (LengthField, error) {
	switch s {
	case "", "disk":
		return LengthOnDisk, nil
	case "body":
		return LengthUncompressed, nil
	default:
		return 0, fmt.Errorf("unknown length field %q (want disk or body)", s)
	}
}

// Options tune the codec.
type Options struct {
	// ToleranceMin and ToleranceMax bound the ratio of the actual body
	// length to the declared length minus the file header.
	ToleranceMin float64
	ToleranceMax float64

	LengthField LengthField
}

// DefaultOptions returns the 0.5x to 2x tolerance band observed for Evony
// producers.
func DefaultOptions() Options {
	return Options{ToleranceMin: 0.5, ToleranceMax: 2.0}
}

// Params are the compression parameters recorded at decompress time and
// reused when compressing. Nil fields are unknown.
type Params struct {
	WindowBits *int `json:"window_bits"`
	MemLevel   *int `json:"mem_level"`
}

func intPtr(v int) *int { return &v }

// inflateZlib decodes a CWS body. The standard zlib reader is tried first;
// some producer tools emit a non-standard zlib header or checksum, so the
// raw DEFLATE stream after the 2-byte header is tried next.
func inflateZlib(raw []byte) ([]byte, Params, error) {
	params := Params{WindowBits: intPtr(DefaultWindowBits), MemLevel: intPtr(DefaultMemLevel)}
	if len(raw) >= 2 && raw[0]&0x0F == 8 {
		params.WindowBits = intPtr(int(raw[0]>>4) + 8)
	}

	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err == nil {
		body, readErr := io.ReadAll(zr)
		zr.Close()
		if readErr == nil {
			return body, params, nil
		}
		err = readErr
	}

	if len(raw) < 2 {
		return nil, Params{}, fmt.Errorf("%w: zlib stream of %d bytes: %v", swf.ErrDecompression, len(raw), err)
	}

	fr := flate.NewReader(bytes.NewReader(raw[2:]))
	defer fr.Close()
	body, rawErr := io.ReadAll(fr)
	if rawErr != nil {
		return nil, Params{}, fmt.Errorf("%w: zlib: %v; raw deflate (window bits %d, mem level %d): %v",
			swf.ErrDecompression, err, DefaultWindowBits, DefaultMemLevel, rawErr)
	}
	params.WindowBits = intPtr(DefaultWindowBits)
	return body, params, nil
}

// unknownSize in an LZMA header lets the decoder run until an EOS marker
// or the end of the input.
const unknownSize = ^uint64(0)

// maxLZMAOverrun bounds the bytes a decoder can emit past the real end of
// a stream written without an EOS marker: one literal or match.
const maxLZMAOverrun = 273

// inflateLZMA decodes a ZWS body. SWF stores the 5 LZMA property bytes
// without the 8-byte uncompressed size of the .lzma container, so the
// container header is rebuilt with an unknown size. Streams written
// without an EOS marker end when the input runs out; what was decoded up
// to that point is the body. The declared length only trims a decoder
// overrun of at most one operation.
func inflateLZMA(h *swf.Header, raw []byte) ([]byte, error) {
	hdr := make([]byte, 13)
	copy(hdr, h.LZMAProps[:])
	binary.LittleEndian.PutUint64(hdr[5:], unknownSize)

	input := bytes.NewReader(raw)
	lr, err := lzma.NewReader(io.MultiReader(bytes.NewReader(hdr), input))
	if err != nil {
		return nil, fmt.Errorf("%w: lzma: %w", swf.ErrDecompression, err)
	}

	var buf bytes.Buffer
	_, err = io.Copy(&buf, lr)
	switch {
	case err == nil:
		return buf.Bytes(), nil
	case !errors.Is(err, io.ErrUnexpectedEOF) || input.Len() > 0 || buf.Len() == 0:
		return nil, fmt.Errorf("%w: lzma: %w", swf.ErrDecompression, err)
	}

	body := buf.Bytes()
	if declared := int64(h.FileLength) - swf.FileHeaderSize; declared > 0 {
		if over := int64(len(body)) - declared; over > 0 && over <= maxLZMAOverrun {
			body = body[:declared]
		}
	}
	return body, nil
}

// checkSize compares the decompressed body against the declared length.
func checkSize(h *swf.Header, bodyLen int, opts Options) error {
	expected := int64(h.FileLength) - swf.FileHeaderSize
	if expected <= 0 {
		return fmt.Errorf("%w: declared length %d leaves no body, got %d bytes", swf.ErrSizeMismatch, h.FileLength, bodyLen)
	}
	ratio := float64(bodyLen) / float64(expected)
	if ratio < opts.ToleranceMin || ratio > opts.ToleranceMax {
		return fmt.Errorf("%w: body is %d bytes, declared %d (ratio %.2f outside %.2f-%.2f)",
			swf.ErrSizeMismatch, bodyLen, expected, ratio, opts.ToleranceMin, opts.ToleranceMax)
	}
	return nil
}

// Compress rebuilds a complete SWF file around body using the given
// method, at maximum compression, with the parameters recorded when the
// original was decompressed. The header is computed fresh.
func Compress(body []byte, version uint8, method swftypes.Compression, params Params, opts Options) ([]byte, error) {
	var (
		payload []byte
		h       = swf.Header{Signature: swf.SignatureFor(method), Version: version}
	)

	switch method {
	case swftypes.CompressionNone:
		payload = body

	case swftypes.CompressionZlib:
		warnParams(params)

		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib writer: %w", err)
		}
		if _, err := zw.Write(body); err != nil {
			return nil, fmt.Errorf("failed to zlib compress body: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("failed to finish zlib stream: %w", err)
		}
		payload = buf.Bytes()

	case swftypes.CompressionLZMA:
		var buf bytes.Buffer
		cfg := lzma.WriterConfig{
			Properties: &lzma.Properties{LC: 3, LP: 0, PB: 2},
			DictCap:    1 << 23,
			EOSMarker:  true,
		}
		lw, err := cfg.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("failed to create lzma writer: %w", err)
		}
		if _, err := lw.Write(body); err != nil {
			return nil, fmt.Errorf("failed to lzma compress body: %w", err)
		}
		if err := lw.Close(); err != nil {
			return nil, fmt.Errorf("failed to finish lzma stream: %w", err)
		}

		// .lzma container: props(5) size(8) data
		out := buf.Bytes()
		if len(out) < 13 {
			return nil, fmt.Errorf("lzma writer produced %d bytes", len(out))
		}
		copy(h.LZMAProps[:], out[:5])
		payload = out[13:]
		h.CompressedLength = uint32(len(payload))

	default:
		return nil, fmt.Errorf("unsupported compression %s", method)
	}

	total := h.Size() + len(payload)
	if opts.LengthField == LengthUncompressed {
		h.FileLength = uint32(swf.FileHeaderSize + len(body))
	} else {
		h.FileLength = uint32(total)
	}

	out := make([]byte, 0, total)
	out = append(out, encodeHeader(&h)...)
	return append(out, payload...), nil
}

// warnParams reports recorded zlib parameters the DEFLATE encoder cannot
// reproduce: it always writes a 15-bit window with its own memory use.
func warnParams(params Params) {
	if params.WindowBits != nil && *params.WindowBits != DefaultWindowBits {
		slog.Warn("zlib stream will use a different window size than the original",
			"recorded_window_bits", *params.WindowBits,
			"window_bits", DefaultWindowBits,
		)
	}
	if params.MemLevel != nil && *params.MemLevel != DefaultMemLevel {
		slog.Warn("zlib stream will use a different memory level than the original",
			"recorded_mem_level", *params.MemLevel,
			"mem_level", DefaultMemLevel,
		)
	}
}

func encodeHeader(h *swf.Header) []byte {
	out := make([]byte, 0, h.Size())
	out = append(out, h.Signature[:]...)
	out = append(out, h.Version)
	out = binary.LittleEndian.AppendUint32(out, h.FileLength)
	if h.Signature == swf.SignatureLZMA {
		out = binary.LittleEndian.AppendUint32(out, h.CompressedLength)
		out = append(out, h.LZMAProps[:]...)
	}
	return out
}
