package swf

import "errors"

var (
	// ErrInvalidFormat is returned when the signature is not FWS, CWS or ZWS,
	// or the file is too short to hold a header. Fatal for the file.
	ErrInvalidFormat = errors.New("invalid SWF format")

	// ErrSizeMismatch reports a declared file length outside the accepted
	// tolerance. Not fatal: the decompressed body is still returned.
	ErrSizeMismatch = errors.New("declared length mismatch")

	// ErrDecompression is returned when zlib or LZMA decoding fails after
	// every retry. Fatal for the file.
	ErrDecompression = errors.New("decompression failed")

	// ErrTruncatedStream reports a tag record running past the end of the
	// body. Not fatal: the records read so far are returned.
	ErrTruncatedStream = errors.New("truncated tag stream")

	// ErrMissingTagFile aborts a rebuild when a payload referenced by the
	// manifest is absent.
	ErrMissingTagFile = errors.New("missing tag file")
)

var errorClasses = []struct {
	err   error
	class string
}{
	{ErrInvalidFormat, "InvalidFormat"},
	{ErrSizeMismatch, "SizeMismatch"},
	{ErrDecompression, "DecompressionError"},
	{ErrTruncatedStream, "TruncatedStream"},
	{ErrMissingTagFile, "MissingTagFile"},
}

// ErrorClass names the taxonomy member found in err's chain, or "Error".
func ErrorClass(err error) string {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.class
		}
	}
	return "Error"
}

// IsFatal reports whether err should abort processing of the current file.
// Size mismatches and truncated streams only degrade the result.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrSizeMismatch) && !errors.Is(err, ErrTruncatedStream)
}
