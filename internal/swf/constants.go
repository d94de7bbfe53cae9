package swf

import "fmt"

// Signatures for the three SWF container variants.
var (
	SignatureUncompressed = [3]byte{'F', 'W', 'S'}
	SignatureZlib         = [3]byte{'C', 'W', 'S'}
	SignatureLZMA         = [3]byte{'Z', 'W', 'S'}
)

const (
	// FileHeaderSize is signature(3) + version(1) + file length(4).
	FileHeaderSize = 8

	// LZMAHeaderSize adds the compressed length (4) and the LZMA
	// properties (5) that follow the common file header of a ZWS file.
	LZMAHeaderSize = FileHeaderSize + 4 + 5

	// LongLengthMarker in the low 6 bits of a record header means the
	// true length follows as a uint32.
	LongLengthMarker = 0x3F

	ShortHeaderSize = 2
	LongHeaderSize  = 6

	// MaxTagCode is the largest code that fits the 10-bit code field.
	MaxTagCode = 0x3FF
)

// Tag codes referenced by the detection and extraction logic.
const (
	TagEnd          = 0
	TagShowFrame    = 1
	TagSetBgColor   = 9
	TagFileAttrs    = 69
	TagDoABC1       = 72
	TagDoABC        = 82
	TagDefineBinary = 87
)

var tagNames = map[uint16]string{
	0:  "End",
	1:  "ShowFrame",
	2:  "DefineShape",
	4:  "PlaceObject",
	5:  "RemoveObject",
	6:  "DefineBits",
	8:  "JPEGTables",
	9:  "SetBackgroundColor",
	10: "DefineFont",
	11: "DefineText",
	12: "DoAction",
	14: "DefineSound",
	20: "DefineBitsLossless",
	21: "DefineBitsJPEG2",
	22: "DefineShape2",
	26: "PlaceObject2",
	28: "RemoveObject2",
	32: "DefineShape3",
	35: "DefineBitsJPEG3",
	36: "DefineBitsLossless2",
	37: "DefineEditText",
	39: "DefineSprite",
	43: "FrameLabel",
	48: "DefineFont2",
	56: "ExportAssets",
	59: "DoInitAction",
	65: "ScriptLimits",
	69: "FileAttributes",
	70: "PlaceObject3",
	72: "DoABC1",
	75: "DefineFont3",
	76: "SymbolClass",
	77: "Metadata",
	82: "DoABC",
	83: "DefineShape4",
	86: "DefineSceneAndFrameLabelData",
	87: "DefineBinaryData",
	88: "DefineFontName",
	90: "DefineBitsJPEG4",
	91: "DefineFont4",
}

// TagName returns a readable name for code, or "Unknown(<code>)".
func TagName(code uint16) string {
	if name, ok := tagNames[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", code)
}
