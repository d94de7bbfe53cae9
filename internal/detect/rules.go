package detect

import (
	"bytes"

	swftypes "github.com/ossyrian/evoswf/internal/types"
)

// Rule is the fixed decryption recipe for a tag code that carries
// Evony-specific encryption.
type Rule struct {
	Name   string
	Method swftypes.Method
	// HeaderSize bytes at the start of the payload are not encrypted.
	HeaderSize int
	// Keys are tried in order for xor and rc4 rules.
	Keys [][]byte
	// Patterns are single-layer schemes with their own key schedule,
	// tried after Keys.
	Patterns []swftypes.Layer
	// Layers are applied in order for multi rules.
	Layers []swftypes.Layer
}

// Classifier confidences.
const (
	ConfidenceEmbeddedKey = 1.0
	ConfidenceKnownRule   = 0.9
	ConfidenceRC4         = 0.8
	ConfidenceXOR         = 0.7
)

// knownRules was observed on Evony client samples.
var knownRules = map[uint16]Rule{
	233: {
		Name:       "Special Data Tag",
		Method:     swftypes.MethodXOR,
		HeaderSize: 2,
		Keys:       [][]byte{{0x55}, {0xAA}, {0xFF}, {0x33}, {0xCC}},
		// pattern types 0, 1 and 2 of the tag header's low nibble
		Patterns: []swftypes.Layer{
			{Method: swftypes.MethodXOR, Key: swftypes.HexKey{0x55}, Mode: swftypes.XORRotate},
			{Method: swftypes.MethodXOR, Key: swftypes.HexKey{0x55, 0xAA}},
			{Method: swftypes.MethodXOR, Key: swftypes.HexKey{0x55, 0xAA, 0x55}},
		},
	},
	396: {
		Name:       "Custom Data Tag",
		Method:     swftypes.MethodRC4,
		HeaderSize: 3,
		Keys:       [][]byte{[]byte("Evony"), []byte("EvonyAge2"), []byte("E2"), []byte("age2")},
	},
	449: {
		Name:       "Multi-Layer Tag",
		Method:     swftypes.MethodMulti,
		HeaderSize: 4,
		Layers: []swftypes.Layer{
			{Method: swftypes.MethodXOR, Key: swftypes.HexKey{0x55}},
			{Method: swftypes.MethodRC4, Key: swftypes.HexKey("Evony")},
		},
	},
}

// RuleFor returns the known rule for code.
func RuleFor(code uint16) (Rule, bool) {
	r, ok := knownRules[code]
	return r, ok
}

// KnownCodes lists the codes with a known rule in ascending order.
func KnownCodes() []uint16 {
	return []uint16{233, 396, 449}
}

// globalKeys are tried under RC4 for high-entropy tags of unknown codes.
var globalKeys = [][]byte{
	[]byte("Evony"),
	[]byte("EvonyAge2"),
	[]byte("E2"),
	[]byte("age2"),
	[]byte("evony_v2"),
}

// xorPatterns are tried after the RC4 keys.
var xorPatterns = [][]byte{
	bytes.Repeat([]byte{0x55}, 16),
	bytes.Repeat([]byte{0xAA}, 16),
	bytes.Repeat([]byte{0xFF}, 16),
	{0x55, 0xAA, 0x55, 0xAA, 0x55, 0xAA, 0x55, 0xAA},
	{0x33, 0xCC, 0x33, 0xCC, 0x33, 0xCC, 0x33, 0xCC},
}

// flashMarkers short-circuit the validity oracle when found in the sample.
// Runs of a single repeated byte are not markers: they would match
// all-zero output.
var flashMarkers = [][]byte{
	[]byte("TCSO"), // SharedObject
	[]byte("TEXP"), // Export
	[]byte("TSYN"), // Symbol
	[]byte("TABC"), // ABC
	[]byte("DefineSprite"),
	[]byte("DefineBits"),
	{0x40, 0x00}, // ABC tag marker
	{0x3C, 0x00}, // sprite marker
}

// embeddedKeyMarker opens a DoABC payload whose key follows as a
// big-endian uint32.
var embeddedKeyMarker = []byte{0xBF, 0x14}

// embeddedKeyHeaderSize is marker(2) + key(4).
const embeddedKeyHeaderSize = 6
