package swftypes

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Compression identifies how the SWF body is stored on disk.
type Compression int

const (
	CompressionNone Compression = iota // FWS
	CompressionZlib                    // CWS
	CompressionLZMA                    // ZWS
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZlib:
		return "zlib"
	case CompressionLZMA:
		return "lzma"
	default:
		return "unknown"
	}
}

func (c Compression) MarshalText() ([]byte, error) {
	if c < CompressionNone || c > CompressionLZMA {
		return nil, fmt.Errorf("invalid compression %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Compression) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none":
		*c = CompressionNone
	case "zlib":
		*c = CompressionZlib
	case "lzma":
		*c = CompressionLZMA
	default:
		return fmt.Errorf("unknown compression %q", b)
	}
	return nil
}

// Method is the cipher family applied to a tag payload.
type Method int

const (
	MethodNone Method = iota
	MethodXOR
	MethodRC4
	MethodMulti
)

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodXOR:
		return "xor"
	case MethodRC4:
		return "rc4"
	case MethodMulti:
		return "multi"
	default:
		return "unknown"
	}
}

func (m Method) MarshalText() ([]byte, error) {
	if m < MethodNone || m > MethodMulti {
		return nil, fmt.Errorf("invalid method %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none", "":
		*m = MethodNone
	case "xor":
		*m = MethodXOR
	case "rc4":
		*m = MethodRC4
	case "multi":
		*m = MethodMulti
	default:
		return fmt.Errorf("unknown method %q", b)
	}
	return nil
}

// XORMode selects the key schedule of an XOR layer. The zero value is a
// plain repeating key.
type XORMode int

const (
	XORRepeat  XORMode = iota // out[i] = in[i] ^ key[i % len(key)]
	XORRotate                 // key byte rotates left one bit after every second byte
	XORDualKey                // two LCG-derived keys seeded by stream position
	XORKeyed                  // byte(key + i*0x55), key embedded in the tag
	XORWindow                 // 256-byte sliding window with ciphertext feedback
)

func (x XORMode) String() string {
	switch x {
	case XORRepeat:
		return "repeat"
	case XORRotate:
		return "rotate"
	case XORDualKey:
		return "dualkey"
	case XORKeyed:
		return "keyed"
	case XORWindow:
		return "window"
	default:
		return "unknown"
	}
}

func (x XORMode) MarshalText() ([]byte, error) {
	if x < XORRepeat || x > XORWindow {
		return nil, fmt.Errorf("invalid xor mode %d", int(x))
	}
	return []byte(x.String()), nil
}

func (x *XORMode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "repeat", "":
		*x = XORRepeat
	case "rotate":
		*x = XORRotate
	case "dualkey":
		*x = XORDualKey
	case "keyed":
		*x = XORKeyed
	case "window":
		*x = XORWindow
	default:
		return fmt.Errorf("unknown xor mode %q", b)
	}
	return nil
}

// Basis records how a classification was reached.
type Basis int

const (
	BasisNone        Basis = iota
	BasisKnownRule         // tag code is in the known rule table
	BasisEmbeddedKey       // key-derivation marker inside the payload
	BasisHeuristic         // entropy gate plus validated trial decryption
	BasisLowEntropy        // entropy at or below the threshold
	BasisAmbiguous         // high entropy but no candidate validated
)

func (b Basis) String() string {
	switch b {
	case BasisNone:
		return "none"
	case BasisKnownRule:
		return "known-rule"
	case BasisEmbeddedKey:
		return "embedded-key"
	case BasisHeuristic:
		return "heuristic"
	case BasisLowEntropy:
		return "low-entropy"
	case BasisAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// HexKey is a byte key that travels through JSON as a hex string, or null
// when empty.
type HexKey []byte

func (k HexKey) MarshalJSON() ([]byte, error) {
	if len(k) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(hex.EncodeToString(k))
}

func (k *HexKey) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*k = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("key must be a hex string: %w", err)
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex key: %w", err)
	}
	if len(decoded) == 0 {
		decoded = nil
	}
	*k = decoded
	return nil
}

func (k HexKey) String() string {
	if len(k) == 0 {
		return "<nil>"
	}
	return "0x" + hex.EncodeToString(k)
}

// Layer is one cipher step of a multi-layer scheme. Mode only applies to
// XOR layers.
type Layer struct {
	Method Method  `json:"method" msgpack:"method"`
	Key    HexKey  `json:"key" msgpack:"key"`
	Mode   XORMode `json:"mode,omitempty" msgpack:"mode"`
}

func (l Layer) String() string {
	if l.Method == MethodXOR && l.Mode != XORRepeat {
		return fmt.Sprintf("%s/%s(%s)", l.Method, l.Mode, l.Key)
	}
	return fmt.Sprintf("%s(%s)", l.Method, l.Key)
}

// EncryptionInfo is the classifier's verdict for a single tag.
//
// For MethodMulti, Layers is non-empty and is applied in order to decrypt
// and in reverse order to encrypt. HeaderSize bytes at the start of the
// payload are left untouched by the cipher.
type EncryptionInfo struct {
	Encrypted  bool    `msgpack:"encrypted"`
	Method     Method  `msgpack:"method"`
	Key        HexKey  `msgpack:"key"`
	Mode       XORMode `msgpack:"mode"`
	Layers     []Layer `msgpack:"layers"`
	HeaderSize int     `msgpack:"header_size"`
	Confidence float64 `msgpack:"confidence"`
	Basis      Basis   `msgpack:"basis"`

	// Decrypted caches the plaintext of payload[HeaderSize:] produced during
	// classification. Never persisted.
	Decrypted []byte `msgpack:"-"`
}

// Plain returns a verdict for an unencrypted tag.
func Plain(basis Basis) EncryptionInfo {
	return EncryptionInfo{Method: MethodNone, Basis: basis}
}

// Scheme returns the ordered layer list that reproduces this verdict. A
// single-layer verdict yields one layer.
func (e EncryptionInfo) Scheme() []Layer {
	switch {
	case !e.Encrypted:
		return nil
	case e.Method == MethodMulti:
		return e.Layers
	default:
		return []Layer{{Method: e.Method, Key: e.Key, Mode: e.Mode}}
	}
}

func (e EncryptionInfo) String() string {
	if !e.Encrypted {
		return fmt.Sprintf("plain (%s)", e.Basis)
	}
	if e.Method == MethodMulti {
		return fmt.Sprintf("multi%v conf=%.1f (%s)", e.Layers, e.Confidence, e.Basis)
	}
	return fmt.Sprintf("%s conf=%.1f (%s)", Layer{Method: e.Method, Key: e.Key, Mode: e.Mode}, e.Confidence, e.Basis)
}
