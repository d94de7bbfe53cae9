package swf

import (
	"crypto/rc4"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	swftypes "github.com/ossyrian/evoswf/internal/types"
)

// Constants of the position-modulated XOR schemes.
const (
	// DualKeyMultiplier1 and DualKeyMultiplier2 drive the two LCGs of the
	// dual-key scheme: state = state*m + 1 (mod 2^32), key byte = state >> 24.
	DualKeyMultiplier1 = 0x8088405
	DualKeyMultiplier2 = 0x7573
	// DualKeySeedMask is XORed into the stream position to seed the second LCG.
	DualKeySeedMask = 0x55555555
	// DualKeyLength is the length of each derived key.
	DualKeyLength = 16

	// KeyedStep is the per-position increment of the embedded-key scheme.
	KeyedStep = 0x55

	// WindowSize is the sliding window length of the window scheme.
	WindowSize = 256
)

// Direction selects decryption or encryption. Only the window scheme is
// direction dependent; every other transform is its own inverse.
type Direction int

const (
	Decrypt Direction = iota
	Encrypt
)

func (d Direction) String() string {
	if d == Encrypt {
		return "encrypt"
	}
	return "decrypt"
}

var errEmptyKey = errors.New("empty key")

// Cipher is a length-preserving transform over a tag payload. The
// implementations are XORCipher, RC4Cipher and MultiCipher.
type Cipher interface {
	Apply(data []byte, dir Direction) ([]byte, error)
	sealed()
}

// XORCipher is an XOR transform under one of the XORMode key schedules.
type XORCipher struct {
	Key  []byte
	Mode swftypes.XORMode
}

// RC4Cipher is the standard RC4 stream cipher.
type RC4Cipher struct {
	Key []byte
}

// MultiCipher composes layers. Decryption applies them in listed order,
// encryption in reverse order.
type MultiCipher struct {
	Layers []Cipher
}

func (XORCipher) sealed()   {}
func (RC4Cipher) sealed()   {}
func (MultiCipher) sealed() {}

func (c XORCipher) Apply(data []byte, dir Direction) ([]byte, error) {
	if len(c.Key) == 0 {
		return nil, fmt.Errorf("xor/%s: %w", c.Mode, errEmptyKey)
	}

	switch c.Mode {
	case swftypes.XORRepeat:
		return XOR(data, c.Key), nil
	case swftypes.XORRotate:
		return RotatingXOR(data, c.Key[0]), nil
	case swftypes.XORDualKey:
		seed, err := seedLE(c.Key)
		if err != nil {
			return nil, err
		}
		return DualKeyXOR(data, seed), nil
	case swftypes.XORKeyed:
		if len(c.Key) != 4 {
			return nil, fmt.Errorf("xor/keyed: key must be 4 bytes, got %d", len(c.Key))
		}
		return KeyedXOR(data, binary.BigEndian.Uint32(c.Key)), nil
	case swftypes.XORWindow:
		seed, err := seedLE(c.Key)
		if err != nil {
			return nil, err
		}
		return WindowXOR(data, seed, dir), nil
	default:
		return nil, fmt.Errorf("unknown xor mode %d", int(c.Mode))
	}
}

func (c RC4Cipher) Apply(data []byte, _ Direction) ([]byte, error) {
	return RC4(data, c.Key)
}

func (c MultiCipher) Apply(data []byte, dir Direction) ([]byte, error) {
	if len(c.Layers) == 0 {
		return nil, errors.New("multi: no layers")
	}

	order := c.Layers
	if dir == Encrypt {
		order = slices.Clone(c.Layers)
		slices.Reverse(order)
	}

	out := data
	for i, layer := range order {
		var err error
		if out, err = layer.Apply(out, dir); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return out, nil
}

// LayerCipher builds the cipher for a single layer.
func LayerCipher(l swftypes.Layer) (Cipher, error) {
	switch l.Method {
	case swftypes.MethodXOR:
		return XORCipher{Key: l.Key, Mode: l.Mode}, nil
	case swftypes.MethodRC4:
		return RC4Cipher{Key: l.Key}, nil
	default:
		return nil, fmt.Errorf("method %s cannot be used as a layer", l.Method)
	}
}

// CipherFor builds the cipher described by an encryption verdict. It
// returns nil for an unencrypted verdict.
func CipherFor(info swftypes.EncryptionInfo) (Cipher, error) {
	if !info.Encrypted {
		return nil, nil
	}

	switch info.Method {
	case swftypes.MethodXOR, swftypes.MethodRC4:
		return LayerCipher(swftypes.Layer{Method: info.Method, Key: info.Key, Mode: info.Mode})
	case swftypes.MethodMulti:
		if len(info.Layers) == 0 {
			return nil, errors.New("multi: no layers")
		}
		m := MultiCipher{Layers: make([]Cipher, 0, len(info.Layers))}
		for i, l := range info.Layers {
			c, err := LayerCipher(l)
			if err != nil {
				return nil, fmt.Errorf("layer %d: %w", i, err)
			}
			m.Layers = append(m.Layers, c)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("encrypted verdict with method %s", info.Method)
	}
}

// Crypt applies a single-layer XOR or RC4 transform. Both are involutions,
// so the same call decrypts and encrypts.
func Crypt(data []byte, method swftypes.Method, key []byte) ([]byte, error) {
	c, err := LayerCipher(swftypes.Layer{Method: method, Key: key})
	if err != nil {
		return nil, err
	}
	return c.Apply(data, Decrypt)
}

// ApplyLayers runs data through layers: in listed order for Decrypt, in
// reverse order for Encrypt.
func ApplyLayers(data []byte, layers []swftypes.Layer, dir Direction) ([]byte, error) {
	c, err := CipherFor(swftypes.EncryptionInfo{Encrypted: true, Method: swftypes.MethodMulti, Layers: layers})
	if err != nil {
		return nil, err
	}
	return c.Apply(data, dir)
}

// Seal re-encrypts a plaintext tag payload according to info, leaving the
// first info.HeaderSize bytes untouched.
func Seal(payload []byte, info swftypes.EncryptionInfo) ([]byte, error) {
	return transformPayload(payload, info, Encrypt)
}

// Open decrypts a tag payload according to info, leaving the first
// info.HeaderSize bytes untouched.
func Open(payload []byte, info swftypes.EncryptionInfo) ([]byte, error) {
	return transformPayload(payload, info, Decrypt)
}

func transformPayload(payload []byte, info swftypes.EncryptionInfo, dir Direction) ([]byte, error) {
	c, err := CipherFor(info)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return payload, nil
	}
	if info.HeaderSize < 0 || info.HeaderSize > len(payload) {
		return nil, fmt.Errorf("cipher offset %d outside payload of %d bytes", info.HeaderSize, len(payload))
	}

	body, err := c.Apply(payload[info.HeaderSize:], dir)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", dir, info.Method, err)
	}

	out := make([]byte, 0, len(payload))
	out = append(out, payload[:info.HeaderSize]...)
	return append(out, body...), nil
}

// XOR returns data XORed with a repeating key. A one-byte key is the
// single-byte case.
func XOR(data, key []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

// RotatingXOR XORs with key, rotating the key left by one bit after every
// second byte.
func RotatingXOR(data []byte, key byte) []byte {
	out := make([]byte, len(data))
	k := key
	for i, b := range data {
		out[i] = b ^ k
		if i%2 == 1 {
			k = k<<1 | k>>7
		}
	}
	return out
}

// RC4 runs data through an RC4 keystream. Keys must be 1 to 256 bytes.
func RC4(data, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("rc4: %w", errEmptyKey)
	}
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("rc4: %w", err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

// DualKeyKeys derives the two 16-byte keys of the dual-key scheme for a
// stream position.
func DualKeyKeys(position uint32) (key1, key2 [DualKeyLength]byte) {
	s1 := position
	s2 := position ^ DualKeySeedMask
	for i := 0; i < DualKeyLength; i++ {
		s1 = s1*DualKeyMultiplier1 + 1
		key1[i] = byte(s1 >> 24)
		s2 = s2*DualKeyMultiplier2 + 1
		key2[i] = byte(s2 >> 24)
	}
	return key1, key2
}

// DualKeyXOR XORs even positions with key1 and odd positions with key2,
// each key byte offset by the low byte of the absolute stream position.
func DualKeyXOR(data []byte, position uint32) []byte {
	key1, key2 := DualKeyKeys(position)
	out := make([]byte, len(data))
	for i, b := range data {
		k := key2[i%DualKeyLength]
		if i%2 == 0 {
			k = key1[i%DualKeyLength]
		}
		k += byte(position + uint32(i))
		out[i] = b ^ k
	}
	return out
}

// KeyedXOR XORs byte i with byte(key + i*0x55).
func KeyedXOR(data []byte, key uint32) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ byte(key+uint32(i)*KeyedStep)
	}
	return out
}

// WindowXOR is the sliding-window scheme: each byte is XORed with the
// ciphertext byte last stored in its window slot and with the low byte of
// its index, then the ciphertext byte replaces the slot.
func WindowXOR(data []byte, position uint32, dir Direction) []byte {
	var window [WindowSize]byte
	out := make([]byte, len(data))
	for i, b := range data {
		slot := (int(position) + i) % WindowSize
		out[i] = b ^ window[slot] ^ byte(i)
		if dir == Decrypt {
			window[slot] = b
		} else {
			window[slot] = out[i]
		}
	}
	return out
}

func seedLE(key []byte) (uint32, error) {
	if len(key) > 4 {
		return 0, fmt.Errorf("position seed must be at most 4 bytes, got %d", len(key))
	}
	var buf [4]byte
	copy(buf[:], key)
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// PositionKey encodes a stream position as the key of a dualkey or window layer.
func PositionKey(position uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, position)
}
