package detect_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossyrian/evoswf/internal/cache"
	"github.com/ossyrian/evoswf/internal/detect"
	"github.com/ossyrian/evoswf/internal/swf"
	swftypes "github.com/ossyrian/evoswf/internal/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// plaintext is low-entropy text that carries Flash markers.
var plaintext = bytes.Repeat([]byte("DefineSprite TCSO evony client frame data; "), 40)

func newClassifier() *detect.Classifier {
	return detect.NewClassifier(detect.Options{Logger: discard})
}

func tag(code uint16, payload []byte) swf.TagRecord {
	return swf.TagRecord{Code: code, Length: uint32(len(payload)), HeaderSize: 6, Offset: 100, Payload: payload}
}

func mustRC4(t *testing.T, data []byte, key string) []byte {
	t.Helper()
	out, err := swf.RC4(data, []byte(key))
	require.NoError(t, err)
	return out
}

func TestClassifyKnownRuleXORScenario(t *testing.T) {
	got := newClassifier().Classify(tag(233, []byte{0xAA, 0xBB, 0x55, 0x55, 0x55, 0x55}))

	assert.True(t, got.Encrypted)
	assert.Equal(t, swftypes.MethodXOR, got.Method)
	assert.Equal(t, swftypes.HexKey{0x55}, got.Key)
	assert.Equal(t, 0.9, got.Confidence)
	assert.Equal(t, 2, got.HeaderSize)
	assert.Equal(t, swftypes.BasisKnownRule, got.Basis)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, got.Decrypted)
}

func TestClassifyKnownRuleRC4(t *testing.T) {
	payload := append([]byte{0x01, 0x02, 0x03}, mustRC4(t, plaintext, "EvonyAge2")...)

	got := newClassifier().Classify(tag(396, payload))

	require.True(t, got.Encrypted)
	assert.Equal(t, swftypes.MethodRC4, got.Method)
	assert.Equal(t, swftypes.HexKey("EvonyAge2"), got.Key)
	assert.Equal(t, 3, got.HeaderSize)
	assert.Equal(t, detect.ConfidenceKnownRule, got.Confidence)
	assert.Equal(t, plaintext, got.Decrypted)
}

func TestClassifyKnownRuleMulti(t *testing.T) {
	rule, ok := detect.RuleFor(449)
	require.True(t, ok)

	info := swftypes.EncryptionInfo{Encrypted: true, Method: swftypes.MethodMulti, Layers: rule.Layers, HeaderSize: 4}
	payload, err := swf.Seal(append([]byte{9, 9, 9, 9}, plaintext...), info)
	require.NoError(t, err)

	got := newClassifier().Classify(tag(449, payload))

	require.True(t, got.Encrypted)
	assert.Equal(t, swftypes.MethodMulti, got.Method)
	assert.Equal(t, rule.Layers, got.Layers)
	assert.Equal(t, 4, got.HeaderSize)
	assert.Equal(t, plaintext, got.Decrypted)
}

func TestClassifyKnownRulePatterns(t *testing.T) {
	// Zero runs keep every single-byte key from validating: each leaves one
	// byte value covering a third or more of the output.
	structured := bytes.Repeat(append([]byte("DefineSprite"), make([]byte, 36)...), 20)

	tests := []struct {
		name string
		key  swftypes.HexKey
		mode swftypes.XORMode
		seal func([]byte) []byte
	}{
		{
			name: "rotating key",
			key:  swftypes.HexKey{0x55},
			mode: swftypes.XORRotate,
			seal: func(b []byte) []byte { return swf.RotatingXOR(b, 0x55) },
		},
		{
			name: "two byte pattern",
			key:  swftypes.HexKey{0x55, 0xAA},
			seal: func(b []byte) []byte { return swf.XOR(b, []byte{0x55, 0xAA}) },
		},
		{
			name: "three byte pattern",
			key:  swftypes.HexKey{0x55, 0xAA, 0x55},
			seal: func(b []byte) []byte { return swf.XOR(b, []byte{0x55, 0xAA, 0x55}) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := append([]byte{0x01, 0x00}, tt.seal(structured)...)

			got := newClassifier().Classify(tag(233, payload))

			require.True(t, got.Encrypted)
			assert.Equal(t, swftypes.MethodXOR, got.Method)
			assert.Equal(t, tt.key, got.Key)
			assert.Equal(t, tt.mode, got.Mode)
			assert.Equal(t, 2, got.HeaderSize)
			assert.Equal(t, detect.ConfidenceKnownRule, got.Confidence)
			assert.Equal(t, structured, got.Decrypted)

			sealed, err := swf.Seal(append([]byte{0x01, 0x00}, got.Decrypted...), got)
			require.NoError(t, err)
			assert.Equal(t, payload, sealed)
		})
	}
}

func TestClassifyKnownRuleHeaderOnly(t *testing.T) {
	got := newClassifier().Classify(tag(233, []byte{0xAA, 0xBB}))
	assert.False(t, got.Encrypted)
	assert.Equal(t, swftypes.BasisKnownRule, got.Basis)
}

func TestClassifyEmbeddedKey(t *testing.T) {
	key := uint32(0xDEADBEEF)
	payload := []byte{0xBF, 0x14}
	payload = binary.BigEndian.AppendUint32(payload, key)
	payload = append(payload, swf.KeyedXOR(plaintext, key)...)

	got := newClassifier().Classify(tag(swf.TagDoABC, payload))

	require.True(t, got.Encrypted)
	assert.Equal(t, swftypes.MethodXOR, got.Method)
	assert.Equal(t, swftypes.XORKeyed, got.Mode)
	assert.Equal(t, swftypes.HexKey{0xDE, 0xAD, 0xBE, 0xEF}, got.Key)
	assert.Equal(t, 6, got.HeaderSize)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, swftypes.BasisEmbeddedKey, got.Basis)
	assert.Equal(t, plaintext, got.Decrypted)

	opened, err := swf.Open(payload, got)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened[6:])
}

func TestClassifyUnknownCode(t *testing.T) {
	// Every byte below 0x80 eight times, so the entropy is exactly 7 bits.
	// XOR with 55 AA keeps even bytes below 0x80 and lifts odd ones above,
	// which spreads the ciphertext over all 256 values.
	halfRange := make([]byte, 1024)
	for i := range halfRange {
		halfRange[i] = byte((i / 2) % 128)
	}
	xored := swf.XOR(halfRange, []byte{0x55, 0xAA})

	tests := []struct {
		name       string
		payload    []byte
		encrypted  bool
		method     swftypes.Method
		key        swftypes.HexKey
		confidence float64
		basis      swftypes.Basis
	}{
		{
			name:    "single repeated byte",
			payload: bytes.Repeat([]byte{0x42}, 1024),
			basis:   swftypes.BasisLowEntropy,
		},
		{
			name:    "plain text",
			payload: plaintext,
			basis:   swftypes.BasisLowEntropy,
		},
		{
			name:    "noise stays unclassified",
			payload: mustRC4(t, make([]byte, 4096), "not-a-known-key"),
			basis:   swftypes.BasisAmbiguous,
		},
		{
			name:       "global rc4 key",
			payload:    mustRC4(t, plaintext, "evony_v2"),
			encrypted:  true,
			method:     swftypes.MethodRC4,
			key:        swftypes.HexKey("evony_v2"),
			confidence: 0.8,
			basis:      swftypes.BasisHeuristic,
		},
		{
			name:       "xor pattern",
			payload:    xored,
			encrypted:  true,
			method:     swftypes.MethodXOR,
			key:        swftypes.HexKey{0x55, 0xAA, 0x55, 0xAA, 0x55, 0xAA, 0x55, 0xAA},
			confidence: 0.7,
			basis:      swftypes.BasisHeuristic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newClassifier().Classify(tag(swf.TagDefineBinary, tt.payload))

			assert.Equal(t, tt.encrypted, got.Encrypted)
			assert.Equal(t, tt.basis, got.Basis)
			if !tt.encrypted {
				assert.Equal(t, swftypes.MethodNone, got.Method)
				assert.Nil(t, got.Decrypted)
				return
			}
			assert.Equal(t, tt.method, got.Method)
			assert.Equal(t, tt.key, got.Key)
			assert.Equal(t, tt.confidence, got.Confidence)
		})
	}

	got := newClassifier().Classify(tag(swf.TagDefineBinary, xored))
	assert.Equal(t, halfRange, got.Decrypted)
}

func TestClassifyEndTag(t *testing.T) {
	got := newClassifier().Classify(swf.TagRecord{Code: swf.TagEnd, Payload: []byte{}})
	assert.False(t, got.Encrypted)
	assert.Equal(t, swftypes.BasisNone, got.Basis)
}

func TestClassifyCache(t *testing.T) {
	mem, err := cache.NewMemory(100, time.Hour)
	require.NoError(t, err)
	defer mem.Close()

	c := detect.NewClassifier(detect.Options{Cache: mem, Logger: discard})
	payload := append([]byte{0x01, 0x02, 0x03}, mustRC4(t, plaintext, "E2")...)

	first := c.Classify(tag(396, payload))
	require.True(t, first.Encrypted)

	stored, ok := mem.Get(c.CacheKey(tag(396, payload)))
	require.True(t, ok)
	assert.Nil(t, stored.Decrypted)
	assert.Equal(t, swftypes.HexKey("E2"), stored.Key)

	second := c.Classify(tag(396, payload))
	assert.Equal(t, first, second)
}

func TestClassifyCacheSeparatesOptions(t *testing.T) {
	mem, err := cache.NewMemory(100, time.Hour)
	require.NoError(t, err)
	defer mem.Close()

	withPos := detect.NewClassifier(detect.Options{Cache: mem, Logger: discard, PositionXOR: true})
	without := detect.NewClassifier(detect.Options{Cache: mem, Logger: discard})

	tg := tag(swf.TagDefineBinary, plaintext)
	require.NotEqual(t, withPos.CacheKey(tg), without.CacheKey(tg))

	// A position-seeded verdict stored by one classifier is invisible to
	// the other.
	mem.Set(withPos.CacheKey(tg), swftypes.EncryptionInfo{
		Encrypted: true,
		Method:    swftypes.MethodXOR,
		Key:       swf.PositionKey(106),
		Mode:      swftypes.XORDualKey,
		Basis:     swftypes.BasisHeuristic,
	})

	got := without.Classify(tg)
	assert.False(t, got.Encrypted)
	assert.Equal(t, swftypes.BasisLowEntropy, got.Basis)

	got = withPos.Classify(tg)
	assert.True(t, got.Encrypted)
	assert.Equal(t, swftypes.XORDualKey, got.Mode)
}

func TestClassifyAllKeepsOrder(t *testing.T) {
	tags := []swf.TagRecord{
		tag(233, []byte{0xAA, 0xBB, 0x55, 0x55, 0x55, 0x55}),
		tag(swf.TagDefineBinary, plaintext),
		tag(396, append([]byte{1, 2, 3}, mustRC4(t, plaintext, "age2")...)),
		{Code: swf.TagEnd, Payload: []byte{}},
	}

	got := newClassifier().ClassifyAll(tags, 4)
	require.Len(t, got, 4)
	assert.Equal(t, swftypes.MethodXOR, got[0].Method)
	assert.False(t, got[1].Encrypted)
	assert.Equal(t, swftypes.HexKey("age2"), got[2].Key)
	assert.False(t, got[3].Encrypted)
}
