package swf_test

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossyrian/evoswf/internal/swf"
	swftypes "github.com/ossyrian/evoswf/internal/types"
)

func randomBytes(seed uint64, n int) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(r.UintN(256))
	}
	return out
}

func TestCryptInvolution(t *testing.T) {
	tests := []struct {
		name   string
		method swftypes.Method
		key    []byte
		data   []byte
	}{
		{"xor single byte", swftypes.MethodXOR, []byte{0x55}, randomBytes(1, 300)},
		{"xor repeating", swftypes.MethodXOR, []byte{0x33, 0xCC, 0x33, 0xCC}, randomBytes(2, 97)},
		{"xor empty data", swftypes.MethodXOR, []byte{0xAA}, []byte{}},
		{"rc4 Evony", swftypes.MethodRC4, []byte("Evony"), randomBytes(3, 1500)},
		{"rc4 EvonyAge2", swftypes.MethodRC4, []byte("EvonyAge2"), randomBytes(4, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once, err := swf.Crypt(tt.data, tt.method, tt.key)
			require.NoError(t, err)
			require.Len(t, once, len(tt.data))

			twice, err := swf.Crypt(once, tt.method, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.data, twice)
		})
	}
}

func TestRC4KnownVector(t *testing.T) {
	got, err := swf.RC4([]byte("Plaintext"), []byte("Key"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xBB, 0xF3, 0x16, 0xE8, 0xD9, 0x40, 0xAF, 0x0A, 0xD3}, got)

	_, err = swf.RC4([]byte("x"), nil)
	assert.Error(t, err)
}

func TestApplyLayersReversal(t *testing.T) {
	layers := []swftypes.Layer{
		{Method: swftypes.MethodXOR, Key: swftypes.HexKey{0x55}},
		{Method: swftypes.MethodRC4, Key: swftypes.HexKey("Evony")},
		{Method: swftypes.MethodXOR, Key: swftypes.HexKey{0x12, 0x34, 0x56}},
	}
	reversed := []swftypes.Layer{layers[2], layers[1], layers[0]}
	data := randomBytes(5, 2048)

	forward, err := swf.ApplyLayers(data, layers, swf.Decrypt)
	require.NoError(t, err)
	assert.NotEqual(t, data, forward)

	back, err := swf.ApplyLayers(forward, reversed, swf.Decrypt)
	require.NoError(t, err)
	assert.Equal(t, data, back)

	// Encrypt walks the same list in reverse.
	sealed, err := swf.ApplyLayers(data, layers, swf.Encrypt)
	require.NoError(t, err)
	opened, err := swf.ApplyLayers(sealed, layers, swf.Decrypt)
	require.NoError(t, err)
	assert.Equal(t, data, opened)
}

func TestRotatingXOR(t *testing.T) {
	got := swf.RotatingXOR([]byte{0, 0, 0, 0, 0}, 0x81)
	assert.Equal(t, []byte{0x81, 0x81, 0x03, 0x03, 0x06}, got)
}

func TestDualKey(t *testing.T) {
	key1, key2 := swf.DualKeyKeys(0)
	assert.Equal(t, []byte{0x00, 0x08, 0xDC, 0x33}, key1[:4])
	assert.Equal(t, []byte{0x55, 0x43, 0xFF, 0xC3}, key2[:4])

	got := swf.DualKeyXOR(make([]byte, 4), 0x100)
	assert.Equal(t, []byte{0x08, 0x62, 0x4D, 0x56}, got)

	data := randomBytes(6, 64)
	assert.Equal(t, data, swf.DualKeyXOR(swf.DualKeyXOR(data, 77), 77))
}

func TestKeyedXOR(t *testing.T) {
	got := swf.KeyedXOR(make([]byte, 4), 0x01020304)
	assert.Equal(t, []byte{0x04, 0x59, 0xAE, 0x03}, got)

	c := swf.XORCipher{Key: []byte{0x01, 0x02, 0x03, 0x04}, Mode: swftypes.XORKeyed}
	out, err := c.Apply(make([]byte, 4), swf.Decrypt)
	require.NoError(t, err)
	assert.Equal(t, got, out)

	_, err = swf.XORCipher{Key: []byte{0x01}, Mode: swftypes.XORKeyed}.Apply(out, swf.Decrypt)
	assert.Error(t, err)
}

func TestWindowXOR(t *testing.T) {
	data := randomBytes(7, 1000)

	sealed := swf.WindowXOR(data, 40, swf.Encrypt)
	assert.NotEqual(t, data, sealed)
	assert.Equal(t, data, swf.WindowXOR(sealed, 40, swf.Decrypt))

	// Not self-inverse once the window wraps.
	assert.NotEqual(t, data, swf.WindowXOR(sealed, 40, swf.Encrypt))
}

func TestSealOpen(t *testing.T) {
	payload := append([]byte{0xAA, 0xBB, 0xCC}, randomBytes(8, 500)...)

	tests := []struct {
		name string
		info swftypes.EncryptionInfo
	}{
		{
			name: "plain",
			info: swftypes.Plain(swftypes.BasisLowEntropy),
		},
		{
			name: "rc4 with header",
			info: swftypes.EncryptionInfo{Encrypted: true, Method: swftypes.MethodRC4, Key: swftypes.HexKey("E2"), HeaderSize: 3},
		},
		{
			name: "multi with window layer",
			info: swftypes.EncryptionInfo{
				Encrypted:  true,
				Method:     swftypes.MethodMulti,
				HeaderSize: 2,
				Layers: []swftypes.Layer{
					{Method: swftypes.MethodXOR, Key: swf.PositionKey(12), Mode: swftypes.XORWindow},
					{Method: swftypes.MethodRC4, Key: swftypes.HexKey("age2")},
				},
			},
		},
		{
			name: "dualkey",
			info: swftypes.EncryptionInfo{Encrypted: true, Method: swftypes.MethodXOR, Key: swf.PositionKey(1 << 20), Mode: swftypes.XORDualKey},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := swf.Seal(payload, tt.info)
			require.NoError(t, err)
			require.Len(t, sealed, len(payload))
			assert.Equal(t, payload[:tt.info.HeaderSize], sealed[:tt.info.HeaderSize])

			opened, err := swf.Open(sealed, tt.info)
			require.NoError(t, err)
			assert.Equal(t, payload, opened)
		})
	}
}

func TestCipherErrors(t *testing.T) {
	tests := []struct {
		name string
		info swftypes.EncryptionInfo
	}{
		{"multi without layers", swftypes.EncryptionInfo{Encrypted: true, Method: swftypes.MethodMulti}},
		{"encrypted without method", swftypes.EncryptionInfo{Encrypted: true}},
		{"empty xor key", swftypes.EncryptionInfo{Encrypted: true, Method: swftypes.MethodXOR}},
		{"offset past payload", swftypes.EncryptionInfo{Encrypted: true, Method: swftypes.MethodXOR, Key: swftypes.HexKey{1}, HeaderSize: 99}},
		{"nested multi", swftypes.EncryptionInfo{Encrypted: true, Method: swftypes.MethodMulti, Layers: []swftypes.Layer{{Method: swftypes.MethodMulti}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := swf.Open(bytes.Repeat([]byte{1}, 10), tt.info)
			assert.Error(t, err)
		})
	}
}
