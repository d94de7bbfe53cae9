package abc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossyrian/evoswf/internal/abc"
	"github.com/ossyrian/evoswf/internal/swf"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		code    uint16
		payload []byte
		want    *abc.Block
		wantErr error
	}{
		{
			name:    "doabc with name",
			code:    swf.TagDoABC,
			payload: []byte{0x01, 0x00, 0x00, 0x00, 'm', 'a', 'i', 'n', 0x00, 0x10, 0x00, 0x2E, 0x00},
			want: &abc.Block{
				Flags:    1,
				Name:     "main",
				Offset:   9,
				Bytecode: []byte{0x10, 0x00, 0x2E, 0x00},
			},
		},
		{
			name:    "doabc with empty name",
			code:    swf.TagDoABC,
			payload: []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0xAB},
			want:    &abc.Block{Offset: 5, Bytecode: []byte{0xAB}},
		},
		{
			name:    "doabc1 is bytecode only",
			code:    swf.TagDoABC1,
			payload: []byte{0x10, 0x00, 0x2E, 0x00},
			want:    &abc.Block{Bytecode: []byte{0x10, 0x00, 0x2E, 0x00}},
		},
		{
			name:    "unterminated name",
			code:    swf.TagDoABC,
			payload: []byte{0x01, 0x00, 0x00, 0x00, 'm', 'a', 'i', 'n'},
			wantErr: abc.ErrMalformed,
		},
		{
			name:    "too short",
			code:    swf.TagDoABC,
			payload: []byte{0x01, 0x00},
			wantErr: abc.ErrMalformed,
		},
		{
			name:    "not abc",
			code:    swf.TagDefineBinary,
			payload: []byte{0x00},
			wantErr: abc.ErrNotABC,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := abc.Split(tt.code, tt.payload)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBlockLazy(t *testing.T) {
	assert.True(t, (&abc.Block{Flags: 1}).Lazy())
	assert.True(t, (&abc.Block{Flags: 3}).Lazy())
	assert.False(t, (&abc.Block{Flags: 0}).Lazy())
	assert.False(t, (&abc.Block{Flags: 2}).Lazy())
}

func TestVersion(t *testing.T) {
	minor, major, err := abc.Version([]byte{0x10, 0x00, 0x2E, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint16(16), minor)
	assert.Equal(t, uint16(46), major)

	_, _, err = abc.Version([]byte{0x10})
	assert.ErrorIs(t, err, abc.ErrMalformed)
}
