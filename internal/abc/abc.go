// Package abc locates ActionScript bytecode inside DoABC tags and hands it
// to an external disassembler. ABC internals are not parsed here.
package abc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ossyrian/evoswf/internal/swf"
)

var (
	ErrNotABC    = errors.New("not a DoABC tag")
	ErrMalformed = errors.New("malformed DoABC payload")
)

// Block is the decoded layout of a DoABC payload.
type Block struct {
	// Flags and Name are only present in DoABC (82).
	Flags uint32
	Name  string
	// Offset of Bytecode within the payload.
	Offset   int
	Bytecode []byte
}

// Lazy reports the kDoAbcLazyInitializeFlag.
func (b *Block) Lazy() bool {
	return b.Flags&1 != 0
}

// IsABC reports whether code is a DoABC tag code.
func IsABC(code uint16) bool {
	return code == swf.TagDoABC || code == swf.TagDoABC1
}

// Split locates the bytecode of a decrypted DoABC payload. DoABC (82)
// starts with a uint32 flags word and a NUL-terminated name; DoABC1 (72)
// is bytecode only.
func Split(code uint16, payload []byte) (*Block, error) {
	switch code {
	case swf.TagDoABC1:
		return &Block{Bytecode: payload}, nil
	case swf.TagDoABC:
	default:
		return nil, fmt.Errorf("%w: code %d", ErrNotABC, code)
	}

	if len(payload) < 5 {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrMalformed, len(payload))
	}
	b := &Block{Flags: binary.LittleEndian.Uint32(payload)}

	end := bytes.IndexByte(payload[4:], 0)
	if end < 0 {
		return nil, fmt.Errorf("%w: name is not terminated", ErrMalformed)
	}
	b.Name = string(payload[4 : 4+end])
	b.Offset = 4 + end + 1
	b.Bytecode = payload[b.Offset:]
	return b, nil
}

// Version reads the minor and major version that open an ABC file.
func Version(bytecode []byte) (minor, major uint16, err error) {
	if len(bytecode) < 4 {
		return 0, 0, fmt.Errorf("%w: bytecode shorter than its version header", ErrMalformed)
	}
	return binary.LittleEndian.Uint16(bytecode), binary.LittleEndian.Uint16(bytecode[2:]), nil
}

// Result is what a disassembler reports for one ABC block.
type Result struct {
	Classes []string
	Scripts []string
	Errors  []string
}

// Disassembler turns decrypted bytecode into classes and scripts.
// Implementations typically wrap an external tool.
type Disassembler interface {
	Disassemble(ctx context.Context, bytecode []byte) (*Result, error)
}
