// Package manifest extracts SWF files into per-tag payload files plus a
// JSON manifest, and rebuilds SWF files from them.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/ossyrian/evoswf/internal/parser"
	swftypes "github.com/ossyrian/evoswf/internal/types"
)

const (
	// FileName is the manifest's name inside an extraction directory.
	FileName = "manifest.json"
	// TagDir and ScriptDir are relative to the manifest.
	TagDir    = "tags"
	ScriptDir = "scripts"
)

var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest describes an extracted SWF closely enough to rebuild it.
type Manifest struct {
	// Version is the SWF version byte.
	Version     uint8                `json:"version"`
	Compression swftypes.Compression `json:"compression"`
	FileLength  uint32               `json:"file_length"`
	Params      parser.Params        `json:"compression_params"`
	MovieHeader swftypes.HexKey      `json:"movie_header"`
	Trailer     swftypes.HexKey      `json:"trailer"`
	Tags        []Entry              `json:"tags"`
}

// Entry is one tag of the manifest. Path is relative to the manifest and
// slash separated. Length is the payload length as read.
type Entry struct {
	Code       uint16 `json:"code"`
	Name       string `json:"name,omitempty"`
	Offset     int    `json:"offset"`
	Length     uint32 `json:"length"`
	HeaderSize int    `json:"header_size"`
	Path       string `json:"path"`

	Encrypted    bool             `json:"encrypted"`
	Method       swftypes.Method  `json:"method,omitempty"`
	Key          swftypes.HexKey  `json:"key"`
	Mode         swftypes.XORMode `json:"mode,omitempty"`
	Layers       []swftypes.Layer `json:"layers,omitempty"`
	CipherOffset int              `json:"cipher_offset,omitempty"`
	Confidence   float64          `json:"confidence,omitempty"`

	// Script is the extracted bytecode of a DoABC tag, if any.
	Script string `json:"script,omitempty"`
}

// Info returns the encryption verdict recorded for the entry.
func (e *Entry) Info() swftypes.EncryptionInfo {
	if !e.Encrypted {
		return swftypes.Plain(swftypes.BasisNone)
	}
	return swftypes.EncryptionInfo{
		Encrypted:  true,
		Method:     e.Method,
		Key:        e.Key,
		Mode:       e.Mode,
		Layers:     e.Layers,
		HeaderSize: e.CipherOffset,
		Confidence: e.Confidence,
	}
}

// SetInfo records an encryption verdict on the entry.
func (e *Entry) SetInfo(info swftypes.EncryptionInfo) {
	e.Encrypted = info.Encrypted
	if !info.Encrypted {
		return
	}
	e.Method = info.Method
	e.Key = info.Key
	e.Mode = info.Mode
	e.Layers = info.Layers
	e.CipherOffset = info.HeaderSize
	e.Confidence = info.Confidence
}

// TagPath is the deterministic payload path of a tag.
func TagPath(code uint16, offset int) string {
	return path.Join(TagDir, fmt.Sprintf("tag_%d_%d.bin", code, offset))
}

// ScriptPath is the deterministic bytecode path of a DoABC tag.
func ScriptPath(offset int) string {
	return path.Join(ScriptDir, fmt.Sprintf("abc_%d.abc", offset))
}

var requiredFields = []string{"version", "compression", "file_length", "tags"}

// Decode parses and validates a manifest.
func Decode(data []byte) (*Manifest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if missing := lo.Reject(requiredFields, func(f string, _ int) bool { return lo.HasKey(fields, f) }); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields: %s", ErrInvalidManifest, strings.Join(missing, ", "))
	}

	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks entry paths and encryption records.
func (m *Manifest) Validate() error {
	for i, e := range m.Tags {
		if err := validPath(e.Path); err != nil {
			return fmt.Errorf("%w: tag %d: %v", ErrInvalidManifest, i, err)
		}
		if e.Script != "" {
			if err := validPath(e.Script); err != nil {
				return fmt.Errorf("%w: tag %d script: %v", ErrInvalidManifest, i, err)
			}
		}
		if e.HeaderSize != 0 && e.HeaderSize != 2 && e.HeaderSize != 6 {
			return fmt.Errorf("%w: tag %d: header size %d", ErrInvalidManifest, i, e.HeaderSize)
		}
		if !e.Encrypted {
			continue
		}
		switch e.Method {
		case swftypes.MethodXOR, swftypes.MethodRC4:
			if len(e.Key) == 0 {
				return fmt.Errorf("%w: tag %d: %s entry without key", ErrInvalidManifest, i, e.Method)
			}
		case swftypes.MethodMulti:
			if len(e.Layers) == 0 {
				return fmt.Errorf("%w: tag %d: multi entry without layers", ErrInvalidManifest, i)
			}
		default:
			return fmt.Errorf("%w: tag %d: encrypted entry without method", ErrInvalidManifest, i)
		}
		if e.CipherOffset < 0 {
			return fmt.Errorf("%w: tag %d: negative cipher offset", ErrInvalidManifest, i)
		}
	}
	return nil
}

func validPath(p string) error {
	switch {
	case p == "":
		return errors.New("empty path")
	case strings.Contains(p, `\`):
		return fmt.Errorf("path %q is not slash separated", p)
	case path.IsAbs(p):
		return fmt.Errorf("path %q is absolute", p)
	case lo.Contains(strings.Split(p, "/"), ".."):
		return fmt.Errorf("path %q leaves the manifest directory", p)
	}
	return nil
}

// Load reads and validates the manifest at name.
func Load(fs afero.Fs, name string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}

// Save writes the manifest atomically.
func Save(fs afero.Fs, name string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return writeAtomic(fs, name, append(data, '\n'))
}
