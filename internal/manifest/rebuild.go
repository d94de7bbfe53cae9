package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/ossyrian/evoswf/internal/parser"
	"github.com/ossyrian/evoswf/internal/swf"
)

// Lookup returns the content of a manifest-relative payload file. A
// missing file is reported with an error wrapping fs.ErrNotExist.
type Lookup func(rel string) ([]byte, error)

// DirLookup reads payload files relative to dir.
func DirLookup(fsys afero.Fs, dir string) Lookup {
	return func(rel string) ([]byte, error) {
		return afero.ReadFile(fsys, filepath.Join(dir, filepath.FromSlash(rel)))
	}
}

// MapLookup serves payload files from memory.
func MapLookup(files map[string][]byte) Lookup {
	return func(rel string) ([]byte, error) {
		data, ok := files[rel]
		if !ok {
			return nil, fmt.Errorf("%s: %w", rel, fs.ErrNotExist)
		}
		return data, nil
	}
}

// Rebuild re-encrypts every payload with its recorded scheme, frames the
// tags in manifest order and compresses the result. Any missing payload
// aborts the rebuild with ErrMissingTagFile.
func Rebuild(m *Manifest, lookup Lookup, opts parser.Options) ([]byte, error) {
	doc := &parser.Document{
		Movie:   &swf.MovieHeader{Raw: m.MovieHeader},
		Tags:    make([]swf.TagRecord, 0, len(m.Tags)),
		Trailer: m.Trailer,
	}

	for i := range m.Tags {
		e := &m.Tags[i]

		payload, err := lookup(e.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", swf.ErrMissingTagFile, e.Path)
			}
			return nil, fmt.Errorf("failed to read %s: %w", e.Path, err)
		}

		sealed, err := swf.Seal(payload, e.Info())
		if err != nil {
			return nil, fmt.Errorf("failed to re-encrypt %s: %w", e.Path, err)
		}

		doc.Tags = append(doc.Tags, swf.TagRecord{
			Code:       e.Code,
			Length:     uint32(len(sealed)),
			HeaderSize: e.HeaderSize,
			Payload:    sealed,
		})
	}

	body, err := doc.Encode()
	if err != nil {
		return nil, err
	}
	return parser.Compress(body, m.Version, m.Compression, m.Params, opts)
}

// RebuildFile rebuilds the manifest at manifestPath into output. Payload
// paths resolve against the manifest's directory. output is replaced
// atomically and left untouched on failure.
func RebuildFile(fsys afero.Fs, manifestPath, output string, opts Options) error {
	opts = opts.withDefaults()
	logger := opts.Logger.With("manifest", manifestPath)

	m, err := Load(fsys, manifestPath)
	if err != nil {
		return err
	}

	data, err := Rebuild(m, DirLookup(fsys, filepath.Dir(manifestPath)), opts.Parser)
	if err != nil {
		return err
	}
	if opts.DryRun {
		logger.Info("dry run, nothing written", "size", len(data))
		return nil
	}

	if err := writeAtomic(fsys, output, data); err != nil {
		return err
	}
	logger.Info("rebuilt",
		"output", output,
		"compression", m.Compression,
		"tags", len(m.Tags),
		"size", len(data),
	)
	return nil
}
