package manifest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/ossyrian/evoswf/internal/abc"
	"github.com/ossyrian/evoswf/internal/detect"
	"github.com/ossyrian/evoswf/internal/parser"
	"github.com/ossyrian/evoswf/internal/swf"
)

// Options configures extraction and rebuild.
type Options struct {
	Parser     parser.Options
	Classifier *detect.Classifier
	// Disassembler, if set, receives the bytecode of every DoABC tag.
	Disassembler abc.Disassembler
	// Workers bounds per-tag classification and per-file batch parallelism.
	Workers int
	// DryRun parses and classifies without writing anything.
	DryRun bool
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Classifier == nil {
		o.Classifier = detect.NewClassifier(detect.Options{Logger: o.Logger})
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Extraction is a manifest plus the files it references, keyed by their
// manifest-relative path.
type Extraction struct {
	Manifest *Manifest
	Files    map[string][]byte
	// Warnings are the non-fatal parse errors of the input.
	Warnings []error
}

// Extract parses data, classifies and decrypts every tag, and returns the
// decrypted payload files with the manifest that reverses the process.
func Extract(ctx context.Context, data []byte, opts Options) (*Extraction, error) {
	opts = opts.withDefaults()
	logger := opts.Logger

	doc, err := parser.Parse(bytes.NewReader(data), opts.Parser, logger)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Version:     doc.Header.Version,
		Compression: doc.Compression,
		FileLength:  doc.Header.FileLength,
		Params:      doc.Params,
		Trailer:     doc.Trailer,
		Tags:        make([]Entry, 0, len(doc.Tags)),
	}
	if doc.Movie != nil {
		m.MovieHeader = doc.Movie.Raw
	}
	x := &Extraction{Manifest: m, Files: make(map[string][]byte, len(doc.Tags)), Warnings: doc.Warnings}

	infos := opts.Classifier.ClassifyAll(doc.Tags, opts.Workers)

	encrypted := 0
	for i, tag := range doc.Tags {
		info := infos[i]
		entry := Entry{
			Code:       tag.Code,
			Name:       swf.TagName(tag.Code),
			Offset:     tag.Offset,
			Length:     tag.Length,
			HeaderSize: tag.HeaderSize,
			Path:       TagPath(tag.Code, tag.Offset),
		}
		entry.SetInfo(info)

		plain := tag.Payload
		if info.Encrypted {
			encrypted++
			if info.Decrypted == nil {
				if plain, err = swf.Open(tag.Payload, info); err != nil {
					return nil, fmt.Errorf("failed to decrypt tag at %d: %w", tag.Offset, err)
				}
			} else {
				plain = append(slices.Clone(tag.Payload[:info.HeaderSize]), info.Decrypted...)
			}
		}
		x.Files[entry.Path] = plain

		if abc.IsABC(tag.Code) {
			x.script(ctx, &entry, plain[info.HeaderSize:], opts, logger)
		}

		m.Tags = append(m.Tags, entry)
	}

	logger.Info("classified tags",
		"count", len(doc.Tags),
		"encrypted", encrypted,
	)
	return x, nil
}

// script records the bytecode of a DoABC tag and hands it to the
// disassembler. Failures only cost the script file.
func (x *Extraction) script(ctx context.Context, entry *Entry, payload []byte, opts Options, logger *slog.Logger) {
	block, err := abc.Split(entry.Code, payload)
	if err != nil {
		logger.Warn("cannot locate abc bytecode", "offset", entry.Offset, "error", err)
		return
	}

	entry.Script = ScriptPath(entry.Offset)
	x.Files[entry.Script] = block.Bytecode

	if minor, major, err := abc.Version(block.Bytecode); err == nil {
		logger.Debug("abc block",
			"offset", entry.Offset,
			"name", block.Name,
			"lazy", block.Lazy(),
			"minor", minor,
			"major", major,
		)
	}

	if opts.Disassembler == nil {
		return
	}
	res, err := opts.Disassembler.Disassemble(ctx, block.Bytecode)
	if err != nil {
		logger.Warn("disassembly failed", "offset", entry.Offset, "error", err)
		return
	}
	logger.Info("disassembled abc block",
		"offset", entry.Offset,
		"name", block.Name,
		"classes", len(res.Classes),
		"scripts", len(res.Scripts),
		"errors", len(res.Errors),
	)
}

// ExtractFile extracts input into outDir. Payload files are written first
// and the manifest last, so a manifest implies a complete extraction.
func ExtractFile(ctx context.Context, fs afero.Fs, input, outDir string, opts Options) (*Extraction, error) {
	opts = opts.withDefaults()
	opts.Logger = opts.Logger.With("file", input)

	data, err := afero.ReadFile(fs, input)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	x, err := Extract(ctx, data, opts)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		opts.Logger.Info("dry run, nothing written", "files", len(x.Files))
		return x, nil
	}

	for _, rel := range sortedKeys(x.Files) {
		if err := writeFile(fs, outDir, rel, x.Files[rel]); err != nil {
			return nil, err
		}
	}
	if err := Save(fs, filepath.Join(outDir, FileName), x.Manifest); err != nil {
		return nil, err
	}

	opts.Logger.Info("extracted",
		"output_dir", outDir,
		"tags", len(x.Manifest.Tags),
		"files", len(x.Files),
	)
	return x, nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
