package manifest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/ossyrian/evoswf/internal/swf"
)

// BatchResult is the outcome of extracting one file of a directory.
type BatchResult struct {
	Input     string
	OutputDir string
	Tags      int
	Warnings  int
	// Truncated is set when the tag stream ran past the body.
	Truncated bool
	Err       error
}

// ListSWF returns the *.swf files directly inside dir, sorted.
func ListSWF(fsys afero.Fs, dir string) ([]string, error) {
	infos, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var files []string
	for _, fi := range infos {
		if fi.IsDir() || !strings.EqualFold(filepath.Ext(fi.Name()), ".swf") {
			continue
		}
		files = append(files, filepath.Join(dir, fi.Name()))
	}
	slices.Sort(files)
	return files, nil
}

// ExtractDir extracts every SWF in inputDir to outDir/<basename>/, with a
// numeric suffix for base names that differ only in case or extension. A
// failing or panicking file is recorded in its result and the batch moves
// on. Results are sorted by input path.
func ExtractDir(ctx context.Context, fsys afero.Fs, inputDir, outDir string, opts Options) ([]BatchResult, error) {
	opts = opts.withDefaults()

	inputs, err := ListSWF(fsys, inputDir)
	if err != nil {
		return nil, err
	}
	opts.Logger.Info("extracting directory", "input_dir", inputDir, "files", len(inputs))

	// Files run in parallel; tags within a file do not.
	fileOpts := opts
	fileOpts.Workers = 1

	outputs := outputDirs(inputs, outDir)

	p := pool.NewWithResults[BatchResult]().WithMaxGoroutines(opts.Workers)
	for i, input := range inputs {
		p.Go(func() BatchResult {
			return extractOne(ctx, fsys, input, outputs[i], fileOpts)
		})
	}
	results := p.Wait()

	slices.SortFunc(results, func(a, b BatchResult) int {
		return strings.Compare(a.Input, b.Input)
	})
	return results, nil
}

// outputDirs maps each input to outDir/<basename>. Base names that collide,
// ignoring case, get a -2, -3, ... suffix in input order.
func outputDirs(inputs []string, outDir string) []string {
	seen := make(map[string]bool, len(inputs))
	dirs := make([]string, len(inputs))
	for i, input := range inputs {
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		name := base
		for n := 2; ; n++ {
			if !seen[strings.ToLower(name)] {
				break
			}
			name = fmt.Sprintf("%s-%d", base, n)
		}
		seen[strings.ToLower(name)] = true
		dirs[i] = filepath.Join(outDir, name)
	}
	return dirs
}

func extractOne(ctx context.Context, fsys afero.Fs, input, outputDir string, opts Options) BatchResult {
	res := BatchResult{Input: input, OutputDir: outputDir}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	var pc panics.Catcher
	pc.Try(func() {
		x, err := ExtractFile(ctx, fsys, input, res.OutputDir, opts)
		if err != nil {
			res.Err = err
			return
		}
		res.Tags = len(x.Manifest.Tags)
		res.Warnings = len(x.Warnings)
		res.Truncated = lo.ContainsBy(x.Warnings, func(w error) bool {
			return errors.Is(w, swf.ErrTruncatedStream)
		})
	})
	if r := pc.Recovered(); r != nil {
		res.Err = fmt.Errorf("panic while extracting: %w", r.AsError())
	}

	if res.Err != nil {
		opts.Logger.Error("extraction failed", "file", input, "error", res.Err)
	}
	return res
}
