package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ossyrian/evoswf/internal/detect"
	"github.com/ossyrian/evoswf/internal/manifest"
	"github.com/ossyrian/evoswf/internal/parser"
	"github.com/ossyrian/evoswf/internal/swf"
)

var extractCmd = &cobra.Command{
	Use:   "extract <input.swf | dir>",
	Short: "Decrypt every tag of a SWF into a directory with a rebuild manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  extract,
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <manifest.json>",
	Short: "Re-encrypt extracted tags and reassemble the SWF",
	Args:  cobra.ExactArgs(1),
	RunE:  rebuild,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <input.swf>",
	Short: "Print the tag table with encryption verdicts",
	Args:  cobra.ExactArgs(1),
	RunE:  inspect,
}

func init() {
	extractCmd.Flags().StringP("output-dir", "o", "", "directory to extract into (required)")
	extractCmd.MarkFlagRequired("output-dir")
	viper.BindPFlag("output_dir", extractCmd.Flags().Lookup("output-dir"))

	rebuildCmd.Flags().StringP("output", "o", "", "path of the rebuilt SWF (required)")
	rebuildCmd.MarkFlagRequired("output")
	viper.BindPFlag("output", rebuildCmd.Flags().Lookup("output"))
}

// extract runs extraction for a single file or every SWF in a directory
func extract(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	input := args[0]
	isDir, err := afero.IsDir(e.fs, input)
	if err != nil {
		return fmt.Errorf("failed to stat input: %w", err)
	}

	if !isDir {
		slog.Info("extracting file", "input", input, "output_dir", cfg.OutputDir)
		x, err := manifest.ExtractFile(cmd.Context(), e.fs, input, cfg.OutputDir, e.opts)
		if err != nil {
			slog.Error(fmt.Sprintf("error extracting %s", input), "class", swf.ErrorClass(err), "error", err)
			return err
		}
		// A truncated stream is still extracted, but the exit status reports it.
		if w, ok := lo.Find(x.Warnings, isTruncated); ok {
			slog.Error(fmt.Sprintf("incomplete tag stream in %s", input), "class", swf.ErrorClass(w), "error", w)
			return w
		}
		return nil
	}

	results, err := manifest.ExtractDir(cmd.Context(), e.fs, input, cfg.OutputDir, e.opts)
	if err != nil {
		return err
	}

	failed := lo.Filter(results, func(r manifest.BatchResult, _ int) bool { return r.Err != nil || r.Truncated })
	for _, r := range failed {
		if r.Err == nil {
			slog.Error(fmt.Sprintf("incomplete tag stream in %s", r.Input), "class", swf.ErrorClass(swf.ErrTruncatedStream))
			continue
		}
		slog.Error(fmt.Sprintf("error extracting %s", r.Input), "class", swf.ErrorClass(r.Err), "error", r.Err)
	}
	slog.Info("batch complete",
		"files", len(results),
		"failed", len(failed),
		"warnings", lo.SumBy(results, func(r manifest.BatchResult) int { return r.Warnings }),
	)
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d files failed", len(failed), len(results))
	}
	return nil
}

func isTruncated(err error) bool {
	return errors.Is(err, swf.ErrTruncatedStream)
}

// rebuild reassembles a SWF from a manifest and its tag files
func rebuild(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	if err := manifest.RebuildFile(e.fs, args[0], cfg.OutputFile, e.opts); err != nil {
		slog.Error(fmt.Sprintf("error rebuilding %s", args[0]), "class", swf.ErrorClass(err), "error", err)
		return err
	}
	return nil
}

// inspect prints one row per tag without writing any files
func inspect(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	data, err := afero.ReadFile(e.fs, args[0])
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	doc, err := parser.Parse(bytes.NewReader(data), e.opts.Parser, slog.Default().With("file", args[0]))
	if err != nil {
		slog.Error(fmt.Sprintf("error parsing %s", args[0]), "class", swf.ErrorClass(err), "error", err)
		return err
	}
	for _, w := range doc.Warnings {
		fmt.Fprintf(os.Stdout, "warning: %s: %v\n", swf.ErrorClass(w), w)
	}

	infos := e.opts.Classifier.ClassifyAll(doc.Tags, e.opts.Workers)

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s v%d, %s, %d tags\n", doc.Header.Signature[:], doc.Header.Version, doc.Compression, len(doc.Tags))
	fmt.Fprintln(tw, "OFFSET\tCODE\tNAME\tLENGTH\tENTROPY\tMETHOD\tCONFIDENCE\tBASIS")
	for i, tag := range doc.Tags {
		info := infos[i]
		method := "-"
		if info.Encrypted {
			method = info.Scheme()[0].String()
			if len(info.Layers) > 1 {
				method = fmt.Sprint(info.Layers)
			}
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%.2f\t%s\t%.1f\t%s\n",
			tag.Offset, tag.Code, swf.TagName(tag.Code), tag.Length,
			detect.SampleEntropy(tag.Payload), method, info.Confidence, info.Basis)
	}
	return tw.Flush()
}
