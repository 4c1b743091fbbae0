package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/logger"
	"github.com/jameshyojaelee/omnispatial/metrics"
	"github.com/jameshyojaelee/omnispatial/ngff"
	"github.com/jameshyojaelee/omnispatial/zarr"
)

// ConvertCmd converts one dataset into a bundle.
var ConvertCmd = &cobra.Command{
	Use:   "convert INPUT --out DEST",
	Short: "Convert a dataset into an NGFF bundle",
	Long: `Read INPUT with a registered adapter and write a chunked bundle to DEST.

DEST may be a local path, file://path, s3://bucket/prefix or mem://name.
Flags override the [writer] section of the configuration.

Examples:
  omnispatial convert ./run1 --out run1.zarr
  omnispatial convert ./run1 --out s3://lab-bundles/run1.zarr --compressor lz4
  omnispatial convert ./run1 --out run1.zarr --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	addWriterFlags(ConvertCmd)
	ConvertCmd.Flags().StringP("out", "o", "", "Destination bundle location (required)")
	ConvertCmd.Flags().String("vendor", "", "Adapter name (default: auto-detect)")
	ConvertCmd.Flags().Bool("dry-run", false, "Print the planned arrays and chunk shapes without writing")
	ConvertCmd.Flags().Bool("json", false, "Print the result as JSON")
	ConvertCmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this textfile")
	_ = ConvertCmd.MarkFlagRequired("out")
}

// addWriterFlags registers the flags that override writer options.
func addWriterFlags(cmd *cobra.Command) {
	cmd.Flags().String("format", "", "Bundle format: ngff or spatialdata")
	cmd.Flags().String("image-chunks", "", "Image chunk shape c,y,x (default: automatic)")
	cmd.Flags().String("label-chunks", "", "Label chunk shape y,x (default: automatic)")
	cmd.Flags().String("compressor", "", "Chunk compressor: "+strings.Join(zarr.SupportedCompressors(), ", "))
	cmd.Flags().Int("level", 0, "Compression level 1-9")
	cmd.Flags().Int("pyramid-levels", 0, "Extra 2x downsampled levels per image and label")
}

// writerOptions applies changed writer flags on top of the configuration.
func writerOptions(cmd *cobra.Command) (ngff.Options, error) {
	opts := currentConfig().WriterOptions()
	flags := cmd.Flags()
	if flags.Changed("format") {
		opts.Format, _ = flags.GetString("format")
	}
	if flags.Changed("compressor") {
		opts.Compressor, _ = flags.GetString("compressor")
	}
	if flags.Changed("level") {
		opts.CompressionLevel, _ = flags.GetInt("level")
	}
	if flags.Changed("pyramid-levels") {
		opts.PyramidLevels, _ = flags.GetInt("pyramid-levels")
	}
	if flags.Changed("image-chunks") {
		s, _ := flags.GetString("image-chunks")
		chunks, err := parseChunks(s, 3)
		if err != nil {
			return opts, err
		}
		opts.ImageChunkShape = chunks
	}
	if flags.Changed("label-chunks") {
		s, _ := flags.GetString("label-chunks")
		chunks, err := parseChunks(s, 2)
		if err != nil {
			return opts, err
		}
		opts.LabelChunkShape = chunks
	}
	opts.Format = strings.ToLower(opts.Format)
	return opts, opts.Validate()
}

func runConvert(cmd *cobra.Command, args []string) error {
	input := args[0]
	out, _ := cmd.Flags().GetString("out")
	vendor, _ := cmd.Flags().GetString("vendor")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	metricsFile, _ := cmd.Flags().GetString("metrics-file")

	opts, err := writerOptions(cmd)
	if err != nil {
		return err
	}
	reg, err := newRegistry()
	if err != nil {
		return err
	}
	ctx := logger.WithRunID(cmd.Context(), uuid.NewString())

	if dryRun {
		ds, _, err := reg.Read(ctx, input, vendor)
		if err != nil {
			return err
		}
		plan, err := ngff.DryRun(ctx, ds, opts)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, plan)
		}
		return renderPlan(cmd, plan)
	}

	rec := metrics.New()
	defer writeMetrics(rec, metricsFile)

	cat := openCatalog(ctx)
	if cat != nil {
		defer cat.Close()
	}

	result, err := convert(ctx, reg, input, out, vendor, opts, rec)
	recordConversion(ctx, cat, result, err)
	if err != nil {
		return errors.Wrapf(err, "convert %s", input)
	}

	if jsonOutput {
		return printJSON(cmd, result)
	}
	pterm.Success.Printfln("Wrote %s", result.Location)
	return renderConversion(cmd, result)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "format JSON")
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
