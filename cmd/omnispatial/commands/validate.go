package commands

import (
	"encoding/json"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/jameshyojaelee/omnispatial/catalog"
	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/logger"
	"github.com/jameshyojaelee/omnispatial/metrics"
	"github.com/jameshyojaelee/omnispatial/ngff"
	"github.com/jameshyojaelee/omnispatial/validate"
)

// ValidateCmd checks a bundle and exits 0 (ok), 1 (errors found) or
// 2 (bundle unreadable).
var ValidateCmd = &cobra.Command{
	Use:   "validate BUNDLE",
	Short: "Check a bundle's structure and metadata",
	Long: `Validate BUNDLE and report every issue found.

Exit status is 0 when no error-severity issue is found, 1 when at least
one is, and 2 when the bundle cannot be read at all.

Examples:
  omnispatial validate run1.zarr
  omnispatial validate s3://lab-bundles/run1.zarr --format spatialdata
  omnispatial validate run1.zarr --json report.json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	ValidateCmd.Flags().String("format", ngff.FormatNGFF, "Bundle format: ngff or spatialdata")
	ValidateCmd.Flags().String("json", "", "Write the report as JSON to this file (- for stdout)")
	ValidateCmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this textfile")
}

func runValidate(cmd *cobra.Command, args []string) error {
	target := args[0]
	format, _ := cmd.Flags().GetString("format")
	jsonPath, _ := cmd.Flags().GetString("json")
	metricsFile, _ := cmd.Flags().GetString("metrics-file")
	ctx := cmd.Context()

	rec := metrics.New()
	defer writeMetrics(rec, metricsFile)

	v := validate.New(logger.ComponentLogger("validate"), rec, storeOptions())
	report, err := v.Bundle(ctx, target, format)
	if err != nil {
		return &ExitError{Code: ExitUnreadable, Err: err}
	}

	if cat := openCatalog(ctx); cat != nil {
		recordValidation(cmd, cat, target, format, report)
		cat.Close()
	}

	switch jsonPath {
	case "":
		if err := renderReport(cmd, report); err != nil {
			return err
		}
	case "-":
		if err := printJSON(cmd, report); err != nil {
			return err
		}
	default:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return errors.Wrap(err, "format report")
		}
		if err := os.WriteFile(jsonPath, append(data, '\n'), 0o644); err != nil {
			return errors.Wrapf(err, "write report %s", jsonPath)
		}
		if err := renderReport(cmd, report); err != nil {
			return err
		}
		pterm.Info.Printfln("Report written to %s", jsonPath)
	}

	if code := report.ExitCode(); code != ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}

func recordValidation(cmd *cobra.Command, cat *catalog.Catalog, target, format string, r validate.Report) {
	ctx := cmd.Context()
	warnings := 0
	for _, is := range r.Issues {
		if is.Severity == validate.SeverityWarning {
			warnings++
		}
	}
	v := catalog.Validation{
		Target:   target,
		Format:   format,
		OK:       r.OK,
		Errors:   len(r.Errors()),
		Warnings: warnings,
	}
	if id, err := cat.LatestConversion(ctx, target); err == nil {
		v.ConversionID = id
	}
	if _, err := cat.RecordValidation(ctx, v); err != nil {
		logger.Warnw("failed to record validation", logger.FieldError, err.Error())
	}
}
