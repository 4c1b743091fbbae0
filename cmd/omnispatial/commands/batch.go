package commands

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/jameshyojaelee/omnispatial/batch"
	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/logger"
	"github.com/jameshyojaelee/omnispatial/metrics"
	"github.com/jameshyojaelee/omnispatial/store"
)

// BatchCmd converts several datasets in parallel.
var BatchCmd = &cobra.Command{
	Use:   "batch INPUT... --out-dir DIR",
	Short: "Convert several datasets in parallel",
	Long: `Convert every INPUT into DIR/<name>.zarr, running up to --workers
conversions at once. With --workers 0 the count is derived from available
memory. A failed dataset does not stop the others; the command exits 1 if
any failed.

Examples:
  omnispatial batch runs/* --out-dir bundles/
  omnispatial batch run1 run2 --out-dir s3://lab-bundles/2026-10 --workers 2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	addWriterFlags(BatchCmd)
	BatchCmd.Flags().String("out-dir", "", "Directory or s3:// prefix receiving the bundles (required)")
	BatchCmd.Flags().String("vendor", "", "Adapter name for every input (default: auto-detect)")
	BatchCmd.Flags().Int("workers", -1, "Parallel conversions (default: batch.workers from config, 0 = automatic)")
	BatchCmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this textfile")
	_ = BatchCmd.MarkFlagRequired("out-dir")
}

// batchDestination names the bundle for input under outDir.
func batchDestination(outDir, input string) string {
	name := filepath.Base(filepath.Clean(input))
	name = strings.TrimSuffix(name, filepath.Ext(name)) + ".zarr"
	if store.IsRemote(outDir) || strings.HasPrefix(outDir, "mem://") {
		return strings.TrimSuffix(outDir, "/") + "/" + name
	}
	return filepath.Join(outDir, name)
}

func runBatch(cmd *cobra.Command, args []string) error {
	outDir, _ := cmd.Flags().GetString("out-dir")
	vendor, _ := cmd.Flags().GetString("vendor")
	workers, _ := cmd.Flags().GetInt("workers")
	metricsFile, _ := cmd.Flags().GetString("metrics-file")
	if workers < 0 {
		workers = currentConfig().Batch.Workers
	}
	workers = batch.WorkerCount(workers)

	opts, err := writerOptions(cmd)
	if err != nil {
		return err
	}
	reg, err := newRegistry()
	if err != nil {
		return err
	}

	jobs := make([]batch.Job, len(args))
	for i, input := range args {
		jobs[i] = batch.Job{Input: input, Destination: batchDestination(outDir, input), Adapter: vendor}
	}

	rec := metrics.New()
	defer writeMetrics(rec, metricsFile)
	ctx := logger.WithRunID(cmd.Context(), uuid.NewString())
	cat := openCatalog(ctx)
	if cat != nil {
		defer cat.Close()
	}

	pterm.Info.Printfln("Converting %d datasets with %d workers", len(jobs), workers)
	results, err := batch.Run(ctx, jobs, workers, func(ctx context.Context, job batch.Job) (string, error) {
		c, err := convert(ctx, reg, job.Input, job.Destination, job.Adapter, opts, rec)
		recordConversion(ctx, cat, c, err)
		return c.Location, err
	}, logger.ComponentLogger("batch"))
	if err != nil && results == nil {
		return err
	}
	if renderErr := renderBatch(cmd, results); renderErr != nil {
		return renderErr
	}
	if err != nil {
		return err
	}
	if failed := batch.Failed(results); failed > 0 {
		return &ExitError{Code: ExitFailed, Err: errors.Newf("%d of %d conversions failed", failed, len(results))}
	}
	pterm.Success.Printfln("Converted %d datasets into %s", len(results), outDir)
	return nil
}
