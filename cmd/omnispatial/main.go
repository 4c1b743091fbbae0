package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/jameshyojaelee/omnispatial/cmd/omnispatial/commands"
	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/logger"
)

var rootCmd = &cobra.Command{
	Use:   "omnispatial",
	Short: "Convert spatial-omics datasets into validated NGFF bundles",
	Long: `omnispatial - spatial-omics dataset conversion and validation.

Reads vendor outputs through adapters, writes chunked OME-NGFF style zarr
bundles (images, rasterized labels and feature tables) to local disk or S3,
and validates existing bundles.

Available commands:
  convert     - Convert one dataset into a bundle
  batch       - Convert several datasets in parallel
  validate    - Check a bundle (exit 0 ok, 1 errors, 2 unreadable)
  fingerprint - Content hash of a bundle
  adapters    - List registered adapters
  history     - Recent conversions and validations
  config      - Show or initialize configuration

Examples:
  omnispatial convert ./run1 --out run1.zarr
  omnispatial validate run1.zarr --json report.json
  omnispatial batch runs/* --out-dir bundles/ --workers 4`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		configPath, _ := cmd.Flags().GetString("config")
		return commands.Setup(configPath, verbosity, jsonLogs)
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON on stderr")
	rootCmd.PersistentFlags().String("config", "", "Configuration file (default: merged system, user and project files)")

	rootCmd.AddCommand(commands.ConvertCmd)
	rootCmd.AddCommand(commands.BatchCmd)
	rootCmd.AddCommand(commands.ValidateCmd)
	rootCmd.AddCommand(commands.FingerprintCmd)
	rootCmd.AddCommand(commands.AdaptersCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logger.Cleanup()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return commands.ExitOK
	}
	var exit *commands.ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			pterm.Error.Println(exit.Err.Error())
			printHints(exit.Err)
		}
		return exit.Code
	}
	pterm.Error.Println(err.Error())
	printHints(err)
	return commands.ExitFailed
}

func printHints(err error) {
	for _, hint := range errors.GetAllHints(err) {
		pterm.Info.Println(hint)
	}
}
