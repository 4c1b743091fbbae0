package commands

import (
	"github.com/spf13/cobra"

	"github.com/jameshyojaelee/omnispatial/errors"
)

// HistoryCmd shows recent conversions and validations.
var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent conversions and validations",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyLimitFlag int

func init() {
	HistoryCmd.Flags().IntVar(&historyLimitFlag, "limit", 20, "Number of entries to show")
	HistoryCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if !currentConfig().Catalog.Enabled {
		return errors.WithHint(errors.New("the catalog is disabled"),
			"set catalog.enabled = true in the configuration")
	}
	cat := openCatalog(cmd.Context())
	if cat == nil {
		return errors.Newf("catalog %s could not be opened", currentConfig().CatalogPath())
	}
	defer cat.Close()

	entries, err := cat.Recent(cmd.Context(), historyLimitFlag)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, entries)
	}
	return renderHistory(cmd, entries)
}
