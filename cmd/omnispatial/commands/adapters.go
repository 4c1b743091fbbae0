package commands

import (
	"github.com/spf13/cobra"
)

// AdaptersCmd lists the registered adapters.
var AdaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List the registered dataset adapters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		reg, err := newRegistry()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, reg.List())
		}
		return renderAdapters(cmd, reg.List())
	},
}

func init() {
	AdaptersCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}
