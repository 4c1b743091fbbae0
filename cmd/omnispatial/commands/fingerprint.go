package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/ngff"
	"github.com/jameshyojaelee/omnispatial/store"
)

// FingerprintCmd prints the content hash of a bundle.
var FingerprintCmd = &cobra.Command{
	Use:   "fingerprint BUNDLE",
	Short: "Print a content hash of every object in a bundle",
	Long: `Hash every object key and its bytes in key order. Two bundles with the
same fingerprint hold byte-identical objects.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cmd.Context(), args[0], storeOptions())
		if err != nil {
			return errors.Wrapf(err, "open %s", args[0])
		}
		fp, err := ngff.Fingerprint(cmd.Context(), st)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), fp)
		return err
	},
}
