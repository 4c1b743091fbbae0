package commands

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jameshyojaelee/omnispatial/config"
	"github.com/jameshyojaelee/omnispatial/errors"
)

// ConfigCmd inspects and initializes configuration.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize configuration",
	Long: `Configuration is merged from /etc/omnispatial/config.toml,
~/.omnispatial/config.toml and the nearest omnispatial.toml above the
working directory. OMNISPATIAL_* environment variables override files,
e.g. OMNISPATIAL_WRITER_COMPRESSOR=lz4.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		cfg := currentConfig()
		var data []byte
		var err error
		switch format {
		case "toml":
			data, err = config.Marshal(cfg)
		case "yaml":
			redacted := *cfg
			redacted.Store.S3.AccessKeyID = ""
			redacted.Store.S3.SecretAccessKey = ""
			redacted.Store.S3.SessionToken = ""
			data, err = yaml.Marshal(redacted)
		default:
			return errors.NewInvalidRequestError("unknown output format %q (toml or yaml)", format)
		}
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		force, _ := cmd.Flags().GetBool("force")
		if path == "" {
			path = config.UserConfigPath()
		}
		if _, err := os.Stat(path); err == nil && !force {
			return errors.WithHint(errors.Newf("%s already exists", path),
				"pass --force to overwrite it (the old file is kept as .back1)")
		}
		if err := config.Save(path, config.Default()); err != nil {
			return err
		}
		pterm.Success.Printfln("Wrote %s", path)
		return nil
	},
}

func init() {
	ConfigCmd.AddCommand(configShowCmd, configInitCmd)
	configShowCmd.Flags().String("format", "toml", "Output format: toml or yaml")
	configInitCmd.Flags().String("path", "", "Destination (default: ~/.omnispatial/config.toml)")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
}
