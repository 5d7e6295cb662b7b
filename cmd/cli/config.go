package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anstrom/mcscan/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with default settings",
	Long: `Write the default configuration to path (default ./config.yaml). Global flags
and MCSCAN_* environment variables are applied on top of the defaults.`,
	Example: `  mcscan config init
  mcscan --db scans.db config init /etc/mcscan/config.yaml --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := defaultConfigFile
		if len(args) == 1 {
			path = args[0]
		}
		return writeDefaultConfig(path, configForce)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
}

// writeDefaultConfig saves the default configuration, with overrides
// applied, to path.
func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, pass --force to overwrite", path)
	}

	cfg := config.Default()
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	return nil
}
