package commands

import (
	"github.com/apod-desktop/apod/internal/config"
	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	configForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the current configuration to a TOML file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().StringVar(&configPath, "path", "", "Config file path (default $HOME/.apod-desktop/config.toml)")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := configPath
	if path == "" {
		path, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}

	if err := cfg.Save(path, configForce); err != nil {
		return errors.Wrap(err, "config init failed")
	}

	successColor.Printf("Wrote %s\n", path)
	return nil
}
