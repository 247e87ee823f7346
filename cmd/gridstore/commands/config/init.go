package config

import (
	"fmt"
	"os"

	"github.com/marmos91/gridstore/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a configuration file populated with defaults.

By default the file is created at $XDG_CONFIG_HOME/gridstore/config.yaml.
Use --config to choose another path.

Examples:
  # Initialize with default location
  gridstore config init

  # Initialize at a custom path
  gridstore config init --config /etc/gridstore/config.yaml

  # Overwrite an existing file
  gridstore config init --force`,
	RunE: runConfigInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	if err := config.SaveConfig(config.DefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to pick a store backend")
	fmt.Println("  2. Start the gateway with: gridstore serve")
	fmt.Printf("  3. Or specify custom config: gridstore serve --config %s\n", configPath)

	return nil
}
