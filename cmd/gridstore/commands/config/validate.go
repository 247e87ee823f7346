package config

import (
	"fmt"

	"github.com/marmos91/gridstore/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the gridstore configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  gridstore config validate

  # Validate specific config file
  gridstore config validate --config /etc/gridstore/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Server.AuthSecret == "" {
		warnings = append(warnings, "No auth secret configured - gateway mutations will be unauthenticated")
	}
	if cfg.Store.Backend == config.BackendMemory {
		warnings = append(warnings, "Memory backend configured - data is lost on restart")
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Store backend:   %s\n", cfg.Store.Backend)
	fmt.Printf("  Listen address:  %s\n", cfg.Server.Listen)
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)

	return nil
}
