package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/javi11/nzbqueued/internal/config"
)

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize the configuration file",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig(".")
			if err := config.SaveToFile(cfg, configFile); err != nil {
				return err
			}
			fmt.Printf("wrote default configuration to %s\n", configFile)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			fmt.Println("configuration is valid")
			return nil
		},
	})

	rootCmd.AddCommand(configCmd)
}
