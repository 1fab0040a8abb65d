package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"henkan/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration if none exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			path = config.ConfigPath()
		}
		if _, created, err := config.LoadOrCreate(path); err != nil {
			return err
		} else if created {
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", path)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("config")
		loader := config.NewLoader(path)
		cfg, err := loader.Load()
		if err != nil {
			return fmt.Errorf("load config %s: %w", loader.Path(), err)
		}
		format, _ := cmd.Flags().GetString("format")
		return config.Encode(cmd.OutOrStdout(), cfg, format)
	},
}

func init() {
	configShowCmd.Flags().String("format", "toml", "Output format (toml, json, yaml)")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
