package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"henkan/internal/config"
	"henkan/internal/logging"
	"henkan/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "henkan-quality",
	Short:         "Conversion quality harness for henkan",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the configuration file")
	rootCmd.PersistentFlags().String("db", "", "Results database (overrides store.path)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Store.Path = db
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := cfg.Logging.LoggerConfig("henkan-quality")
	if err != nil {
		return nil, err
	}
	// Reports go to stdout; keep logs off it.
	if lc.Output == "stdout" {
		lc.Output = "stderr"
	}
	return logging.New(lc)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if cfg.Store.Path == "" {
		return nil, fmt.Errorf("no results database configured; set store.path or --db")
	}
	return store.Open(cfg.Store.Path, cfg.Store.BusyTimeout())
}
