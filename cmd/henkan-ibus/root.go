//go:build linux

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"henkan/internal/config"
	"henkan/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "henkan-ibus",
	Short:         "henkan IBus input method engine",
	Long:          `henkan-ibus exports the henkan Japanese input method engine on the IBus bus.`,
	RunE:          runEngine,
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
	rootCmd.Flags().Bool("ibus", false, "Started by ibus-daemon")
	rootCmd.Flags().String("engine", "", "Engine name (overrides engine.name)")
	rootCmd.Flags().String("metrics-listen", "", "Metrics listen address (overrides metrics.engine_listen)")
}

// loadConfig loads and validates the configuration. The loader stays
// usable for hot reload.
func loadConfig(cmd *cobra.Command) (*config.Loader, *config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", loader.Path(), err)
	}
	return loader, cfg, nil
}

// watchConfig applies log level changes from the config file until ctx is
// done.
func watchConfig(ctx context.Context, loader *config.Loader, logger *logging.Logger) {
	loader.WatchLogLevel(logger)
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload unavailable", "path", loader.Path(), "error", err)
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-loader.Errors():
				logger.Warn("config reload rejected", "path", loader.Path(), "error", err)
			}
		}
	}()
}
