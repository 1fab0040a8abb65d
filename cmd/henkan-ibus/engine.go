//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"henkan/internal/client"
	"henkan/internal/config"
	"henkan/internal/health"
	"henkan/internal/ime"
	"henkan/internal/logging"
	"henkan/internal/metrics"
)

func runEngine(cmd *cobra.Command, _ []string) error {
	loader, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer loader.Close()
	if name, _ := cmd.Flags().GetString("engine"); name != "" {
		cfg.Engine.Name = name
	}
	if addr, _ := cmd.Flags().GetString("metrics-listen"); addr != "" {
		cfg.Metrics.EngineListen = addr
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := cfg.NewLogger("henkan-ibus")
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	crash := logging.NewCrashHandler(logging.CrashHandlerConfig{
		CrashDir:  logging.DefaultCrashDir(),
		Version:   version,
		Component: "henkan-ibus",
		Logger:    logger.Logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	watchConfig(ctx, loader, logger)

	err = errors.New("engine crashed")
	crash.Recover("engine", func() {
		err = serveEngine(ctx, cfg, logger.Logger)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveEngine runs until the bus disconnects or ctx is cancelled.
func serveEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	sess, err := client.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	mode, err := cfg.InitialMode()
	if err != nil {
		return err
	}
	turnOn, err := cfg.TurnOn()
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	engine := ime.NewEngine(ime.Options{
		Client:          sess,
		TurnOn:          turnOn,
		Logger:          logger,
		EngineName:      cfg.Engine.Name,
		InitialMode:     mode,
		SyncInterval:    cfg.Engine.SyncInterval.Duration,
		PageSize:        uint32(cfg.Dictionary.PageSize),
		SettingsSection: cfg.Engine.SettingsSection,
		ToolsAvailable:  cfg.ToolsAvailable(),
		IconDir:         cfg.Engine.IconDir,
		Metrics:         metrics.New(reg),
	})
	defer engine.Close()

	if cfg.Engine.SettingsPath != "" {
		w := config.NewSettingsWatcher(cfg.Engine.SettingsPath, engine.OnConfigChanged, logger)
		if err := w.Start(); err != nil {
			logger.Warn("settings watcher unavailable", "path", cfg.Engine.SettingsPath, "error", err)
		} else {
			defer w.Close()
		}
	}

	icfg := ime.DefaultIBusConfig()
	icfg.SettingsSection = cfg.Engine.SettingsSection
	binding := ime.NewIBusBinding(engine, icfg, logger)
	if err := binding.Start(); err != nil {
		return err
	}
	defer binding.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if addr := cfg.Metrics.EngineListen; addr != "" {
		checker := health.NewChecker()
		checker.SetReady(true)
		go func() {
			if err := metrics.Serve(ctx, addr, newRouter(reg, checker, engine), logger); err != nil {
				logger.Warn("metrics endpoint stopped", "addr", addr, "error", err)
			}
		}()
	}

	err = binding.Run(ctx)
	if errors.Is(err, ime.ErrBusDisconnected) {
		logger.Info("ibus disconnected, exiting")
		return nil
	}
	return err
}
