package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"henkan/internal/client"
	"henkan/internal/config"
	"henkan/internal/dictionary"
	"henkan/internal/health"
	"henkan/internal/ipc"
	"henkan/internal/logging"
	"henkan/internal/metrics"
	"henkan/internal/session"
	"henkan/internal/store"
)

func runServer(cmd *cobra.Command, _ []string) error {
	loader, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer loader.Close()
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := cfg.NewLogger("henkan-server")
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	crash := logging.NewCrashHandler(logging.CrashHandlerConfig{
		CrashDir:  logging.DefaultCrashDir(),
		Version:   version,
		Component: "henkan-server",
		Logger:    logger.Logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	watchConfig(ctx, loader, logger)

	maxConns, _ := cmd.Flags().GetInt("max-connections")
	err = errors.New("server crashed")
	crash.Recover("server", func() {
		err = serve(ctx, cfg, maxConns, logger.Logger)
	})
	return err
}

func serve(ctx context.Context, cfg *config.Config, maxConns int, logger *slog.Logger) error {
	dict, err := client.LoadDictionary(cfg.Dictionary, logger)
	if err != nil {
		return err
	}

	var history session.HistoryStore
	var st *store.Store
	if cfg.Store.Path != "" {
		st, err = store.Open(cfg.Store.Path, cfg.Store.BusyTimeout())
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		history = st
	}

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	scfg := ipc.DefaultServerConfig()
	scfg.SocketPath = cfg.Session.SocketPath
	scfg.Version = version
	if maxConns > 0 {
		scfg.MaxConnections = maxConns
	}
	srv := ipc.NewServer(scfg, func() session.Client {
		return client.NewLocal(cfg, dict, history, logger)
	}, logger, m)
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	checker := health.NewChecker()
	checker.Register("socket", true, health.SocketCheck(srv.SocketPath()))
	checker.Register("dictionary", false, health.CountCheck(dict.Len, 1))
	if st != nil {
		checker.Register("store", true, health.PingCheck(st.DB().PingContext))
	}
	checker.SetReady(true)

	if cfg.Metrics.Listen == "" {
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		checker.SetReady(false)
	}()
	return metrics.Serve(ctx, cfg.Metrics.Listen, newRouter(reg, checker, srv, dict), logger)
}

func newRouter(reg *prometheus.Registry, checker *health.Checker, srv *ipc.Server, dict *dictionary.Dictionary) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", metrics.Handler(reg))
	checker.Routes(r, func() map[string]any {
		return map[string]any{
			"version":     version,
			"connections": srv.ConnCount(),
			"uptime":      srv.Uptime().Round(time.Second).String(),
			"socket":      srv.SocketPath(),
			"entries":     dict.Len(),
		}
	})
	return r
}
